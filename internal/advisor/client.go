/*

This file contains the client for the external allocation advisory service.
The service suggests a (source, target, amount) reallocation; the vault
engine validates every suggestion independently and may reject it regardless
of the advertised confidence. The advisory boundary is JSON over HTTP.

*/

package advisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/vectis-finance/yvm/internal/logger"
	"github.com/vectis-finance/yvm/internal/types"
)

const requestTimeout = 15 * time.Second

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidEndpoint   = errors.New("advisor endpoint is invalid")
	ErrRequestFailed     = errors.New("advisor request failed")
	ErrInvalidResponse   = errors.New("advisor response is invalid")
	ErrNoRecommendation  = errors.New("advisor has no recommendation")
	ErrAmountUnparseable = errors.New("advisor amount is not a valid integer")
)

// recommendationPayload is the wire shape of the advisory response. Amounts
// travel as decimal strings to avoid JSON number precision loss.
type recommendationPayload struct {
	SourceAdapter string  `json:"source_adapter"`
	TargetAdapter string  `json:"target_adapter"`
	Amount        string  `json:"amount"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason,omitempty"`
}

// Client fetches allocation recommendations over HTTP.
type Client struct {
	log      zerolog.Logger
	baseURL  string
	httpDoer *http.Client
}

// NewClient validates the endpoint and builds a client with a bounded
// request timeout.
func NewClient(baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" || (!strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://")) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, baseURL)
	}
	return &Client{
		log:      logger.GetForComponent("advisor_client"),
		baseURL:  baseURL,
		httpDoer: &http.Client{Timeout: requestTimeout},
	}, nil
}

// FetchRecommendation asks the advisory service for its current suggested
// reallocation. A 204 means the advisor sees nothing worth moving, which is
// reported as ErrNoRecommendation so callers can skip the cycle cleanly.
func (c *Client) FetchRecommendation() (types.Recommendation, error) {
	url := c.baseURL + "/v1/recommendation"

	resp, err := c.httpDoer.Get(url)
	if err != nil {
		return types.Recommendation{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return types.Recommendation{}, ErrNoRecommendation
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.Recommendation{}, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload recommendationPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return types.Recommendation{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	rec, err := validatePayload(payload)
	if err != nil {
		return types.Recommendation{}, err
	}

	c.log.Debug().
		Str("source", rec.SourceAdapter).
		Str("target", rec.TargetAdapter).
		Str("amount", rec.Amount.String()).
		Float64("confidence", rec.Confidence).
		Msg("Recommendation fetched")

	return rec, nil
}

// validatePayload enforces the wire contract before anything reaches the
// engine.
func validatePayload(p recommendationPayload) (types.Recommendation, error) {
	if p.SourceAdapter == "" || p.TargetAdapter == "" {
		return types.Recommendation{}, fmt.Errorf("%w: missing adapter ids", ErrInvalidResponse)
	}
	if p.SourceAdapter == p.TargetAdapter {
		return types.Recommendation{}, fmt.Errorf("%w: source equals target", ErrInvalidResponse)
	}
	amount, ok := sdkmath.NewIntFromString(p.Amount)
	if !ok {
		return types.Recommendation{}, fmt.Errorf("%w: %q", ErrAmountUnparseable, p.Amount)
	}
	if !amount.IsPositive() {
		return types.Recommendation{}, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidResponse, amount)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return types.Recommendation{}, fmt.Errorf("%w: confidence %f out of [0,1]", ErrInvalidResponse, p.Confidence)
	}

	return types.Recommendation{
		SourceAdapter: p.SourceAdapter,
		TargetAdapter: p.TargetAdapter,
		Amount:        amount,
		Confidence:    p.Confidence,
		Reason:        p.Reason,
	}, nil
}
