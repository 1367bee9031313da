package advisor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveJSON(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/recommendation", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != "" {
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRecommendation(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{
		"source_adapter": "alpha",
		"target_adapter": "beta",
		"amount": "125000",
		"confidence": 0.83,
		"reason": "beta yield 220bps above alpha"
	}`)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	rec, err := c.FetchRecommendation()
	require.NoError(t, err)
	assert.Equal(t, "alpha", rec.SourceAdapter)
	assert.Equal(t, "beta", rec.TargetAdapter)
	assert.Equal(t, sdkmath.NewInt(125000), rec.Amount)
	assert.InDelta(t, 0.83, rec.Confidence, 1e-9)
}

func TestFetchNoRecommendation(t *testing.T) {
	srv := serveJSON(t, http.StatusNoContent, "")

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.FetchRecommendation()
	assert.ErrorIs(t, err, ErrNoRecommendation)
}

func TestFetchServerError(t *testing.T) {
	srv := serveJSON(t, http.StatusInternalServerError, "boom")

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.FetchRecommendation()
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestFetchRejectsInvalidPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing adapters", `{"amount": "100", "confidence": 0.5}`},
		{"same adapter", `{"source_adapter": "a", "target_adapter": "a", "amount": "100", "confidence": 0.5}`},
		{"bad amount", `{"source_adapter": "a", "target_adapter": "b", "amount": "12.5", "confidence": 0.5}`},
		{"zero amount", `{"source_adapter": "a", "target_adapter": "b", "amount": "0", "confidence": 0.5}`},
		{"confidence out of range", `{"source_adapter": "a", "target_adapter": "b", "amount": "100", "confidence": 1.7}`},
		{"not json", `nope`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serveJSON(t, http.StatusOK, tc.body)
			c, err := NewClient(srv.URL)
			require.NoError(t, err)

			_, err = c.FetchRecommendation()
			assert.Error(t, err)
		})
	}
}

func TestNewClientValidatesEndpoint(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = NewClient("ftp://advisor")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}
