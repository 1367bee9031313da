package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// RebalanceOutcome classifies how a rebalance operation concluded.
type RebalanceOutcome string

const (
	RebalanceCompleted          RebalanceOutcome = "COMPLETED"
	RebalancePartiallyCompleted RebalanceOutcome = "PARTIALLY_COMPLETED"
	RebalanceRejected           RebalanceOutcome = "REJECTED"
)

// RebalanceResult records one executed (or rejected) rebalance. It is
// created at the start of a rebalance call and consumed entirely within
// that call; there is no resumable multi-step rebalance state.
type RebalanceResult struct {
	OperationID   string           `json:"operation_id"` // uuid
	SourceAdapter string           `json:"source_adapter"`
	TargetAdapter string           `json:"target_adapter"`
	Requested     sdkmath.Int      `json:"amount_requested"`
	Withdrawn     sdkmath.Int      `json:"amount_withdrawn"` // confirmed out of source
	Deployed      sdkmath.Int      `json:"amount_deployed"`  // confirmed into target
	Outcome       RebalanceOutcome `json:"outcome"`
	Message       string           `json:"message,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Recommendation is the advisory service's suggested reallocation. The
// engine validates it independently and may reject it regardless of the
// advertised confidence.
type Recommendation struct {
	SourceAdapter string      `json:"source_adapter"`
	TargetAdapter string      `json:"target_adapter"`
	Amount        sdkmath.Int `json:"amount"`
	Confidence    float64     `json:"confidence"`
	Reason        string      `json:"reason,omitempty"`
}
