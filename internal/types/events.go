/*

This file contains the audit event types emitted by the vault engine. Every
ledger-mutating operation produces exactly one event carrying enough data
(holder, amounts, adapter identities, resulting share totals) for an external
auditor to reconstruct ledger state from the event stream alone.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// EventType identifies the kind of vault operation an event records.
type EventType string

const (
	EventDeposit           EventType = "DEPOSIT"
	EventWithdraw          EventType = "WITHDRAW"
	EventRebalance         EventType = "REBALANCE"
	EventEmergencyWithdraw EventType = "EMERGENCY_WITHDRAW"
	EventPause             EventType = "PAUSE"
	EventUnpause           EventType = "UNPAUSE"
	EventAdapterRegistered EventType = "ADAPTER_REGISTERED"
	EventAdapterActivation EventType = "ADAPTER_ACTIVATION"
	EventLimitsUpdated     EventType = "LIMITS_UPDATED"
	EventHealthReset       EventType = "HEALTH_RESET"
	EventMinDepositUpdated EventType = "MIN_DEPOSIT_UPDATED"
)

// Event is a single audit record. Amount fields that do not apply to the
// event type are zero.
type Event struct {
	EventID   string    `json:"event_id"` // uuid
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Actor is the holder for depositor operations and the admin subject
	// for administrative operations.
	Actor string `json:"actor,omitempty"`

	SourceAdapter string `json:"source_adapter,omitempty"`
	TargetAdapter string `json:"target_adapter,omitempty"`

	AmountRequested sdkmath.Int `json:"amount_requested"`
	AmountActual    sdkmath.Int `json:"amount_actual"`
	SharesDelta     sdkmath.Int `json:"shares_delta"`

	// Resulting ledger totals after the operation was applied.
	TotalSharesAfter sdkmath.Int `json:"total_shares_after"`
	TotalAssetsAfter sdkmath.Int `json:"total_assets_after"`
	IdleAfter        sdkmath.Int `json:"idle_after"`

	Outcome string `json:"outcome,omitempty"`
	Note    string `json:"note,omitempty"`
}
