/*

This file contains the registry-side view of a strategy adapter: its
lifecycle state, health state, and operational limits.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// ActivationState is the admin-controlled lifecycle state of an adapter.
type ActivationState string

const (
	ActivationInactive   ActivationState = "INACTIVE"
	ActivationActive     ActivationState = "ACTIVE"
	ActivationDeprecated ActivationState = "DEPRECATED"
)

// HealthState is derived on every gated read from a live health query plus
// the registry's own circuit logic. It is never cached across operations.
type HealthState string

const (
	HealthHealthy   HealthState = "HEALTHY"
	HealthDegraded  HealthState = "DEGRADED"
	HealthUnhealthy HealthState = "UNHEALTHY"
)

// AdapterLimits caps how much capital may flow into an adapter.
type AdapterLimits struct {
	// DailyLimit is the maximum amount that may be deployed into the
	// adapter within a single UTC day. Zero means unlimited.
	DailyLimit sdkmath.Int `json:"daily_limit"`
	// SingleOpLimit is the maximum amount a single deposit or rebalance
	// may deploy. Zero means unlimited.
	SingleOpLimit sdkmath.Int `json:"single_op_limit"`
}

// AdapterRecord is the registry's bookkeeping entry for one adapter.
type AdapterRecord struct {
	ID              string          `json:"id"`
	Handle          string          `json:"handle"` // address/endpoint of the backend, informational
	ActivationState ActivationState `json:"activation_state"`
	Limits          AdapterLimits   `json:"limits"`

	// CumulativeDeployed is the principal the vault believes is currently
	// deployed into this adapter, net of confirmed withdrawals.
	CumulativeDeployed sdkmath.Int `json:"cumulative_deployed"`

	// DeployedToday and DeployedDay implement the daily limit window.
	DeployedToday sdkmath.Int `json:"deployed_today"`
	DeployedDay   time.Time   `json:"deployed_day"`

	// ConsecutiveFailures drives the registry circuit: at and beyond the
	// circuit threshold the adapter is Unhealthy until an admin reset.
	ConsecutiveFailures int  `json:"consecutive_failures"`
	CircuitTripped      bool `json:"circuit_tripped"`

	RegisteredAt time.Time `json:"registered_at"`
}

// AdapterStatus is the externally visible snapshot of an adapter, combining
// the stored record with the live-derived health state.
type AdapterStatus struct {
	Record      AdapterRecord `json:"record"`
	Health      HealthState   `json:"health"`
	TotalAssets sdkmath.Int   `json:"total_assets"`
	YieldRate   string        `json:"estimated_yield_rate"`
}
