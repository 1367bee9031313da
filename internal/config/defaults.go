/*

This file contains the default operational limits for newly registered
adapters. Admins can override them per adapter after registration.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/vectis-finance/yvm/internal/types"
)

// CircuitFailureThreshold is the number of consecutive failed operations
// after which the registry forces an adapter Unhealthy regardless of its
// self-reported status. Recovery requires an administrative reset; there is
// no automatic re-arm, which would oscillate on a flapping backend.
const CircuitFailureThreshold = 3

// DefaultAdapterLimits provides the baseline caps applied to an adapter at
// registration time when the admin does not specify limits.
//
// IMPORTANT: These defaults are calibrated for cautious onboarding of a new
// backend. A freshly registered adapter has no operational track record, so
// it starts with tight caps that an admin widens once it has proven itself.
var DefaultAdapterLimits = types.AdapterLimits{
	// DailyLimit caps total inflow per UTC day. 1,000,000 base units keeps
	// first-day exposure to a new backend bounded even if the advisory
	// service repeatedly recommends it.
	DailyLimit: sdkmath.NewInt(1_000_000),

	// SingleOpLimit caps any one deposit or rebalance leg. 250,000 base
	// units forces large reallocations to happen across several cycles,
	// each re-checking the adapter's live health.
	SingleOpLimit: sdkmath.NewInt(250_000),
}
