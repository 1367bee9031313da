/*

This file contains the StrategyAdapter capability: the uniform surface every
yield backend exposes to the vault. The engine depends only on this
capability, never on backend internals, and treats every call as fallible
and every returned amount as the ground truth for what actually happened.

*/

package adapter

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAdapterNotFound   = errors.New("adapter is not registered")
	ErrDuplicateAdapter  = errors.New("adapter id is already registered")
	ErrAdapterInactive   = errors.New("adapter is not active")
	ErrAdapterUnhealthy  = errors.New("adapter is not healthy")
	ErrAdapterCallFailed = errors.New("adapter call failed")
	ErrLimitExceeded     = errors.New("adapter limit exceeded")
	ErrInvalidAdapterID  = errors.New("adapter id is invalid")
	ErrCapitalDeployed   = errors.New("adapter still holds deployed capital")
)

// StrategyAdapter is implemented by every yield backend. Amounts are in
// base asset units. Implementations may fulfill less than requested; the
// returned amount is authoritative.
type StrategyAdapter interface {
	// Deposit deploys amount into the backend and returns the amount
	// actually accepted.
	Deposit(amount sdkmath.Int) (sdkmath.Int, error)

	// Withdraw pulls amount out of the backend and returns the amount
	// actually returned, which may be less than requested.
	Withdraw(amount sdkmath.Int) (sdkmath.Int, error)

	// TotalAssets reports the current value the backend manages for the
	// vault, including accrued yield.
	TotalAssets() (sdkmath.Int, error)

	// EstimatedYieldRate reports the backend's current annualized yield
	// estimate as a decimal fraction (0.05 == 5%).
	EstimatedYieldRate() (sdkmath.LegacyDec, error)

	// IsHealthy is the backend's self-reported health. The registry layers
	// its own circuit logic on top of this signal.
	IsHealthy() (bool, error)
}
