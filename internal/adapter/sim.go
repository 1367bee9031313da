/*

This file contains a simulated strategy backend. It is the sim-mode
counterpart to a live integration: it accrues yield on demand, applies a
configurable slippage haircut on withdrawals, and supports failure and
health injection so the engine's failure paths can be exercised without a
real backend.

*/

package adapter

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/vectis-finance/yvm/internal/logger"
)

var (
	ErrSimDepositFailure  = errors.New("simulated deposit failure")
	ErrSimWithdrawFailure = errors.New("simulated withdrawal failure")
	ErrSimProbeFailure    = errors.New("simulated health probe failure")
)

// SimAdapter is an in-memory StrategyAdapter.
type SimAdapter struct {
	log  zerolog.Logger
	name string

	balance   sdkmath.Int
	yieldRate sdkmath.LegacyDec

	slippageBps int64 // haircut applied to withdrawals, basis points

	healthy       bool
	failDeposits  bool
	failWithdraws bool
	failProbes    bool
}

// NewSimAdapter creates a healthy simulated backend with a zero balance.
// yieldRate is the annualized rate it reports and accrues.
func NewSimAdapter(name string, yieldRate sdkmath.LegacyDec) *SimAdapter {
	return &SimAdapter{
		log:       logger.GetForComponent("sim_adapter"),
		name:      name,
		balance:   sdkmath.ZeroInt(),
		yieldRate: yieldRate,
		healthy:   true,
	}
}

// Deposit accepts the full amount unless deposit failure is injected.
func (s *SimAdapter) Deposit(amount sdkmath.Int) (sdkmath.Int, error) {
	if s.failDeposits {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrSimDepositFailure, s.name)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("sim adapter %s: deposit amount must be positive", s.name)
	}
	s.balance = s.balance.Add(amount)
	return amount, nil
}

// Withdraw returns up to amount, capped at the simulated balance and
// reduced by the configured slippage haircut.
func (s *SimAdapter) Withdraw(amount sdkmath.Int) (sdkmath.Int, error) {
	if s.failWithdraws {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrSimWithdrawFailure, s.name)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("sim adapter %s: withdraw amount must be positive", s.name)
	}

	actual := amount
	if actual.GT(s.balance) {
		actual = s.balance
	}
	if s.slippageBps > 0 {
		haircut := actual.MulRaw(s.slippageBps).QuoRaw(10_000)
		actual = actual.Sub(haircut)
	}
	s.balance = s.balance.Sub(actual)
	return actual, nil
}

// TotalAssets reports the simulated managed value.
func (s *SimAdapter) TotalAssets() (sdkmath.Int, error) {
	return s.balance, nil
}

// EstimatedYieldRate reports the configured rate.
func (s *SimAdapter) EstimatedYieldRate() (sdkmath.LegacyDec, error) {
	return s.yieldRate, nil
}

// IsHealthy reports the injected health flag.
func (s *SimAdapter) IsHealthy() (bool, error) {
	if s.failProbes {
		return false, fmt.Errorf("%w: %s", ErrSimProbeFailure, s.name)
	}
	return s.healthy, nil
}

// Accrue applies one period of the configured yield rate to the balance,
// rounding down.
func (s *SimAdapter) Accrue() {
	if s.balance.IsZero() || s.yieldRate.IsNil() || s.yieldRate.IsZero() {
		return
	}
	gain := s.yieldRate.MulInt(s.balance).TruncateInt()
	if gain.IsPositive() {
		s.balance = s.balance.Add(gain)
		s.log.Debug().
			Str("adapter", s.name).
			Str("gain", gain.String()).
			Str("balance", s.balance.String()).
			Msg("Simulated yield accrued")
	}
}

// WriteDown reduces the simulated balance by amount, flooring at zero. It
// models a backend loss event.
func (s *SimAdapter) WriteDown(amount sdkmath.Int) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	if amount.GTE(s.balance) {
		s.balance = sdkmath.ZeroInt()
	} else {
		s.balance = s.balance.Sub(amount)
	}
	s.log.Warn().
		Str("adapter", s.name).
		Str("writeDown", amount.String()).
		Str("balance", s.balance.String()).
		Msg("Simulated position write-down")
}

// SetHealthy injects the self-reported health flag.
func (s *SimAdapter) SetHealthy(healthy bool) { s.healthy = healthy }

// SetSlippageBps injects a withdrawal haircut in basis points.
func (s *SimAdapter) SetSlippageBps(bps int64) { s.slippageBps = bps }

// SetFailDeposits injects deposit failures.
func (s *SimAdapter) SetFailDeposits(fail bool) { s.failDeposits = fail }

// SetFailWithdrawals injects withdrawal failures.
func (s *SimAdapter) SetFailWithdrawals(fail bool) { s.failWithdraws = fail }

// SetFailProbes makes IsHealthy itself return an error.
func (s *SimAdapter) SetFailProbes(fail bool) { s.failProbes = fail }
