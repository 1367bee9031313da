/*

This file contains the share ledger: the mapping of holder to share balance
and the total-shares/total-assets relationship that defines share price.

The ledger is pure accounting. It never talks to adapters; every operation
that needs the vault's asset value receives it as an argument, and the
engine is responsible for passing a value consistent with funds actually
moved. All amounts are integer base units and all proportional math rounds
down.

*/

package ledger

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrBelowMinDeposit    = errors.New("amount is below the minimum deposit")
	ErrZeroShareMint      = errors.New("computed share mint is zero, amount too small relative to pool")
	ErrInvalidShares      = errors.New("share count must be positive")
	ErrInsufficientShares = errors.New("holder balance is insufficient")
	ErrZeroAssetValue     = errors.New("total assets reported as zero against outstanding shares")
	ErrInvalidHolder      = errors.New("holder identity is empty")
)

// ShareLedger tracks outstanding claim units against the vault.
//
// Invariant: the sum of all holder balances equals totalShares after every
// operation. Zero-balance entries are pruned.
type ShareLedger struct {
	totalShares sdkmath.Int
	balances    map[string]sdkmath.Int
	minDeposit  sdkmath.Int
}

// New creates an empty ledger with the given minimum deposit.
func New(minDeposit sdkmath.Int) *ShareLedger {
	if minDeposit.IsNil() || minDeposit.IsNegative() {
		minDeposit = sdkmath.ZeroInt()
	}
	return &ShareLedger{
		totalShares: sdkmath.ZeroInt(),
		balances:    make(map[string]sdkmath.Int),
		minDeposit:  minDeposit,
	}
}

// Deposit mints shares for holder against a deposit of amount base units.
// totalAssetsBefore is the vault's asset value before the deposit is added.
//
// On an empty ledger (totalShares == 0) the mint is 1:1 with the deposited
// amount: with zero shares outstanding there are no claims on whatever idle
// balance exists, so pre-existing idle cannot dilute the first depositor.
// On a non-empty ledger the mint is amount * totalShares / totalAssetsBefore,
// rounded down, and a mint that rounds to zero is rejected rather than
// silently swallowing the deposit.
func (l *ShareLedger) Deposit(holder string, amount, totalAssetsBefore sdkmath.Int) (sdkmath.Int, error) {
	if holder == "" {
		return sdkmath.ZeroInt(), ErrInvalidHolder
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	if amount.LT(l.minDeposit) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: got %s, minimum %s", ErrBelowMinDeposit, amount, l.minDeposit)
	}

	var shares sdkmath.Int
	if l.totalShares.IsZero() {
		// Bootstrap mint.
		shares = amount
	} else {
		if totalAssetsBefore.IsNil() || !totalAssetsBefore.IsPositive() {
			// Shares outstanding against a zero-valued pool means every
			// adapter wrote its position down to nothing. Minting here
			// would divide by zero; the vault needs admin intervention.
			return sdkmath.ZeroInt(), ErrZeroAssetValue
		}
		shares = amount.Mul(l.totalShares).Quo(totalAssetsBefore)
		if shares.IsZero() {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: deposit %s against %s assets / %s shares", ErrZeroShareMint, amount, totalAssetsBefore, l.totalShares)
		}
	}

	l.totalShares = l.totalShares.Add(shares)
	l.balances[holder] = l.balanceOf(holder).Add(shares)

	return shares, nil
}

// Withdraw burns shares from holder and returns the asset amount they
// redeem: shares * totalAssets / totalShares, rounded down.
//
// Edge-case policy: if the computed amount rounds to zero despite a positive
// share count, the withdrawal falls back to a single base unit so a holder
// is never locked out of exiting a dust position.
func (l *ShareLedger) Withdraw(holder string, shares, totalAssets sdkmath.Int) (sdkmath.Int, error) {
	if holder == "" {
		return sdkmath.ZeroInt(), ErrInvalidHolder
	}
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidShares
	}
	balance := l.balanceOf(holder)
	if shares.GT(balance) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: requested %s, holding %s", ErrInsufficientShares, shares, balance)
	}
	if totalAssets.IsNil() || totalAssets.IsNegative() {
		return sdkmath.ZeroInt(), ErrZeroAssetValue
	}

	amount := shares.Mul(totalAssets).Quo(l.totalShares)
	if amount.IsZero() {
		amount = sdkmath.OneInt()
	}

	remaining := balance.Sub(shares)
	if remaining.IsZero() {
		delete(l.balances, holder)
	} else {
		l.balances[holder] = remaining
	}
	l.totalShares = l.totalShares.Sub(shares)

	return amount, nil
}

// SharePrice returns totalAssets / totalShares as a decimal. On zero supply
// it returns the 1:1 sentinel rather than an error, since the bootstrap
// state must be representable to read-only callers.
func (l *ShareLedger) SharePrice(totalAssets sdkmath.Int) sdkmath.LegacyDec {
	if l.totalShares.IsZero() {
		return sdkmath.LegacyOneDec()
	}
	return sdkmath.LegacyNewDecFromInt(totalAssets).QuoInt(l.totalShares)
}

// RedeemableValue returns the amount holder could redeem right now:
// balance * totalAssets / totalShares, rounded down.
func (l *ShareLedger) RedeemableValue(holder string, totalAssets sdkmath.Int) sdkmath.Int {
	if l.totalShares.IsZero() {
		return sdkmath.ZeroInt()
	}
	return l.balanceOf(holder).Mul(totalAssets).Quo(l.totalShares)
}

// TotalShares returns the outstanding claim units.
func (l *ShareLedger) TotalShares() sdkmath.Int {
	return l.totalShares
}

// BalanceOf returns holder's share balance, zero for unknown holders.
func (l *ShareLedger) BalanceOf(holder string) sdkmath.Int {
	return l.balanceOf(holder)
}

// HolderCount returns the number of holders with a non-zero balance.
func (l *ShareLedger) HolderCount() int {
	return len(l.balances)
}

// SumBalances returns the sum of all holder balances. It exists so callers
// and tests can verify the ledger invariant sum(balances) == totalShares.
func (l *ShareLedger) SumBalances() sdkmath.Int {
	sum := sdkmath.ZeroInt()
	for _, b := range l.balances {
		sum = sum.Add(b)
	}
	return sum
}

// MinDeposit returns the current minimum deposit.
func (l *ShareLedger) MinDeposit() sdkmath.Int {
	return l.minDeposit
}

// SetMinDeposit updates the minimum deposit.
func (l *ShareLedger) SetMinDeposit(minDeposit sdkmath.Int) error {
	if minDeposit.IsNil() || !minDeposit.IsPositive() {
		return ErrInvalidAmount
	}
	l.minDeposit = minDeposit
	return nil
}

func (l *ShareLedger) balanceOf(holder string) sdkmath.Int {
	if b, ok := l.balances[holder]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}
