/*

This file contains the vault engine: the single writer that orchestrates
deposits, withdrawals and rebalances against the share ledger and the
adapter registry.

Execution is strictly sequential. A single mutex serializes every operation,
and an operation-in-progress flag is raised around any call that crosses
into adapter code; a nested call arriving while the flag is up is rejected
instead of observing half-applied state. The flag is cleared on every exit
path.

The ledger is only ever mutated after the facts are known ("decide, then
record"): share burns happen before funds are released, share mints are
priced off the asset total measured before the deposit, and adapter
bookkeeping reflects only amounts the backend confirmed.

*/

package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vectis-finance/yvm/internal/adapter"
	"github.com/vectis-finance/yvm/internal/audit"
	"github.com/vectis-finance/yvm/internal/ledger"
	"github.com/vectis-finance/yvm/internal/logger"
	"github.com/vectis-finance/yvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrVaultPaused          = errors.New("vault is paused")
	ErrReentrantCall        = errors.New("nested call rejected, operation already in flight")
	ErrSameAdapter          = errors.New("source and target adapters must differ")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInsufficientDeployed = errors.New("amount exceeds capital deployed in source adapter")
	ErrUnauthorized         = errors.New("caller is not authorized for administrative operations")
)

// VaultEngine owns the share ledger, the idle balance and all mutation of
// both. No other component mutates holder balances.
type VaultEngine struct {
	mu   sync.Mutex
	busy atomic.Bool

	log      zerolog.Logger
	ledger   *ledger.ShareLedger
	registry *adapter.Registry
	sink     audit.Sink

	// idle is vault-held capital not deployed into any adapter.
	idle   sdkmath.Int
	paused bool
}

// New creates an engine around an empty or pre-built ledger and registry.
func New(shareLedger *ledger.ShareLedger, registry *adapter.Registry, sink audit.Sink) (*VaultEngine, error) {
	if shareLedger == nil {
		return nil, errors.New("share ledger cannot be nil")
	}
	if registry == nil {
		return nil, errors.New("adapter registry cannot be nil")
	}
	if sink == nil {
		sink = audit.NewNoopSink()
	}
	return &VaultEngine{
		log:      logger.GetForComponent("vault_engine"),
		ledger:   shareLedger,
		registry: registry,
		sink:     sink,
		idle:     sdkmath.ZeroInt(),
	}, nil
}

// Deposit mints shares for holder against amount of new capital and then
// tries to deploy it into targetAdapter. A failed or gated deployment is
// not a failed deposit: the capital is simply held idle until a later
// rebalance or admin action deploys it. Pass an empty targetAdapter to hold
// the full amount idle.
func (e *VaultEngine) Deposit(holder string, amount sdkmath.Int, targetAdapter string) (sdkmath.Int, error) {
	if err := e.enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer e.mu.Unlock()

	if e.paused {
		return sdkmath.ZeroInt(), ErrVaultPaused
	}

	totalBefore, err := e.totalAssetsLocked()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	shares, err := e.ledger.Deposit(holder, amount, totalBefore)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	e.idle = e.idle.Add(amount)

	// Deployment is best-effort and never unwinds the mint.
	deployed := sdkmath.ZeroInt()
	note := "held idle"
	if targetAdapter != "" {
		deployed = e.tryDeploy(targetAdapter, amount)
		if deployed.IsPositive() {
			note = ""
		}
	}

	e.emit(types.Event{
		Type:             types.EventDeposit,
		Actor:            holder,
		TargetAdapter:    targetAdapter,
		AmountRequested:  amount,
		AmountActual:     amount,
		SharesDelta:      shares,
		TotalSharesAfter: e.ledger.TotalShares(),
		TotalAssetsAfter: totalBefore.Add(amount),
		IdleAfter:        e.idle,
		Note:             note,
	})

	e.log.Info().
		Str("holder", holder).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Str("deployed", deployed.String()).
		Str("idle", e.idle.String()).
		Msg("Deposit completed")

	return shares, nil
}

// Withdraw burns shares from holder and returns the redeemed amount. Shares
// are burned before any funds leave an adapter, and the payout is sourced
// from the idle balance first, then from adapters in registration order.
// Withdrawals are permitted while paused and from unhealthy adapters:
// capital must always be exitable.
func (e *VaultEngine) Withdraw(holder string, shares sdkmath.Int) (sdkmath.Int, error) {
	if err := e.enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer e.mu.Unlock()

	totalBefore, err := e.totalAssetsLocked()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	amount, err := e.ledger.Withdraw(holder, shares, totalBefore)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	gathered := e.gatherFunds(amount)
	if gathered.LT(amount) {
		e.log.Warn().
			Str("holder", holder).
			Str("entitled", amount.String()).
			Str("gathered", gathered.String()).
			Msg("Withdrawal gathered less than entitlement due to backend slippage")
	}

	// Re-query after the gather: when an adapter fulfilled less than
	// requested, entitlement-based arithmetic would misstate the vault.
	totalAfter, err := e.totalAssetsLocked()
	if err != nil {
		totalAfter = totalBefore.Sub(gathered)
	}

	e.emit(types.Event{
		Type:             types.EventWithdraw,
		Actor:            holder,
		AmountRequested:  amount,
		AmountActual:     gathered,
		SharesDelta:      shares.Neg(),
		TotalSharesAfter: e.ledger.TotalShares(),
		TotalAssetsAfter: totalAfter,
		IdleAfter:        e.idle,
	})

	e.log.Info().
		Str("holder", holder).
		Str("shares", shares.String()).
		Str("amount", gathered.String()).
		Msg("Withdrawal completed")

	return gathered, nil
}

// Rebalance moves amount of deployed principal from sourceAdapter to
// targetAdapter, following the protocol in the package comment: validate,
// gate the target on health and limits, withdraw (accepting the actual
// amount returned), then deposit. A target-side failure leaves the funds
// idle and degrades the outcome to PartiallyCompleted; it never strands or
// double-counts capital.
func (e *VaultEngine) Rebalance(sourceAdapter, targetAdapter string, amount sdkmath.Int) (types.RebalanceResult, error) {
	result := types.RebalanceResult{
		OperationID:   uuid.New().String(),
		SourceAdapter: sourceAdapter,
		TargetAdapter: targetAdapter,
		Requested:     amount,
		Withdrawn:     sdkmath.ZeroInt(),
		Deployed:      sdkmath.ZeroInt(),
		Outcome:       types.RebalanceRejected,
		Timestamp:     time.Now().UTC(),
	}

	if err := e.enter(); err != nil {
		result.Message = err.Error()
		return result, err
	}
	defer e.mu.Unlock()

	if err := e.validateRebalance(sourceAdapter, targetAdapter, amount); err != nil {
		result.Message = err.Error()
		e.emitRebalance(result)
		return result, err
	}

	src, err := e.registry.Adapter(sourceAdapter)
	if err != nil {
		result.Message = err.Error()
		return result, err
	}
	dst, err := e.registry.Adapter(targetAdapter)
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	// Step 1: evacuate the source. An outright failure means nothing moved,
	// so the operation rejects cleanly.
	withdrawn, err := e.callWithdraw(src, amount)
	if err != nil {
		e.registry.RecordFailure(sourceAdapter)
		result.Message = fmt.Sprintf("source withdrawal failed: %v", err)
		e.emitRebalance(result)
		return result, fmt.Errorf("%w: %v", adapter.ErrAdapterCallFailed, err)
	}
	e.registry.RecordSuccess(sourceAdapter)
	e.registry.NoteWithdrawn(sourceAdapter, withdrawn)
	e.idle = e.idle.Add(withdrawn)
	result.Withdrawn = withdrawn

	if withdrawn.IsZero() {
		result.Message = "source returned zero"
		e.emitRebalance(result)
		return result, fmt.Errorf("%w: source returned zero", adapter.ErrAdapterCallFailed)
	}

	// Step 2: deploy into the target. The funds are already accounted as
	// idle, so a failure here degrades rather than aborts.
	deployed, err := e.callDeposit(dst, withdrawn)
	if err != nil {
		e.registry.RecordFailure(targetAdapter)
		result.Outcome = types.RebalancePartiallyCompleted
		result.Message = fmt.Sprintf("target deposit failed, %s held idle: %v", withdrawn, err)
		e.log.Warn().
			Str("source", sourceAdapter).
			Str("target", targetAdapter).
			Str("idle", e.idle.String()).
			Msg("Rebalance target deposit failed, funds held idle")
		e.emitRebalance(result)
		return result, nil
	}
	e.registry.RecordSuccess(targetAdapter)
	e.registry.NoteDeployed(targetAdapter, deployed)
	e.idle = e.idle.Sub(deployed)
	result.Deployed = deployed

	if withdrawn.Equal(amount) && deployed.Equal(withdrawn) {
		result.Outcome = types.RebalanceCompleted
	} else {
		result.Outcome = types.RebalancePartiallyCompleted
		result.Message = fmt.Sprintf("requested %s, withdrew %s, deployed %s", amount, withdrawn, deployed)
	}

	e.emitRebalance(result)
	e.log.Info().
		Str("operationId", result.OperationID).
		Str("source", sourceAdapter).
		Str("target", targetAdapter).
		Str("requested", amount.String()).
		Str("withdrawn", withdrawn.String()).
		Str("deployed", deployed.String()).
		Str("outcome", string(result.Outcome)).
		Msg("Rebalance executed")

	return result, nil
}

// validateRebalance applies the pre-flight checks. Source health is
// deliberately not checked: a failing adapter must remain evacuable.
func (e *VaultEngine) validateRebalance(sourceAdapter, targetAdapter string, amount sdkmath.Int) error {
	if e.paused {
		return ErrVaultPaused
	}
	if sourceAdapter == targetAdapter {
		return ErrSameAdapter
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}

	srcRec, err := e.registry.Record(sourceAdapter)
	if err != nil {
		return err
	}
	if amount.GT(srcRec.CumulativeDeployed) {
		return fmt.Errorf("%w: requested %s, deployed %s", ErrInsufficientDeployed, amount, srcRec.CumulativeDeployed)
	}

	return e.ensureCanReceive(targetAdapter, amount)
}

// Pause and resume are owned by the EmergencyController; see emergency.go.

// TotalAssets returns the vault's full asset value: idle plus everything
// reported by capital-holding adapters.
func (e *VaultEngine) TotalAssets() (sdkmath.Int, error) {
	if err := e.enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer e.mu.Unlock()
	return e.totalAssetsLocked()
}

// SharePrice returns assets per share, 1:1 while supply is zero.
func (e *VaultEngine) SharePrice() (sdkmath.LegacyDec, error) {
	if err := e.enter(); err != nil {
		return sdkmath.LegacyDec{}, err
	}
	defer e.mu.Unlock()

	total, err := e.totalAssetsLocked()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return e.ledger.SharePrice(total), nil
}

// BalanceOf returns holder's share balance and its current redeemable value.
func (e *VaultEngine) BalanceOf(holder string) (shares, redeemable sdkmath.Int, err error) {
	if err := e.enter(); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	defer e.mu.Unlock()

	total, err := e.totalAssetsLocked()
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return e.ledger.BalanceOf(holder), e.ledger.RedeemableValue(holder, total), nil
}

// TotalShares returns outstanding claim units.
func (e *VaultEngine) TotalShares() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TotalShares()
}

// IdleBalance returns the undeployed vault-held balance.
func (e *VaultEngine) IdleBalance() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idle
}

// Paused reports whether the vault is paused.
func (e *VaultEngine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// MinDeposit returns the current minimum deposit.
func (e *VaultEngine) MinDeposit() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.MinDeposit()
}

// AdapterStatuses returns live status snapshots in registration order.
func (e *VaultEngine) AdapterStatuses() ([]types.AdapterStatus, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	e.busy.Store(true)
	defer e.busy.Store(false)

	ids := e.registry.IDs()
	statuses := make([]types.AdapterStatus, 0, len(ids))
	for _, id := range ids {
		status, err := e.registry.Status(id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// --- administrative operations (explicit auth context, no ambient state) ---

// RegisterAdapter adds a new backend in the Inactive state.
func (e *VaultEngine) RegisterAdapter(auth types.AuthContext, id, handle string, impl adapter.StrategyAdapter, limits types.AdapterLimits) error {
	if !auth.IsAdmin() {
		return ErrUnauthorized
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := e.registry.Register(id, handle, impl, limits); err != nil {
		return err
	}
	e.emitAdmin(types.EventAdapterRegistered, auth, id, handle)
	return nil
}

// SetAdapterActivation moves an adapter between lifecycle states.
func (e *VaultEngine) SetAdapterActivation(auth types.AuthContext, id string, state types.ActivationState) error {
	if !auth.IsAdmin() {
		return ErrUnauthorized
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := e.registry.SetActivation(id, state); err != nil {
		return err
	}
	e.emitAdmin(types.EventAdapterActivation, auth, id, string(state))
	return nil
}

// SetAdapterLimits replaces an adapter's operational caps.
func (e *VaultEngine) SetAdapterLimits(auth types.AuthContext, id string, limits types.AdapterLimits) error {
	if !auth.IsAdmin() {
		return ErrUnauthorized
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := e.registry.SetLimits(id, limits); err != nil {
		return err
	}
	e.emitAdmin(types.EventLimitsUpdated, auth, id, fmt.Sprintf("daily=%s singleOp=%s", limits.DailyLimit, limits.SingleOpLimit))
	return nil
}

// ResetAdapterHealth clears a tripped circuit.
func (e *VaultEngine) ResetAdapterHealth(auth types.AuthContext, id string) error {
	if !auth.IsAdmin() {
		return ErrUnauthorized
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := e.registry.ResetHealth(id); err != nil {
		return err
	}
	e.emitAdmin(types.EventHealthReset, auth, id, "")
	return nil
}

// SetMinDeposit updates the minimum deposit.
func (e *VaultEngine) SetMinDeposit(auth types.AuthContext, amount sdkmath.Int) error {
	if !auth.IsAdmin() {
		return ErrUnauthorized
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := e.ledger.SetMinDeposit(amount); err != nil {
		return err
	}
	e.emitAdmin(types.EventMinDepositUpdated, auth, "", amount.String())
	return nil
}

// --- internals ---

// enter rejects re-entrant calls and acquires the engine lock. Callers must
// unlock e.mu themselves.
func (e *VaultEngine) enter() error {
	if e.busy.Load() {
		// A call arriving while control is inside adapter code is a nested
		// call, not a queued one; it must not observe in-flight state.
		return ErrReentrantCall
	}
	e.mu.Lock()
	return nil
}

// ensureCanReceive runs the registry's receive gate with the re-entrancy
// flag raised, since the health probe crosses into adapter code.
func (e *VaultEngine) ensureCanReceive(id string, amount sdkmath.Int) error {
	e.busy.Store(true)
	defer e.busy.Store(false)
	return e.registry.EnsureCanReceive(id, amount)
}

// totalAssetsLocked computes idle + deployed. Caller holds e.mu.
func (e *VaultEngine) totalAssetsLocked() (sdkmath.Int, error) {
	e.busy.Store(true)
	defer e.busy.Store(false)

	deployed, err := e.registry.DeployedAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return e.idle.Add(deployed), nil
}

// tryDeploy attempts to move amount of idle capital into id, honoring the
// health gate and limits. Returns the amount confirmed deployed; on any
// failure the capital stays idle.
func (e *VaultEngine) tryDeploy(id string, amount sdkmath.Int) sdkmath.Int {
	if err := e.ensureCanReceive(id, amount); err != nil {
		e.log.Warn().Err(err).Str("adapter", id).Msg("Deposit target gated, holding funds idle")
		return sdkmath.ZeroInt()
	}
	impl, err := e.registry.Adapter(id)
	if err != nil {
		return sdkmath.ZeroInt()
	}

	deployed, err := e.callDeposit(impl, amount)
	if err != nil {
		e.registry.RecordFailure(id)
		e.log.Warn().Err(err).Str("adapter", id).Msg("Adapter deposit failed, holding funds idle")
		return sdkmath.ZeroInt()
	}
	e.registry.RecordSuccess(id)
	e.registry.NoteDeployed(id, deployed)
	e.idle = e.idle.Sub(deployed)
	return deployed
}

// gatherFunds collects amount for a payout: idle first, then adapters in
// registration order regardless of health. Each request is capped at the
// adapter's live reported value, not its deployed principal, so accrued
// yield is collected too. Returns what was actually collected.
func (e *VaultEngine) gatherFunds(amount sdkmath.Int) sdkmath.Int {
	gathered := sdkmath.ZeroInt()

	fromIdle := sdkmath.MinInt(e.idle, amount)
	if fromIdle.IsPositive() {
		e.idle = e.idle.Sub(fromIdle)
		gathered = gathered.Add(fromIdle)
	}

	for _, id := range e.registry.IDs() {
		remaining := amount.Sub(gathered)
		if !remaining.IsPositive() {
			break
		}
		impl, err := e.registry.Adapter(id)
		if err != nil {
			continue
		}
		held, err := e.callTotalAssets(impl)
		if err != nil || !held.IsPositive() {
			continue
		}

		request := sdkmath.MinInt(remaining, held)
		actual, err := e.callWithdraw(impl, request)
		if err != nil {
			e.registry.RecordFailure(id)
			e.log.Warn().Err(err).Str("adapter", id).Msg("Adapter withdrawal failed while sourcing payout")
			continue
		}
		e.registry.RecordSuccess(id)
		e.registry.NoteWithdrawn(id, actual)
		gathered = gathered.Add(actual)
	}

	return gathered
}

// callTotalAssets crosses into adapter code with the re-entrancy flag raised.
func (e *VaultEngine) callTotalAssets(impl adapter.StrategyAdapter) (sdkmath.Int, error) {
	e.busy.Store(true)
	defer e.busy.Store(false)

	held, err := impl.TotalAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if held.IsNil() || held.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: invalid total assets", adapter.ErrAdapterCallFailed)
	}
	return held, nil
}

// callDeposit crosses into adapter code with the re-entrancy flag raised.
func (e *VaultEngine) callDeposit(impl adapter.StrategyAdapter, amount sdkmath.Int) (sdkmath.Int, error) {
	e.busy.Store(true)
	defer e.busy.Store(false)

	deployed, err := impl.Deposit(amount)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if deployed.IsNil() || deployed.IsNegative() || deployed.GT(amount) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: backend reported implausible deposit of %s for %s requested",
			adapter.ErrAdapterCallFailed, deployed, amount)
	}
	return deployed, nil
}

// callWithdraw crosses into adapter code with the re-entrancy flag raised.
func (e *VaultEngine) callWithdraw(impl adapter.StrategyAdapter, amount sdkmath.Int) (sdkmath.Int, error) {
	e.busy.Store(true)
	defer e.busy.Store(false)

	actual, err := impl.Withdraw(amount)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if actual.IsNil() || actual.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: backend reported negative withdrawal", adapter.ErrAdapterCallFailed)
	}
	return actual, nil
}

// emit stamps and records an audit event. Persistence failures are logged
// and never fail the operation that produced the event.
func (e *VaultEngine) emit(event types.Event) {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	fillZeroAmounts(&event)
	if err := e.sink.Record(event); err != nil {
		e.log.Error().Err(err).Str("eventType", string(event.Type)).Msg("Failed to record audit event")
	}
}

func (e *VaultEngine) emitRebalance(result types.RebalanceResult) {
	totalAfter, err := e.totalAssetsLocked()
	if err != nil {
		totalAfter = sdkmath.ZeroInt()
	}
	e.emit(types.Event{
		Type:             types.EventRebalance,
		SourceAdapter:    result.SourceAdapter,
		TargetAdapter:    result.TargetAdapter,
		AmountRequested:  result.Requested,
		AmountActual:     result.Deployed,
		TotalSharesAfter: e.ledger.TotalShares(),
		TotalAssetsAfter: totalAfter,
		IdleAfter:        e.idle,
		Outcome:          string(result.Outcome),
		Note:             result.Message,
	})
}

func (e *VaultEngine) emitAdmin(eventType types.EventType, auth types.AuthContext, adapterID, note string) {
	e.emit(types.Event{
		Type:             eventType,
		Actor:            auth.Subject,
		TargetAdapter:    adapterID,
		TotalSharesAfter: e.ledger.TotalShares(),
		IdleAfter:        e.idle,
		Note:             note,
	})
}

// fillZeroAmounts replaces nil Ints so events always marshal cleanly.
func fillZeroAmounts(event *types.Event) {
	for _, field := range []*sdkmath.Int{
		&event.AmountRequested, &event.AmountActual, &event.SharesDelta,
		&event.TotalSharesAfter, &event.TotalAssetsAfter, &event.IdleAfter,
	} {
		if field.IsNil() {
			*field = sdkmath.ZeroInt()
		}
	}
}
