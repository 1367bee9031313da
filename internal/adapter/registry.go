/*

This file contains the adapter registry: the set of known adapters, their
activation lifecycle, operational limits, and the health state machine.

Health is re-derived on every gated read from a live IsHealthy query plus
the registry's circuit: after CircuitFailureThreshold consecutive failed
operations an adapter is Unhealthy regardless of what it reports about
itself, and stays Unhealthy until an administrative reset. Deposits and
rebalance targets are gated to Healthy; withdrawals are never gated, since
capital must always be retrievable.

The registry performs no locking of its own. It is owned by the vault
engine, which serializes all access.

*/

package adapter

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/vectis-finance/yvm/internal/logger"
	"github.com/vectis-finance/yvm/internal/types"
)

// Registry tracks registered adapters and their records.
type Registry struct {
	log      zerolog.Logger
	adapters map[string]StrategyAdapter
	records  map[string]*types.AdapterRecord
	order    []string // registration order, used for deterministic iteration

	circuitThreshold int
	now              func() time.Time
}

// NewRegistry creates an empty registry. circuitThreshold is the number of
// consecutive operation failures that trips an adapter Unhealthy.
func NewRegistry(circuitThreshold int) *Registry {
	if circuitThreshold <= 0 {
		circuitThreshold = 3
	}
	return &Registry{
		log:              logger.GetForComponent("adapter_registry"),
		adapters:         make(map[string]StrategyAdapter),
		records:          make(map[string]*types.AdapterRecord),
		circuitThreshold: circuitThreshold,
		now:              time.Now,
	}
}

// Register adds a new adapter in the Inactive state.
func (r *Registry) Register(id, handle string, impl StrategyAdapter, limits types.AdapterLimits) error {
	if id == "" {
		return ErrInvalidAdapterID
	}
	if impl == nil {
		return fmt.Errorf("%w: nil implementation for %s", ErrInvalidAdapterID, id)
	}
	if _, exists := r.records[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAdapter, id)
	}
	if limits.DailyLimit.IsNil() {
		limits.DailyLimit = sdkmath.ZeroInt()
	}
	if limits.SingleOpLimit.IsNil() {
		limits.SingleOpLimit = sdkmath.ZeroInt()
	}

	r.adapters[id] = impl
	r.records[id] = &types.AdapterRecord{
		ID:                 id,
		Handle:             handle,
		ActivationState:    types.ActivationInactive,
		Limits:             limits,
		CumulativeDeployed: sdkmath.ZeroInt(),
		DeployedToday:      sdkmath.ZeroInt(),
		DeployedDay:        r.today(),
		RegisteredAt:       r.now(),
	}
	r.order = append(r.order, id)

	r.log.Info().
		Str("adapter", id).
		Str("handle", handle).
		Str("dailyLimit", limits.DailyLimit.String()).
		Str("singleOpLimit", limits.SingleOpLimit.String()).
		Msg("Adapter registered")
	return nil
}

// Adapter returns the implementation for id.
func (r *Registry) Adapter(id string) (StrategyAdapter, error) {
	impl, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	return impl, nil
}

// Record returns a copy of the registry record for id.
func (r *Registry) Record(id string) (types.AdapterRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return types.AdapterRecord{}, fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	return *rec, nil
}

// IDs returns all registered adapter ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// SetActivation moves an adapter between lifecycle states. Transitions to
// Inactive are rejected while the adapter still holds deployed capital:
// Inactive adapters are excluded from the vault's asset total, so
// deactivating one with funds inside would erase those funds from share
// pricing. Deprecate instead, then evacuate.
func (r *Registry) SetActivation(id string, state types.ActivationState) error {
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	switch state {
	case types.ActivationInactive, types.ActivationActive, types.ActivationDeprecated:
	default:
		return fmt.Errorf("unknown activation state: %s", state)
	}
	if state == types.ActivationInactive && rec.CumulativeDeployed.IsPositive() {
		return fmt.Errorf("%w: %s has %s deployed, evacuate before deactivating",
			ErrCapitalDeployed, id, rec.CumulativeDeployed)
	}

	r.log.Info().
		Str("adapter", id).
		Str("from", string(rec.ActivationState)).
		Str("to", string(state)).
		Msg("Adapter activation state changed")
	rec.ActivationState = state
	return nil
}

// SetLimits replaces an adapter's operational limits.
func (r *Registry) SetLimits(id string, limits types.AdapterLimits) error {
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	if limits.DailyLimit.IsNil() || limits.DailyLimit.IsNegative() ||
		limits.SingleOpLimit.IsNil() || limits.SingleOpLimit.IsNegative() {
		return fmt.Errorf("%w: limits must be non-negative", ErrLimitExceeded)
	}
	rec.Limits = limits
	r.log.Info().
		Str("adapter", id).
		Str("dailyLimit", limits.DailyLimit.String()).
		Str("singleOpLimit", limits.SingleOpLimit.String()).
		Msg("Adapter limits updated")
	return nil
}

// HealthOf derives the current health state for id. The result is never
// cached: the circuit is checked first, then the adapter is queried live.
func (r *Registry) HealthOf(id string) (types.HealthState, error) {
	rec, ok := r.records[id]
	if !ok {
		return types.HealthUnhealthy, fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	if rec.CircuitTripped {
		return types.HealthUnhealthy, nil
	}

	healthy, err := r.adapters[id].IsHealthy()
	if err != nil {
		// A backend that cannot answer a health probe is not terminal, but
		// it must not receive capital until it answers again.
		r.log.Warn().Err(err).Str("adapter", id).Msg("Health probe failed")
		return types.HealthDegraded, nil
	}
	if !healthy {
		return types.HealthDegraded, nil
	}
	return types.HealthHealthy, nil
}

// EnsureCanReceive validates that id may accept amount of new capital:
// the adapter must be Active, Healthy, and within its single-op and daily
// limits. Withdrawals never pass through this gate.
func (r *Registry) EnsureCanReceive(id string, amount sdkmath.Int) error {
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	if rec.ActivationState != types.ActivationActive {
		return fmt.Errorf("%w: %s is %s", ErrAdapterInactive, id, rec.ActivationState)
	}

	health, err := r.HealthOf(id)
	if err != nil {
		return err
	}
	if health != types.HealthHealthy {
		return fmt.Errorf("%w: %s is %s", ErrAdapterUnhealthy, id, health)
	}

	if rec.Limits.SingleOpLimit.IsPositive() && amount.GT(rec.Limits.SingleOpLimit) {
		return fmt.Errorf("%w: %s exceeds single-op limit %s for %s",
			ErrLimitExceeded, amount, rec.Limits.SingleOpLimit, id)
	}
	if rec.Limits.DailyLimit.IsPositive() {
		deployedToday := r.deployedToday(rec)
		if deployedToday.Add(amount).GT(rec.Limits.DailyLimit) {
			return fmt.Errorf("%w: %s plus %s deployed today exceeds daily limit %s for %s",
				ErrLimitExceeded, amount, deployedToday, rec.Limits.DailyLimit, id)
		}
	}
	return nil
}

// NoteDeployed records amount as confirmed moved into id.
func (r *Registry) NoteDeployed(id string, amount sdkmath.Int) {
	rec, ok := r.records[id]
	if !ok || !amount.IsPositive() {
		return
	}
	rec.CumulativeDeployed = rec.CumulativeDeployed.Add(amount)
	rec.DeployedToday = r.deployedToday(rec).Add(amount)
	rec.DeployedDay = r.today()
}

// NoteWithdrawn records amount as confirmed moved out of id. Deployed
// principal never goes negative: withdrawing accrued yield beyond principal
// clamps at zero.
func (r *Registry) NoteWithdrawn(id string, amount sdkmath.Int) {
	rec, ok := r.records[id]
	if !ok || !amount.IsPositive() {
		return
	}
	if amount.GTE(rec.CumulativeDeployed) {
		rec.CumulativeDeployed = sdkmath.ZeroInt()
	} else {
		rec.CumulativeDeployed = rec.CumulativeDeployed.Sub(amount)
	}
}

// RecordSuccess resets the consecutive-failure count after a successful
// operation against id.
func (r *Registry) RecordSuccess(id string) {
	if rec, ok := r.records[id]; ok {
		rec.ConsecutiveFailures = 0
	}
}

// RecordFailure counts a failed operation against id and trips the circuit
// at the threshold. A tripped circuit is terminal until ResetHealth.
func (r *Registry) RecordFailure(id string) {
	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.ConsecutiveFailures++
	if rec.ConsecutiveFailures >= r.circuitThreshold && !rec.CircuitTripped {
		rec.CircuitTripped = true
		r.log.Error().
			Str("adapter", id).
			Int("consecutiveFailures", rec.ConsecutiveFailures).
			Msg("Adapter circuit tripped, forcing Unhealthy until admin reset")
	}
}

// ResetHealth clears the circuit and failure count for id.
func (r *Registry) ResetHealth(id string) error {
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	rec.CircuitTripped = false
	rec.ConsecutiveFailures = 0
	r.log.Warn().Str("adapter", id).Msg("Adapter health circuit reset by admin")
	return nil
}

// DeployedAssets sums TotalAssets across every adapter that can hold
// capital (Active and Deprecated; SetActivation refuses to deactivate an
// adapter with funds still deployed, so Inactive adapters hold nothing).
// A backend that cannot report its value aborts the sum, since share
// pricing against a partial total would misprice every holder.
func (r *Registry) DeployedAssets() (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, id := range r.order {
		rec := r.records[id]
		if rec.ActivationState == types.ActivationInactive {
			continue
		}
		assets, err := r.adapters[id].TotalAssets()
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: TotalAssets on %s: %v", ErrAdapterCallFailed, id, err)
		}
		if assets.IsNil() || assets.IsNegative() {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: %s reported invalid total assets", ErrAdapterCallFailed, id)
		}
		total = total.Add(assets)
	}
	return total, nil
}

// Status assembles the externally visible snapshot for id, combining the
// stored record with live health and value queries.
func (r *Registry) Status(id string) (types.AdapterStatus, error) {
	rec, ok := r.records[id]
	if !ok {
		return types.AdapterStatus{}, fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	health, err := r.HealthOf(id)
	if err != nil {
		return types.AdapterStatus{}, err
	}

	status := types.AdapterStatus{
		Record:      *rec,
		Health:      health,
		TotalAssets: sdkmath.ZeroInt(),
		YieldRate:   "0",
	}
	if assets, err := r.adapters[id].TotalAssets(); err == nil && !assets.IsNil() {
		status.TotalAssets = assets
	}
	if rate, err := r.adapters[id].EstimatedYieldRate(); err == nil && !rate.IsNil() {
		status.YieldRate = rate.String()
	}
	return status, nil
}

// deployedToday applies the UTC-day rollover to the record's daily counter.
func (r *Registry) deployedToday(rec *types.AdapterRecord) sdkmath.Int {
	if !rec.DeployedDay.Equal(r.today()) {
		return sdkmath.ZeroInt()
	}
	return rec.DeployedToday
}

func (r *Registry) today() time.Time {
	return r.now().UTC().Truncate(24 * time.Hour)
}
