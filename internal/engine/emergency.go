/*

This file contains the emergency controller: the administrative override
path used when an adapter is irrecoverably broken. While paused, deposits
and rebalances are rejected but withdrawals remain permitted; capital must
remain exitable during an incident. Emergency withdrawal bypasses share
math entirely and is therefore logged with full parameters.

*/

package engine

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/vectis-finance/yvm/internal/logger"
	"github.com/vectis-finance/yvm/internal/types"
)

var ErrInvalidRecipient = errors.New("recipient is empty")

// EmergencyController wraps the engine's incident controls.
type EmergencyController struct {
	log    zerolog.Logger
	engine *VaultEngine
}

// NewEmergencyController binds a controller to an engine.
func NewEmergencyController(engine *VaultEngine) (*EmergencyController, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	return &EmergencyController{
		log:    logger.GetForComponent("emergency_controller"),
		engine: engine,
	}, nil
}

// Pause stops deposits and rebalances. Idempotent.
func (c *EmergencyController) Pause(auth types.AuthContext) error {
	if !auth.IsAdmin() {
		return ErrUnauthorized
	}
	if err := c.engine.enter(); err != nil {
		return err
	}
	defer c.engine.mu.Unlock()

	if c.engine.paused {
		return nil
	}
	c.engine.paused = true
	c.engine.emitAdmin(types.EventPause, auth, "", "")
	c.log.Warn().Str("admin", auth.Subject).Msg("Vault PAUSED")
	return nil
}

// Unpause restores normal operation. Idempotent.
func (c *EmergencyController) Unpause(auth types.AuthContext) error {
	if !auth.IsAdmin() {
		return ErrUnauthorized
	}
	if err := c.engine.enter(); err != nil {
		return err
	}
	defer c.engine.mu.Unlock()

	if !c.engine.paused {
		return nil
	}
	c.engine.paused = false
	c.engine.emitAdmin(types.EventUnpause, auth, "", "")
	c.log.Warn().Str("admin", auth.Subject).Msg("Vault UNPAUSED")
	return nil
}

// EmergencyWithdraw pulls amount directly out of adapterID to recipient,
// bypassing share-price computation. It is the only path that can force
// progress past an adapter whose accounting is untrustworthy, and it breaks
// the proportional-fairness guarantee, so every parameter is logged and
// audited. Returns the amount the backend actually released.
func (c *EmergencyController) EmergencyWithdraw(auth types.AuthContext, adapterID string, amount sdkmath.Int, recipient string) (sdkmath.Int, error) {
	if !auth.IsAdmin() {
		return sdkmath.ZeroInt(), ErrUnauthorized
	}
	if recipient == "" {
		return sdkmath.ZeroInt(), ErrInvalidRecipient
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}

	e := c.engine
	if err := e.enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer e.mu.Unlock()

	impl, err := e.registry.Adapter(adapterID)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	// Health is deliberately ignored: this path exists precisely because
	// the adapter may no longer answer truthfully.
	actual, err := e.callWithdraw(impl, amount)
	if err != nil {
		e.registry.RecordFailure(adapterID)
		return sdkmath.ZeroInt(), fmt.Errorf("emergency withdrawal from %s failed: %w", adapterID, err)
	}
	e.registry.NoteWithdrawn(adapterID, actual)

	c.log.Error().
		Str("admin", auth.Subject).
		Str("adapter", adapterID).
		Str("recipient", recipient).
		Str("requested", amount.String()).
		Str("actual", actual.String()).
		Msg("EMERGENCY WITHDRAWAL executed, share math bypassed")

	e.emit(types.Event{
		Type:             types.EventEmergencyWithdraw,
		Actor:            auth.Subject,
		SourceAdapter:    adapterID,
		AmountRequested:  amount,
		AmountActual:     actual,
		TotalSharesAfter: e.ledger.TotalShares(),
		IdleAfter:        e.idle,
		Note:             "recipient=" + recipient,
	})

	return actual, nil
}
