/*

This file contains the rebalance cycle runner: a cron-scheduled loop that
pulls a recommendation from the advisory service, hands it to the vault
engine for independent validation and execution, and persists a receipt for
every attempt. The runner never decides allocations itself; it only moves
suggestions through the engine's gates.

*/

package rebalancer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vectis-finance/yvm/internal/advisor"
	"github.com/vectis-finance/yvm/internal/engine"
	"github.com/vectis-finance/yvm/internal/logger"
	"github.com/vectis-finance/yvm/internal/types"
)

// Advisor supplies reallocation suggestions.
type Advisor interface {
	FetchRecommendation() (types.Recommendation, error)
}

// ReceiptSaver persists a rebalance receipt, returning its storage id.
type ReceiptSaver func(result types.RebalanceResult, cycleNumber int) (int64, error)

// CycleCounter returns the next global cycle number.
type CycleCounter func() (int, error)

// Config holds the dependencies for creating a Rebalancer.
type Config struct {
	Engine      *engine.VaultEngine
	Advisor     Advisor
	SaveReceipt ReceiptSaver
	NextCycle   CycleCounter

	// MinConfidence drops suggestions below this confidence before they
	// reach the engine. Zero accepts everything the engine would.
	MinConfidence float64
}

// Rebalancer runs the periodic rebalance cycle.
type Rebalancer struct {
	log  zerolog.Logger
	cron *cron.Cron
	cfg  Config
}

// New creates a Rebalancer with dependency injection.
func New(cfg Config) (*Rebalancer, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("rebalancer configuration validation failed: %w", err)
	}
	return &Rebalancer{
		log:  logger.GetForComponent("rebalancer"),
		cron: cron.New(),
		cfg:  cfg,
	}, nil
}

func validateConfig(cfg Config) error {
	if cfg.Engine == nil {
		return fmt.Errorf("engine cannot be nil")
	}
	if cfg.Advisor == nil {
		return fmt.Errorf("advisor cannot be nil")
	}
	if cfg.SaveReceipt == nil {
		return fmt.Errorf("receipt saver cannot be nil")
	}
	if cfg.NextCycle == nil {
		return fmt.Errorf("cycle counter cannot be nil")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be within [0,1]")
	}
	return nil
}

// Start registers the cycle on the given cron spec and starts the scheduler.
func (r *Rebalancer) Start(cronSpec string) error {
	if _, err := r.cron.AddFunc(cronSpec, r.RunCycle); err != nil {
		return fmt.Errorf("register rebalance cycle: %w", err)
	}
	r.cron.Start()
	r.log.Info().Str("cronSpec", cronSpec).Msg("Rebalance scheduler started")
	return nil
}

// Stop stops the scheduler gracefully.
func (r *Rebalancer) Stop() {
	r.cron.Stop()
	r.log.Info().Msg("Rebalance scheduler stopped")
}

// RunCycle executes one advisory-driven rebalance attempt.
func (r *Rebalancer) RunCycle() {
	cycleID := uuid.New().String()
	cycleLogger := r.log.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting rebalance cycle ---")

	cycleNumber, err := r.cfg.NextCycle()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to obtain cycle number.")
		return
	}

	rec, err := r.cfg.Advisor.FetchRecommendation()
	if err != nil {
		if errors.Is(err, advisor.ErrNoRecommendation) {
			cycleLogger.Info().Int("cycle", cycleNumber).Msg("Advisor sees nothing worth moving, cycle complete.")
			return
		}
		cycleLogger.Error().Err(err).Int("cycle", cycleNumber).Msg("Cycle aborted: failed to fetch recommendation.")
		return
	}

	if rec.Confidence < r.cfg.MinConfidence {
		cycleLogger.Info().
			Float64("confidence", rec.Confidence).
			Float64("minConfidence", r.cfg.MinConfidence).
			Msg("Recommendation below confidence floor, skipping.")
		return
	}

	cycleLogger.Info().
		Str("source", rec.SourceAdapter).
		Str("target", rec.TargetAdapter).
		Str("amount", rec.Amount.String()).
		Str("reason", rec.Reason).
		Msg("Executing advisory recommendation")

	// The engine validates the suggestion independently; a rejection here
	// is a normal outcome, not a runner failure.
	result, err := r.cfg.Engine.Rebalance(rec.SourceAdapter, rec.TargetAdapter, rec.Amount)
	if err != nil {
		cycleLogger.Warn().Err(err).
			Str("outcome", string(result.Outcome)).
			Msg("Recommendation rejected by engine")
	}

	if _, saveErr := r.cfg.SaveReceipt(result, cycleNumber); saveErr != nil {
		cycleLogger.Error().Err(saveErr).Msg("Failed to persist rebalance receipt")
	}

	cycleLogger.Info().
		Int("cycle", cycleNumber).
		Str("outcome", string(result.Outcome)).
		Str("withdrawn", result.Withdrawn.String()).
		Str("deployed", result.Deployed.String()).
		Msg("--- Rebalance cycle completed ---")
}
