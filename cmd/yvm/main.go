package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/vectis-finance/yvm/internal/adapter"
	"github.com/vectis-finance/yvm/internal/advisor"
	"github.com/vectis-finance/yvm/internal/config"
	"github.com/vectis-finance/yvm/internal/engine"
	"github.com/vectis-finance/yvm/internal/ledger"
	"github.com/vectis-finance/yvm/internal/logger"
	"github.com/vectis-finance/yvm/internal/rebalancer"
	"github.com/vectis-finance/yvm/internal/state"
	"github.com/vectis-finance/yvm/internal/types"
	"github.com/vectis-finance/yvm/internal/web"
)

// main is the entry point for the YVM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("YVM Core Logic Starting...")

	// Initialize Database Connection (audit events and rebalance receipts)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Vault Engine Initialization (with Safety Switch) ---
	registry := adapter.NewRegistry(config.CircuitFailureThreshold)
	shareLedger := ledger.New(config.MinDeposit)

	vaultEngine, err := engine.New(shareLedger, registry, state.NewEventStore())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault engine")
	}

	emergency, err := engine.NewEmergencyController(vaultEngine)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create emergency controller")
	}

	bootstrapAuth := types.AuthContext{Subject: "bootstrap", Role: types.RoleAdmin}
	yvmMode := os.Getenv("YVM_MODE")

	if yvmMode == "sim" {
		log.Info().Msg("Initializing YVM in SIM mode with simulated strategy adapters.")
		if err := registerSimAdapters(vaultEngine, bootstrapAuth); err != nil {
			log.Fatal().Err(err).Msg("Failed to register simulated adapters")
		}
	} else {
		log.Fatal().Msg("YVM_MODE is not set to 'sim'. Halting: no live strategy adapters are wired in this build. Set YVM_MODE=sim to run.")
	}

	// --- 3. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, vaultEngine, emergency, state.GetRecentEvents, config.AdminAPIToken)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting YVM API server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Start Rebalance Scheduler ---
	advisorClient, err := advisor.NewClient(config.AdvisorURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create advisor client")
	}

	rb, err := rebalancer.New(rebalancer.Config{
		Engine:      vaultEngine,
		Advisor:     advisorClient,
		SaveReceipt: state.SaveRebalanceReceipt,
		NextCycle:   state.IncrementCycleNumber,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create rebalancer")
	}

	if err := rb.Start(config.RebalanceCronSpec); err != nil {
		log.Fatal().Err(err).Msg("Failed to start rebalance scheduler")
	}
	defer rb.Stop()

	log.Info().Str("cronSpec", config.RebalanceCronSpec).Msg("YVM running")

	// Block until interrupted, then shut down.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Str("signal", received.String()).Msg("Shutdown signal received, stopping")
}

// registerSimAdapters wires a pair of simulated backends so the full
// deposit/withdraw/rebalance path can run without external strategies.
func registerSimAdapters(eng *engine.VaultEngine, auth types.AuthContext) error {
	sims := []struct {
		id        string
		yieldRate string
	}{
		{"sim-stable", "0.04"},
		{"sim-boosted", "0.09"},
	}

	for _, s := range sims {
		impl := adapter.NewSimAdapter(s.id, sdkmath.LegacyMustNewDecFromStr(s.yieldRate))
		if err := eng.RegisterAdapter(auth, s.id, "sim/"+s.id, impl, config.DefaultAdapterLimits); err != nil {
			return err
		}
		if err := eng.SetAdapterActivation(auth, s.id, types.ActivationActive); err != nil {
			return err
		}
	}
	return nil
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
