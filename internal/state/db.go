// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	// Amounts are stored as NUMERIC(40, 0): integer base units wide enough
	// for any sdkmath.Int the vault produces.
	schemaSQL := `
		CREATE TABLE IF NOT EXISTS vault_events (
			event_id VARCHAR(36) PRIMARY KEY,
			event_time TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			event_type VARCHAR(40) NOT NULL,
			actor VARCHAR(255),
			source_adapter VARCHAR(255),
			target_adapter VARCHAR(255),
			amount_requested NUMERIC(40, 0) NOT NULL DEFAULT 0,
			amount_actual NUMERIC(40, 0) NOT NULL DEFAULT 0,
			shares_delta NUMERIC(40, 0) NOT NULL DEFAULT 0,
			total_shares_after NUMERIC(40, 0) NOT NULL DEFAULT 0,
			total_assets_after NUMERIC(40, 0) NOT NULL DEFAULT 0,
			idle_after NUMERIC(40, 0) NOT NULL DEFAULT 0,
			outcome VARCHAR(40),
			note TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_vault_events_time ON vault_events(event_time DESC);
		CREATE INDEX IF NOT EXISTS idx_vault_events_type ON vault_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_vault_events_actor ON vault_events(actor);

		CREATE TABLE IF NOT EXISTS rebalance_receipts (
			receipt_id SERIAL PRIMARY KEY,
			operation_id VARCHAR(36) NOT NULL,
			cycle_number INTEGER NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			source_adapter VARCHAR(255) NOT NULL,
			target_adapter VARCHAR(255) NOT NULL,
			amount_requested NUMERIC(40, 0) NOT NULL,
			amount_withdrawn NUMERIC(40, 0) NOT NULL,
			amount_deployed NUMERIC(40, 0) NOT NULL,
			outcome VARCHAR(40) NOT NULL,
			message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_time ON rebalance_receipts(executed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_cycle ON rebalance_receipts(cycle_number DESC);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
