package config

import (
	"errors"
	"os"
	"strconv"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// MinDeposit is the minimum accepted deposit in base asset units.
	MinDeposit sdkmath.Int

	// AdvisorURL is the base URL of the external allocation advisory service.
	AdvisorURL string

	// RebalanceCronSpec is the cron expression driving the rebalance cycle.
	RebalanceCronSpec string

	// AdminAPIToken authenticates administrative HTTP requests.
	AdminAPIToken string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	MinDeposit, err = getEnvAsInt("VAULT_MIN_DEPOSIT")
	if err != nil {
		return err
	}
	if !MinDeposit.IsPositive() {
		return errors.New("VAULT_MIN_DEPOSIT must be positive")
	}

	AdvisorURL, err = getEnv("ADVISOR_URL")
	if err != nil {
		return err
	}

	RebalanceCronSpec, err = getEnv("REBALANCE_CRON_SPEC")
	if err != nil {
		return err
	}

	AdminAPIToken, err = getEnv("ADMIN_API_TOKEN")
	if err != nil {
		return err
	}

	log.Debug().
		Str("MinDeposit", MinDeposit.String()).
		Str("AdvisorURL", AdvisorURL).
		Str("RebalanceCronSpec", RebalanceCronSpec).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt retrieves an environment variable as an sdkmath.Int. Returns
// error if not set or not a valid integer.
func getEnvAsInt(key string) (sdkmath.Int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	value, ok := sdkmath.NewIntFromString(valueStr)
	if !ok {
		return sdkmath.ZeroInt(), errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

// GetEnvAsIntWithDefault retrieves an optional integer environment variable,
// falling back to the provided default when unset.
func GetEnvAsIntWithDefault(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
