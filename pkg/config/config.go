// Package config loads the host binary's configuration from environment
// variables: no framework, explicit defaults, and a Validate step the
// caller must run before starting the service. Grounded on teacher
// pkg/config/config.go's Load/Validate/getEnv* shape, trimmed to the
// fields a channel-core host actually wires (SPEC_FULL.md §2's ambient
// config-loader component).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the environment-derived settings for cmd/channeld.
// MetricsAddr, HealthAddr, EthChainID and LogLevel are loaded but not
// read by cmd/channeld.
type Config struct {
	// HTTP control surface (pkg/server).
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Durable storage.
	DataDir     string // base directory for the on-disk KV backend
	DatabaseURL string // optional: Postgres DSN for eventstore/sqlstore

	// Chain bridge.
	EthereumURL        string
	EthChainID         int64
	AdjudicatorAddress string
	ChainPollInterval  time.Duration

	// Local signing identity.
	SignerKeyPath string // path to the local secp256k1 key file

	LogLevel string
}

// Load reads configuration from environment variables, applying the
// same defaults-for-local-dev, required-for-production split teacher's
// loader uses.
func Load() *Config {
	return &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_PORT", "8081"),

		DataDir:     getEnv("DATA_DIR", "./data"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		EthereumURL:        getEnv("ETHEREUM_URL", ""),
		EthChainID:         getEnvInt64("ETH_CHAIN_ID", 11155111),
		AdjudicatorAddress: getEnv("ADJUDICATOR_ADDRESS", ""),
		ChainPollInterval:  getEnvDuration("CHAIN_POLL_INTERVAL", 15*time.Second),

		SignerKeyPath: getEnv("SIGNER_KEY_PATH", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// Validate enforces the settings a production deployment cannot run
// without. A purely local/in-memory run (DatabaseURL empty, EthereumURL
// empty) is legal — chain bridge and Postgres are optional collaborators
// per SPEC_FULL.md §1 — so Validate only rejects internally
// inconsistent combinations.
func (c *Config) Validate() error {
	var errs []string
	if c.EthereumURL != "" && c.AdjudicatorAddress == "" {
		errs = append(errs, "ADJUDICATOR_ADDRESS is required when ETHEREUM_URL is set")
	}
	if c.ChainPollInterval <= 0 {
		errs = append(errs, "CHAIN_POLL_INTERVAL must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
