// Copyright 2026 Provenact Labs
//
// Node configuration, read from environment variables. The operator
// federation itself (ids, keys, endpoints) lives in a YAML file loaded by
// pkg/registry; everything here is per-node runtime tuning.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for one operator node.
type Config struct {
	// Identity
	OperatorID     string
	OperatorKeyHex string // hex-encoded secp256k1 private key
	OperatorsFile  string // YAML federation registry

	// Protocol parameters
	QuorumM                     int
	QuorumN                     int
	CommitteeK                  int
	CheckpointIntervalMs        int64
	MaxFutureClockSkewMs        int64
	MaxPastClockSkewMs          int64
	AttestationMinConfirmations int
	ActiveSignatureRatio        float64
	ActiveInactivityMs          int64
	ChainID                     string

	// Server configuration
	ListenAddr  string
	MetricsAddr string

	// Storage
	DataDir     string
	DatabaseURL string // optional Postgres archive mirror

	// Timeouts
	PeerTimeout time.Duration
	RPCTimeout  time.Duration

	LogLevel string
}

// Load reads configuration from environment variables with protocol
// defaults. Call Validate before starting the node.
func Load() (*Config, error) {
	cfg := &Config{
		OperatorID:     getEnv("OPERATOR_ID", ""),
		OperatorKeyHex: getEnv("OPERATOR_KEY", ""),
		OperatorsFile:  getEnv("OPERATORS_FILE", "operators.yaml"),

		QuorumM:                     getEnvInt("QUORUM_M", 3),
		QuorumN:                     getEnvInt("QUORUM_N", 5),
		CommitteeK:                  getEnvInt("COMMITTEE_K", 5),
		CheckpointIntervalMs:        getEnvInt64("CHECKPOINT_INTERVAL_MS", 3_600_000),
		MaxFutureClockSkewMs:        getEnvInt64("MAX_FUTURE_CLOCK_SKEW_MS", 300_000),
		MaxPastClockSkewMs:          getEnvInt64("MAX_PAST_CLOCK_SKEW_MS", 86_400_000),
		AttestationMinConfirmations: getEnvInt("ATTESTATION_MIN_CONFIRMATIONS", 1),
		ActiveSignatureRatio:        getEnvFloat("ACTIVE_SIGNATURE_RATIO", 0.80),
		ActiveInactivityMs:          getEnvInt64("ACTIVE_INACTIVITY_MS", 7*24*3_600_000),
		ChainID:                     getEnv("CHAIN_ID", "bitcoin-mainnet"),

		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),

		DataDir:     getEnv("DATA_DIR", "./data"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		PeerTimeout: getEnvDuration("PEER_TIMEOUT", 5*time.Second),
		RPCTimeout:  getEnvDuration("RPC_TIMEOUT", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks that the configuration can run a node.
func (c *Config) Validate() error {
	var problems []string

	if c.OperatorID == "" {
		problems = append(problems, "OPERATOR_ID is required but not set")
	}
	if c.OperatorKeyHex == "" {
		problems = append(problems, "OPERATOR_KEY is required but not set")
	}
	if c.OperatorsFile == "" {
		problems = append(problems, "OPERATORS_FILE is required but not set")
	}
	if c.QuorumM < 1 || c.QuorumM > c.QuorumN {
		problems = append(problems, fmt.Sprintf("quorum M=%d must satisfy 1 <= M <= N=%d", c.QuorumM, c.QuorumN))
	}
	if c.CommitteeK < c.QuorumM {
		problems = append(problems, fmt.Sprintf("committee K=%d must be at least M=%d", c.CommitteeK, c.QuorumM))
	}
	if c.ActiveSignatureRatio <= 0 || c.ActiveSignatureRatio > 1 {
		problems = append(problems, "ACTIVE_SIGNATURE_RATIO must be within (0, 1]")
	}
	if c.CheckpointIntervalMs <= 0 {
		problems = append(problems, "CHECKPOINT_INTERVAL_MS must be positive")
	}
	if c.ChainID == "" {
		problems = append(problems, "CHAIN_ID is required but not set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
