/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string

	// Queue model
	AverageServiceMinutes int // predicted per-truck service time used by the sequencer
	LongWaitMinutes       int // wait beyond this flags long_wait

	// Reconciler
	ReconcileInterval time.Duration

	// Redis cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event bridge (optional; empty disables)
	NATSURL string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("BRIMIR_ENV", "development"),
		HTTPBind:      getEnv("BRIMIR_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("BRIMIR_HTTP_PORT", 8080),
		DBBackend:     DatabaseBackend(getEnv("BRIMIR_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:         getEnv("BRIMIR_DB_DSN", ""),
		JWTSigningKey: getEnv("BRIMIR_JWT_SIGNING_KEY", ""),

		AverageServiceMinutes: getEnvInt("BRIMIR_AVG_SERVICE_MINUTES", 45),
		LongWaitMinutes:       getEnvInt("BRIMIR_LONG_WAIT_MINUTES", 120),

		ReconcileInterval: time.Duration(getEnvInt("BRIMIR_RECONCILE_INTERVAL_SECONDS", 60)) * time.Second,

		RedisAddr:     getEnv("BRIMIR_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("BRIMIR_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("BRIMIR_REDIS_DB", 0),

		NATSURL: getEnv("BRIMIR_NATS_URL", ""),

		TracingEnabled:    getEnvBool("BRIMIR_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("BRIMIR_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("BRIMIR_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("BRIMIR_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("BRIMIR_JWT_SIGNING_KEY must be provided")
	}

	if cfg.AverageServiceMinutes <= 0 {
		return nil, fmt.Errorf("BRIMIR_AVG_SERVICE_MINUTES must be positive")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
