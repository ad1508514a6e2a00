// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/R3DRVM/BlossomV2/pkg/observability"
	"github.com/R3DRVM/BlossomV2/pkg/policy"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds process configuration.
type Config struct {
	Store       string
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	LogLevel   string
	PolicyFile string

	// Workers bounds concurrent executions in a batch.
	Workers int

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
	OTelCAFile   string
	OTelSample   float64
}

// Load reads configuration from environment variables. Unset variables fall back to
// development defaults; malformed numeric values are an error.
func Load() (*Config, error) {
	cfg := &Config{
		Store:         getenv("BLOSSOM_STORE", StoreSQLite),
		DatabaseURL:   getenv("DATABASE_URL", "postgres://blossom@localhost:5432/blossom?sslmode=disable"),
		SQLitePath:    getenv("BLOSSOM_SQLITE_PATH", "blossom.db"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:   getenv("BLOSSOM_REDIS_PREFIX", "blossom:"),
		LogLevel:      getenv("LOG_LEVEL", "INFO"),
		PolicyFile:    os.Getenv("BLOSSOM_POLICY_FILE"),
		OTelEnabled:   os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure:  os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		OTelCAFile:    os.Getenv("OTEL_EXPORTER_OTLP_CERTIFICATE"),
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Workers, err = intEnv("BLOSSOM_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.OTelSample, err = floatEnv("OTEL_TRACES_SAMPLER_ARG", 1.0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unsupported BLOSSOM_STORE %q", c.Store)
	}
	if c.Workers < 1 {
		return fmt.Errorf("BLOSSOM_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.OTelSample < 0 || c.OTelSample > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0,1], got %v", c.OTelSample)
	}
	return nil
}

// Policy loads the policy file, or the default policy when none is configured.
func (c *Config) Policy() (policy.Policy, error) {
	if c.PolicyFile == "" {
		return policy.Default(), nil
	}
	return policy.LoadFile(c.PolicyFile)
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values map to Info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Observability returns the telemetry provider config.
func (c *Config) Observability() *observability.Config {
	oc := observability.DefaultConfig()
	oc.Enabled = c.OTelEnabled
	oc.OTLPEndpoint = c.OTelEndpoint
	oc.Insecure = c.OTelInsecure
	oc.CAFile = c.OTelCAFile
	oc.SampleRate = c.OTelSample
	if env := os.Getenv("BLOSSOM_ENV"); env != "" {
		oc.Environment = env
	}
	oc.BatchTimeout = 2 * time.Second
	return oc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}
