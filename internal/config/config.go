package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SteelMorgan/nginx-sqlize/internal/retry"
)

const (
	DefaultDBPath           = "nginx_logs.db"
	DefaultBatchSize        = 1000
	MinBatchSize            = 100
	MaxBatchSize            = 100000
	DefaultFingerprintBytes = 8192

	envPrefix = "NGINX_SQLIZE_"
)

// Config holds all configuration for the application
type Config struct {
	DBPath           string `yaml:"db_path"`
	BatchSize        int    `yaml:"batch_size"`
	FingerprintBytes int64  `yaml:"fingerprint_bytes"` // Prefix hashed to detect rotation

	// Observability
	LogLevel string        `yaml:"log_level"`
	LogFile  string        `yaml:"log_file"`
	Tracing  TracingConfig `yaml:"tracing"`

	Retry RetryConfig `yaml:"retry"`
}

// TracingConfig configures the OTLP exporter
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc or http
}

// RetryConfig configures retries of busy SQLite transactions
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DBPath:           DefaultDBPath,
		BatchSize:        DefaultBatchSize,
		FingerprintBytes: DefaultFingerprintBytes,
		LogLevel:         "info",
		Tracing: TracingConfig{
			Protocol: "grpc",
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// NGINX_SQLIZE_* environment variables, then applies overrides (CLI flags)
// and validates the result.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides fields from the environment
func (c *Config) applyEnv() {
	c.DBPath = getEnv("DB", c.DBPath)
	c.BatchSize = getEnvInt("BATCH_SIZE", c.BatchSize)
	c.FingerprintBytes = int64(getEnvInt("FINGERPRINT_BYTES", int(c.FingerprintBytes)))

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Protocol = getEnv("OTLP_PROTOCOL", c.Tracing.Protocol)

	c.Retry.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.InitialDelay = getEnvDuration("RETRY_INITIAL_DELAY", c.Retry.InitialDelay)
	c.Retry.MaxDelay = getEnvDuration("RETRY_MAX_DELAY", c.Retry.MaxDelay)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if c.BatchSize < MinBatchSize || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size must be between %d and %d, got %d", MinBatchSize, MaxBatchSize, c.BatchSize)
	}
	if c.FingerprintBytes < 1 {
		return fmt.Errorf("fingerprint bytes must be at least 1")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Tracing.Enabled && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		return fmt.Errorf("tracing protocol must be grpc or http, got %q", c.Tracing.Protocol)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry delays must satisfy 0 < initial_delay <= max_delay")
	}

	return nil
}

// RetryPolicy converts the retry section for internal/retry
func (c *Config) RetryPolicy() retry.Config {
	policy := retry.DefaultConfig()
	policy.MaxAttempts = c.Retry.MaxAttempts
	policy.InitialDelay = c.Retry.InitialDelay
	policy.MaxDelay = c.Retry.MaxDelay
	policy.Multiplier = c.Retry.Multiplier
	return policy
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
