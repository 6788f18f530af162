package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nginx-sqlize.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Layers(t *testing.T) {
	path := writeConfig(t, `
db_path: /data/from-file.db
batch_size: 500
retry:
  max_attempts: 3
  initial_delay: 10ms
  max_delay: 1s
  multiplier: 1.5
`)

	tests := []struct {
		name      string
		path      string
		env       map[string]string
		overrides []func(*Config)
		checks    func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			checks: func(t *testing.T, cfg *Config) {
				if cfg.DBPath != DefaultDBPath || cfg.BatchSize != DefaultBatchSize {
					t.Errorf("defaults not applied: %+v", cfg)
				}
				if cfg.FingerprintBytes != DefaultFingerprintBytes {
					t.Errorf("FingerprintBytes = %d", cfg.FingerprintBytes)
				}
			},
		},
		{
			name: "file",
			path: path,
			checks: func(t *testing.T, cfg *Config) {
				if cfg.DBPath != "/data/from-file.db" || cfg.BatchSize != 500 {
					t.Errorf("file not applied: %+v", cfg)
				}
				if cfg.Retry.InitialDelay != 10*time.Millisecond || cfg.Retry.MaxAttempts != 3 {
					t.Errorf("retry not applied: %+v", cfg.Retry)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("unset field should keep default, got %q", cfg.LogLevel)
				}
			},
		},
		{
			name: "env over file",
			path: path,
			env:  map[string]string{"NGINX_SQLIZE_BATCH_SIZE": "2000", "NGINX_SQLIZE_LOG_LEVEL": "debug"},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.BatchSize != 2000 || cfg.LogLevel != "debug" {
					t.Errorf("env not applied: %+v", cfg)
				}
				if cfg.DBPath != "/data/from-file.db" {
					t.Errorf("DBPath = %q", cfg.DBPath)
				}
			},
		},
		{
			name:      "flags over env",
			env:       map[string]string{"NGINX_SQLIZE_DB": "/env.db"},
			overrides: []func(*Config){func(c *Config) { c.DBPath = "/flag.db" }},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.DBPath != "/flag.db" {
					t.Errorf("DBPath = %q, want /flag.db", cfg.DBPath)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(tt.path, tt.overrides...)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.checks(t, cfg)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "batch_size: [1, 2")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"batch too small", func(c *Config) { c.BatchSize = 99 }, "batch size"},
		{"batch too large", func(c *Config) { c.BatchSize = 100001 }, "batch size"},
		{"batch lower bound", func(c *Config) { c.BatchSize = 100 }, ""},
		{"empty db", func(c *Config) { c.DBPath = " " }, "db path"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad protocol", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Protocol = "udp" }, "tracing protocol"},
		{"protocol ignored when disabled", func(c *Config) { c.Tracing.Protocol = "udp" }, ""},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max attempts"},
		{"delays inverted", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "retry delays"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
