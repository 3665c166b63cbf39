package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"exec_quality/internal/domain"
	"exec_quality/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.ChunkSize != engine.DefaultWindowSize {
		t.Errorf("Expected default chunk size, got %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.UnmatchedPolicy() != engine.UnmatchedDrop {
		t.Errorf("Expected drop policy, got %s", cfg.UnmatchedPolicy())
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("Expected :8000, got %s", cfg.Server.Addr)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  chunk_size: 250
  unmatched_policy: report
  output_dir: out
storage:
  enabled: true
  driver: sqlite
`)
	t.Setenv("ETL_CHUNK_SIZE", "10")
	t.Setenv("ETL_OUTPUT_DIR", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.ChunkSize != 10 {
		t.Errorf("env should override chunk size, got %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.UnmatchedPolicy() != engine.UnmatchedReport {
		t.Errorf("Expected report policy, got %s", cfg.UnmatchedPolicy())
	}
	if cfg.Pipeline.OutputDir != "out" {
		t.Errorf("Expected output dir from file, got %s", cfg.Pipeline.OutputDir)
	}
	if cfg.Fetch.MaxAttempts != 3 {
		t.Errorf("unset keys should keep defaults, got %d", cfg.Fetch.MaxAttempts)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"chunk size", func(c *Config) { c.Pipeline.ChunkSize = 0 }, "pipeline.chunk_size"},
		{"policy", func(c *Config) { c.Pipeline.UnmatchedPolicy = "ignore" }, "pipeline.unmatched_policy"},
		{"output dir", func(c *Config) { c.Pipeline.OutputDir = "" }, "pipeline.output_dir"},
		{"driver", func(c *Config) { c.Storage.Enabled = true; c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres dsn", func(c *Config) { c.Storage.Enabled = true; c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }, "fetch.max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			var ce *domain.ConfigError
			if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != tt.field {
				t.Errorf("expected ConfigError on %s, got %v", tt.field, err)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, "pipeline: [")

	_, err := LoadConfig(path)
	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}
