package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"exec_quality/internal/domain"
	"exec_quality/internal/engine"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the ETL.
// LoadConfig reads the YAML file first; environment variables then override it.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Pipeline struct {
		ChunkSize       int    `yaml:"chunk_size"`
		UnmatchedPolicy string `yaml:"unmatched_policy"` // drop, fail, report
		OutputDir       string `yaml:"output_dir"`
		DataDir         string `yaml:"data_dir"` // Local fixtures backing s3:// sources
	} `yaml:"pipeline"`

	Sources struct {
		Orders string `yaml:"orders"`
		Trades string `yaml:"trades"`
		Quotes string `yaml:"quotes"`
	} `yaml:"sources"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Driver  string `yaml:"driver"` // sqlite, postgres
		DSN     string `yaml:"dsn"`
	} `yaml:"storage"`

	Fetch struct {
		TimeoutSec  int `yaml:"timeout_sec"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"fetch"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		File    string `yaml:"file"` // Empty means stdout
	} `yaml:"tracing"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "exec-quality-etl"
	cfg.App.Version = "1.0.0"
	cfg.Pipeline.ChunkSize = engine.DefaultWindowSize
	cfg.Pipeline.UnmatchedPolicy = string(engine.UnmatchedDrop)
	cfg.Pipeline.OutputDir = "output"
	cfg.Pipeline.DataDir = "data"
	cfg.Sources.Orders = "data/orders_sample.csv"
	cfg.Sources.Trades = "data/trades_sample.csv"
	cfg.Sources.Quotes = "data/nbbo_sample.csv"
	cfg.Server.Addr = ":8000"
	cfg.Storage.Driver = "sqlite"
	cfg.Fetch.TimeoutSec = 30
	cfg.Fetch.MaxAttempts = 3
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Logging.File = "etl.log"
	return cfg
}

// LoadConfig reads the YAML file at path on top of the defaults.
// A missing file is not an error; a .env file in the working directory is honored.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults + env only
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, &domain.ConfigError{Field: path, Err: err}
			}
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return &domain.ConfigError{Field: "pipeline.chunk_size", Err: errors.New("must be positive")}
	}
	if _, err := engine.ParseUnmatchedPolicy(c.Pipeline.UnmatchedPolicy); err != nil {
		return &domain.ConfigError{Field: "pipeline.unmatched_policy", Err: err}
	}
	if c.Pipeline.OutputDir == "" {
		return &domain.ConfigError{Field: "pipeline.output_dir", Err: errors.New("must not be empty")}
	}

	if c.Storage.Enabled {
		switch c.Storage.Driver {
		case "sqlite":
		case "postgres":
			if c.Storage.DSN == "" {
				return &domain.ConfigError{Field: "storage.dsn", Err: errors.New("required for postgres")}
			}
		default:
			return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unsupported driver %q", c.Storage.Driver)}
		}
	}

	if c.Fetch.MaxAttempts <= 0 {
		return &domain.ConfigError{Field: "fetch.max_attempts", Err: errors.New("must be positive")}
	}
	return nil
}

// UnmatchedPolicy returns the validated join policy.
func (c *Config) UnmatchedPolicy() engine.UnmatchedPolicy {
	p, _ := engine.ParseUnmatchedPolicy(c.Pipeline.UnmatchedPolicy)
	return p
}

// overrideWithEnv applies ETL_* environment variables when present.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("ETL_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ChunkSize = n
		}
	}
	if v := os.Getenv("ETL_UNMATCHED_POLICY"); v != "" {
		cfg.Pipeline.UnmatchedPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("ETL_OUTPUT_DIR"); v != "" {
		cfg.Pipeline.OutputDir = v
	}
	if v := os.Getenv("ETL_DATA_DIR"); v != "" {
		cfg.Pipeline.DataDir = v
	}
	if v := os.Getenv("ETL_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ETL_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
		cfg.Storage.Enabled = true
	}
	// Secrets live in the environment, never in the YAML file.
	if v := os.Getenv("ETL_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("ETL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ETL_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
}
