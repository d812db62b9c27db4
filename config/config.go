package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8081"`
	DataDir  string `env:"DATA_DIR" envDefault:"/data"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Exactly one of APIKey or APIKeyHash (bcrypt) must be set.
	APIKey        string `env:"API_KEY"`
	APIKeyHash    string `env:"API_KEY_HASH"`
	SessionSecret string `env:"SESSION_SECRET"`
	BehindProxy   bool   `env:"BEHIND_PROXY" envDefault:"false"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	RedisURL     string `env:"REDIS_URL"`
	DatabaseURL  string `env:"DATABASE_URL"`
	DBMaxConns   int    `env:"DB_MAX_CONNS" envDefault:"4"`

	PipelineCommand string   `env:"PIPELINE_COMMAND,notEmpty"`
	PipelineArgs    []string `env:"PIPELINE_ARGS" envSeparator:" "`
	PipelineWorkDir string   `env:"PIPELINE_WORK_DIR"`

	MaxJobDuration    time.Duration `env:"MAX_JOB_DURATION" envDefault:"1h"`
	PipelineStopGrace time.Duration `env:"PIPELINE_STOP_GRACE" envDefault:"30s"`
	ProgressStep      float64       `env:"PROGRESS_STEP" envDefault:"1.0"`
	WaitEstimateSeed  time.Duration `env:"WAIT_ESTIMATE_SEED" envDefault:"5m"`
	WaitEstimateAlpha float64       `env:"WAIT_ESTIMATE_ALPHA" envDefault:"0.3"`

	CallbackMaxAttempts int           `env:"CALLBACK_MAX_ATTEMPTS" envDefault:"5"`
	CallbackBaseDelay   time.Duration `env:"CALLBACK_BASE_DELAY" envDefault:"2s"`
	CallbackMaxDelay    time.Duration `env:"CALLBACK_MAX_DELAY" envDefault:"5m"`
	CallbackTimeout     time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"30s"`
	CallbackWorkers     int           `env:"CALLBACK_WORKERS" envDefault:"2"`

	JobRetention    time.Duration `env:"JOB_RETENTION" envDefault:"24h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	DedupeActive    bool          `env:"DEDUPE_ACTIVE" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.PipelineWorkDir == "" {
		cfg.PipelineWorkDir = filepath.Join(cfg.DataDir, "work")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT: %d", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: want debug, info, warn or error", c.LogLevel))
	}

	switch {
	case c.APIKey == "" && c.APIKeyHash == "":
		errs = append(errs, errors.New("API_KEY or API_KEY_HASH is required"))
	case c.APIKey != "" && c.APIKeyHash != "":
		errs = append(errs, errors.New("set only one of API_KEY and API_KEY_HASH"))
	}

	switch c.StoreBackend {
	case StoreSQLite:
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when STORE_BACKEND=redis"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
		if c.DBMaxConns < 1 {
			errs = append(errs, errors.New("DB_MAX_CONNS must be at least 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q: want sqlite, redis or postgres", c.StoreBackend))
	}

	if c.MaxJobDuration <= 0 {
		errs = append(errs, errors.New("MAX_JOB_DURATION must be positive"))
	}
	if c.PipelineStopGrace <= 0 {
		errs = append(errs, errors.New("PIPELINE_STOP_GRACE must be positive"))
	}
	if c.ProgressStep < 0 || c.ProgressStep > 100 {
		errs = append(errs, fmt.Errorf("PROGRESS_STEP must be within [0,100], got %v", c.ProgressStep))
	}
	if c.WaitEstimateSeed <= 0 {
		errs = append(errs, errors.New("WAIT_ESTIMATE_SEED must be positive"))
	}
	if c.WaitEstimateAlpha <= 0 || c.WaitEstimateAlpha > 1 {
		errs = append(errs, fmt.Errorf("WAIT_ESTIMATE_ALPHA must be within (0,1], got %v", c.WaitEstimateAlpha))
	}

	if c.CallbackMaxAttempts < 1 {
		errs = append(errs, errors.New("CALLBACK_MAX_ATTEMPTS must be at least 1"))
	}
	if c.CallbackBaseDelay <= 0 || c.CallbackMaxDelay < c.CallbackBaseDelay {
		errs = append(errs, errors.New("CALLBACK_BASE_DELAY must be positive and not exceed CALLBACK_MAX_DELAY"))
	}
	if c.CallbackTimeout <= 0 {
		errs = append(errs, errors.New("CALLBACK_TIMEOUT must be positive"))
	}
	if c.CallbackWorkers < 1 {
		errs = append(errs, errors.New("CALLBACK_WORKERS must be at least 1"))
	}

	if c.JobRetention <= 0 {
		errs = append(errs, errors.New("JOB_RETENTION must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) OutputDir() string {
	return filepath.Join(c.DataDir, "outputs")
}
