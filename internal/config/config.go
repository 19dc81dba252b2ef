// Package config loads runtime settings from GACHA_* environment variables,
// optionally overlaid by a system JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/celerix-dev/celerix-gacha/internal/remote"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "GACHA_"

type Config struct {
	UsersDir    string `env:"USERS_DIR" envDefault:"./users"`
	KeyFile     string `env:"KEY_FILE" envDefault:"./config/secret.key"`
	JournalPath string `env:"JOURNAL_PATH" envDefault:"./data/journal.db"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"7002"`

	Schedule         string        `env:"SCHEDULE" envDefault:"0 30 4 * * *"`
	SchedulerEnabled bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	Concurrency      int           `env:"SYNC_CONCURRENCY" envDefault:"1"`
	Attempts         int           `env:"SYNC_ATTEMPTS" envDefault:"1"`
	RetryInterval    time.Duration `env:"SYNC_RETRY_INTERVAL" envDefault:"30s"`
	VerifyAccount    bool          `env:"VERIFY_ACCOUNT" envDefault:"false"`

	PageSize       int           `env:"PAGE_SIZE" envDefault:"50"`
	PageDelay      time.Duration `env:"PAGE_DELAY" envDefault:"500ms"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"0s"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	// SystemConfig names a JSON file whose api_endpoints and default_schedule
	// override the environment.
	SystemConfig string `env:"SYSTEM_CONFIG"`

	Endpoints remote.Endpoints `envPrefix:"API_"`
}

// systemFile is the layout of the system JSON overlay.
type systemFile struct {
	APIEndpoints    remote.Endpoints `json:"api_endpoints"`
	DefaultSchedule string           `json:"default_schedule"`
}

// Load parses the environment and applies the system overlay if configured.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SystemConfig != "" {
		if err := cfg.applySystemFile(cfg.SystemConfig); err != nil {
			return cfg, err
		}
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applySystemFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read system config: %w", err)
	}
	var sys systemFile
	if err := json.Unmarshal(raw, &sys); err != nil {
		return fmt.Errorf("parse system config %s: %w", path, err)
	}
	c.Endpoints = c.Endpoints.Merge(sys.APIEndpoints)
	if sys.DefaultSchedule != "" {
		c.Schedule = sys.DefaultSchedule
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.UsersDir == "":
		return fmt.Errorf("%sUSERS_DIR must not be empty", EnvPrefix)
	case c.KeyFile == "":
		return fmt.Errorf("%sKEY_FILE must not be empty", EnvPrefix)
	case c.Concurrency < 1:
		return fmt.Errorf("%sSYNC_CONCURRENCY must be at least 1, got %d", EnvPrefix, c.Concurrency)
	case c.Attempts < 1:
		return fmt.Errorf("%sSYNC_ATTEMPTS must be at least 1, got %d", EnvPrefix, c.Attempts)
	case c.PageSize < 1:
		return fmt.Errorf("%sPAGE_SIZE must be at least 1, got %d", EnvPrefix, c.PageSize)
	case c.PageDelay < 0 || c.RequestTimeout < 0:
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
