package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Fetcher FetcherConfig `yaml:"fetcher" mapstructure:"fetcher"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Recon   ReconConfig   `yaml:"recon" mapstructure:"recon"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FetcherConfig configures SEC downloads.
type FetcherConfig struct {
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CompanyFactsURL string `yaml:"company_facts_url" mapstructure:"company_facts_url"`
}

// RetryConfig configures retries of transient network and database errors.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// InitialBackoff returns the configured initial backoff.
func (r RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the configured backoff cap.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

// ReconConfig configures reconciliation runs.
type ReconConfig struct {
	Workers          int    `yaml:"workers" mapstructure:"workers"`
	LeewayDays       int    `yaml:"leeway_days" mapstructure:"leeway_days"`
	FloorDate        string `yaml:"floor_date" mapstructure:"floor_date"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	BatchAttempts    int    `yaml:"batch_attempts" mapstructure:"batch_attempts"`
	CalendarFallback bool   `yaml:"calendar_fallback" mapstructure:"calendar_fallback"`
	Manifest         string `yaml:"manifest" mapstructure:"manifest"`
}

// Floor parses FloorDate; an empty value returns the zero time.
func (r ReconConfig) Floor() (time.Time, error) {
	if r.FloorDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, r.FloorDate)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse recon.floor_date %q", r.FloorDate)
	}
	return t, nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FILING_RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("fetcher.user_agent", "filing-recon/1.0")
	v.SetDefault("fetcher.timeout_secs", 60)
	v.SetDefault("fetcher.company_facts_url", "https://data.sec.gov/api/xbrl/companyfacts")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("recon.workers", 5)
	v.SetDefault("recon.leeway_days", 15)
	v.SetDefault("recon.floor_date", "1753-01-01")
	v.SetDefault("recon.batch_size", 50)
	v.SetDefault("recon.batch_attempts", 3)
	v.SetDefault("recon.calendar_fallback", false)
	v.SetDefault("recon.manifest", "companies.yaml")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "reconcile",
// "migrate" or "runs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "reconcile":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Recon.Workers < 1 || c.Recon.Workers > 64 {
			errs = append(errs, "recon.workers must be between 1 and 64")
		}
		if c.Recon.LeewayDays < 0 {
			errs = append(errs, "recon.leeway_days must be >= 0")
		}
		if c.Recon.BatchSize < 1 {
			errs = append(errs, "recon.batch_size must be > 0")
		}
		if c.Recon.BatchAttempts < 1 {
			errs = append(errs, "recon.batch_attempts must be > 0")
		}
		if _, err := c.Recon.Floor(); err != nil {
			errs = append(errs, fmt.Sprintf("recon.floor_date must be YYYY-MM-DD, got %q", c.Recon.FloorDate))
		}
		if c.Fetcher.UserAgent == "" {
			errs = append(errs, "fetcher.user_agent is required")
		}
	case "migrate", "runs":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
