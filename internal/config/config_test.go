package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "filing-recon/1.0", cfg.Fetcher.UserAgent)
	assert.Equal(t, 60, cfg.Fetcher.TimeoutSecs)
	assert.Equal(t, "https://data.sec.gov/api/xbrl/companyfacts", cfg.Fetcher.CompanyFactsURL)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff())
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff())
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.InDelta(t, 0.25, cfg.Retry.JitterFraction, 0.001)
	assert.Equal(t, 5, cfg.Recon.Workers)
	assert.Equal(t, 15, cfg.Recon.LeewayDays)
	assert.Equal(t, 50, cfg.Recon.BatchSize)
	assert.Equal(t, 3, cfg.Recon.BatchAttempts)
	assert.False(t, cfg.Recon.CalendarFallback)
	assert.Equal(t, "companies.yaml", cfg.Recon.Manifest)

	floor, err := cfg.Recon.Floor()
	require.NoError(t, err)
	assert.Equal(t, time.Date(1753, time.January, 1, 0, 0, 0, 0, time.UTC), floor)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  database_url: postgres://localhost/recon
log:
  level: debug
  format: console
recon:
  workers: 8
  calendar_fallback: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/recon", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Recon.Workers)
	assert.True(t, cfg.Recon.CalendarFallback)
	// Defaults still apply for unset values
	assert.Equal(t, 15, cfg.Recon.LeewayDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
recon:
  leeway_days: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FILING_RECON_LOG_LEVEL", "warn")
	t.Setenv("FILING_RECON_RECON_LEEWAY_DAYS", "20")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Recon.LeewayDays)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("recon: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Fetcher.UserAgent = "test agent@example.com"
	cfg.Recon.Workers = 5
	cfg.Recon.LeewayDays = 15
	cfg.Recon.FloorDate = "1753-01-01"
	cfg.Recon.BatchSize = 50
	cfg.Recon.BatchAttempts = 3
	return cfg
}

func TestValidateReconcile(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("reconcile"))
}

func TestValidateReconcile_Invalid(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Recon.Workers = 0
	cfg.Recon.FloorDate = "01/01/1753"

	err := cfg.Validate("reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "recon.workers must be between 1 and 64")
	assert.Contains(t, err.Error(), "recon.floor_date must be YYYY-MM-DD")
}

func TestValidateMigrate(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
