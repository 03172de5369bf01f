package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "discovery.db", cfg.Store.Path)
	assert.Equal(t, "sources.yaml", cfg.Sources.RegistryPath)
	assert.Equal(t, "UTILITY", cfg.Territory.UtilityField)
	assert.InDelta(t, 10.0, cfg.Territory.GeocoderRPS, 0.001)
	assert.Equal(t, 3, cfg.Resilience.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Resilience.Retry.InitialBackoffMs)
	assert.InDelta(t, 0.25, cfg.Resilience.Retry.JitterFraction, 0.001)
	assert.Equal(t, 5, cfg.Resilience.Circuit.FailureThreshold)
	assert.Equal(t, 30, cfg.Resilience.Circuit.ResetTimeoutSecs)
	assert.Equal(t, 72, cfg.Enrich.CooldownHours)
	assert.Equal(t, 25, cfg.Enrich.TraceLimit)
	assert.InDelta(t, 5.0, cfg.Enrich.SkipTracer.RatePerSec, 0.001)
	assert.InDelta(t, 10.0, cfg.Compliance.FederalDNC.RatePerSec, 0.001)
	assert.Equal(t, 50, cfg.Activation.MinScore)
	assert.Equal(t, 8, cfg.Activation.BatchConcurrency)
	assert.Equal(t, "md-sdat", cfg.Pipeline.SourceID)
	assert.Equal(t, 1000, cfg.Pipeline.DiscoveryLimit)
	assert.False(t, cfg.Pipeline.AutoActivate)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/leads
log:
  level: debug
  format: console
server:
  port: 9090
activation:
  min_score: 65
enrich:
  cooldown_hours: 24
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/leads", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 65, cfg.Activation.MinScore)
	assert.Equal(t, 24, cfg.Enrich.CooldownHours)
	// Defaults still apply for unset values
	assert.Equal(t, 8, cfg.Activation.BatchConcurrency)
	assert.Equal(t, "sources.yaml", cfg.Sources.RegistryPath)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DISCOVERY_STORE_DRIVER", "postgres")
	t.Setenv("DISCOVERY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DISCOVERY_SERVER_PORT", "3000")
	t.Setenv("DISCOVERY_ENRICH_COOLDOWN_HOURS", "12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Enrich.CooldownHours)
}

func TestCooldownDuration(t *testing.T) {
	cfg := EnrichConfig{CooldownHours: 48}
	assert.Equal(t, "48h0m0s", cfg.Cooldown().String())
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

// validDefaults mirrors the Load defaults for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "discovery.db"
	cfg.Sources.RegistryPath = "sources.yaml"
	cfg.Enrich.CooldownHours = 72
	cfg.Activation.MinScore = 50
	cfg.Activation.BatchConcurrency = 8
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateDiscover(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("discover"))

	cfg.Sources.RegistryPath = ""
	err := cfg.Validate("discover")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sources.registry_path is required")
}

func TestValidateEnrich_RequiresTracer(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("enrich")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "enrich.skip_tracer.base_url is required")

	cfg.Enrich.SkipTracer.BaseURL = "https://trace.example.com"
	assert.NoError(t, cfg.Validate("enrich"))
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("discover")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/leads"
	assert.NoError(t, cfg.Validate("discover"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("discover")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateActivationBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Activation.MinScore = 120
	err := cfg.Validate("activate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "activation.min_score must be between 0 and 100")

	cfg.Activation.MinScore = 50
	cfg.Activation.BatchConcurrency = 0
	err = cfg.Validate("activate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "activation.batch_concurrency must be between 1 and 50")

	cfg.Activation.BatchConcurrency = 50
	assert.NoError(t, cfg.Validate("activate"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
