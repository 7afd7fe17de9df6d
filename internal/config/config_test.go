package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PG_DSN", "PG_ENABLED", "PG_AUTO_MIGRATE", "PG_MAX_OPEN_CONNS", "PG_MAX_IDLE_CONNS",
	"PG_CONN_MAX_LIFETIME", "PG_CONN_MAX_IDLE_TIME", "PG_QUERY_TIMEOUT",
	"SWINGRUN_LOG_LEVEL", "SWINGRUN_LOG_FORMAT", "REDIS_ADDR", "REDIS_PASSWORD",
	"SWINGRUN_CACHE_BACKEND", "SWINGRUN_LEASE_BACKEND", "POLYGON_API_KEY",
	"SWINGRUN_PRICE_SOURCE", "SWINGRUN_SIGNALS_SOURCE", "SWINGRUN_CATALYST_CALENDAR", "HTTP_PORT", "SWINGRUN_ACCOUNT_EQUITY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swingrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Database.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceYahoo, cfg.MarketData.Source)
	assert.Equal(t, BackendLocal, cfg.Lease.Backend)
	assert.Equal(t, 21, cfg.Engine.Evaluate.Exits.MaxHoldDays)
	assert.Equal(t, 0.75, cfg.Engine.Evaluate.Stagnation.ExitThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Engine.Interval)
	require.NotNil(t, cfg.MarketData.Guard.Breaker)
	assert.Equal(t, uint32(3), cfg.MarketData.Guard.Breaker.ConsecutiveFailures)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
marketdata:
  source: synthetic
  guard:
    max_retries: 1
engine:
  interval: 5m
  evaluate:
    workers: 2
    exits:
      max_hold_days: 15
http:
  port: 9090
  request_timeout: 45s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, SourceSynthetic, cfg.MarketData.Source)
	assert.Equal(t, 1, cfg.MarketData.Guard.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.MarketData.Guard.BaseBackoff)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Interval)
	assert.Equal(t, 2, cfg.Engine.Evaluate.Workers)
	assert.Equal(t, 15, cfg.Engine.Evaluate.Exits.MaxHoldDays)
	assert.Equal(t, 2.0, cfg.Engine.Evaluate.Exits.TrailPct)
	assert.Equal(t, 8.0, cfg.Engine.Evaluate.Exits.TrailingFloorPct)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 45*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SWINGRUN_PRICE_SOURCE", "Polygon")
	t.Setenv("POLYGON_API_KEY", "pk-test")
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SWINGRUN_LEASE_BACKEND", "redis")
	t.Setenv("SWINGRUN_ACCOUNT_EQUITY", "250000")
	t.Setenv("PG_ENABLED", "true")
	t.Setenv("PG_DSN", "postgres://swing@localhost/swingrun?sslmode=disable")
	t.Setenv("SWINGRUN_CATALYST_CALENDAR", "/etc/swingrun/calendar.yaml")

	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, SourcePolygon, cfg.MarketData.Source)
	assert.Equal(t, "pk-test", cfg.MarketData.Polygon.APIKey)
	assert.Equal(t, "pk-test", cfg.Signals.News.APIKey)
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, "redis:6379", cfg.Lease.Addr)
	assert.Equal(t, BackendRedis, cfg.Lease.Backend)
	assert.Equal(t, 250000.0, cfg.Engine.Entry.AccountEquity)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/etc/swingrun/calendar.yaml", cfg.Signals.EventsFile)
}

func TestLoad_FileKeyWinsOverEnvKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLYGON_API_KEY", "from-env")

	cfg, err := Load(writeConfig(t, "marketdata:\n  source: polygon\n  polygon:\n    api_key: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.MarketData.Polygon.APIKey)
	assert.Equal(t, "from-env", cfg.Signals.News.APIKey)
}

func TestLoad_MissingFiles(t *testing.T) {
	clearEnv(t)

	// the package directory has no config/swingrun.yaml
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().MarketData.Source, cfg.MarketData.Source)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "engine: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestLoad_RepositoryConfig(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join("..", "..", "config", "swingrun.yaml"))
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Engine.Evaluate.Exits, cfg.Engine.Evaluate.Exits)
	assert.Equal(t, d.Engine.Evaluate.Stagnation, cfg.Engine.Evaluate.Stagnation)
	assert.Equal(t, d.Engine.Regime, cfg.Engine.Regime)
	assert.Equal(t, d.Signals.Registry, cfg.Signals.Registry)
	assert.Equal(t, d.HTTP, cfg.HTTP)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *AppConfig)
		errMsg string
	}{
		{"unknown_source", func(c *AppConfig) { c.MarketData.Source = "bloomberg" }, "unknown source"},
		{"static_without_file", func(c *AppConfig) { c.MarketData.Source = SourceStatic }, "static_file"},
		{"polygon_without_key", func(c *AppConfig) { c.MarketData.Source = SourcePolygon }, "api key"},
		{"signals_static_without_file", func(c *AppConfig) { c.Signals.Source = SignalsStatic }, "static_file"},
		{"unknown_cache", func(c *AppConfig) { c.Cache.Backend = "memcached" }, "unknown backend"},
		{"redis_cache_without_addr", func(c *AppConfig) {
			c.Cache.Backend = BackendRedis
			c.Cache.Redis.Addr = ""
		}, "redis addr"},
		{"unknown_lease", func(c *AppConfig) { c.Lease.Backend = "etcd" }, "unknown backend"},
		{"port_out_of_range", func(c *AppConfig) { c.HTTP.Port = 70000 }, "port"},
		{"db_without_dsn", func(c *AppConfig) { c.Database.Enabled = true }, "DSN"},
		{"watch_above_exit", func(c *AppConfig) { c.Engine.Evaluate.Stagnation.WatchThreshold = 0.9 }, "watch_threshold"},
		{"cautious_above_shutdown", func(c *AppConfig) { c.Engine.Regime.CautiousVIX = 40 }, "cautious_vix"},
		{"negative_workers", func(c *AppConfig) { c.Engine.Evaluate.Workers = -1 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
