// Package config loads the swingrun application configuration: a YAML file
// layered over defaults, then a .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/swingrun/internal/application/entry"
	"github.com/sawpanic/swingrun/internal/application/evaluate"
	"github.com/sawpanic/swingrun/internal/catalyst"
	"github.com/sawpanic/swingrun/internal/infrastructure/cache"
	"github.com/sawpanic/swingrun/internal/infrastructure/db"
	"github.com/sawpanic/swingrun/internal/infrastructure/marketdata"
	"github.com/sawpanic/swingrun/internal/infrastructure/providers"
	monitor "github.com/sawpanic/swingrun/internal/interfaces/http"
	applog "github.com/sawpanic/swingrun/internal/log"
	"github.com/sawpanic/swingrun/internal/regime"
	"github.com/sawpanic/swingrun/internal/signals"
)

// DefaultPath is where the CLI looks for the config file
const DefaultPath = "config/swingrun.yaml"

// Price sources
const (
	SourceYahoo     = "yahoo"
	SourcePolygon   = "polygon"
	SourceStatic    = "static"
	SourceSynthetic = "synthetic"
)

// Signal sources
const (
	SignalsNone    = "none"
	SignalsStatic  = "static"
	SignalsPolygon = "polygon"
)

// Cache and lease backends
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendRedis  = "redis"
)

// AppConfig is the complete application configuration
type AppConfig struct {
	Log        applog.Options       `yaml:"log"`
	Database   db.Config            `yaml:"database"`
	Cache      CacheConfig          `yaml:"cache"`
	Lease      LeaseConfig          `yaml:"lease"`
	MarketData MarketDataConfig     `yaml:"marketdata"`
	Signals    SignalsConfig        `yaml:"signals"`
	Engine     EngineConfig         `yaml:"engine"`
	HTTP       monitor.ServerConfig `yaml:"http"`
}

// CacheConfig selects the daily bar cache
type CacheConfig struct {
	Backend string            `yaml:"backend"`  // Default: memory (none|memory|redis)
	BarsTTL time.Duration     `yaml:"bars_ttl"` // Default: 6h
	Redis   cache.RedisConfig `yaml:"redis"`
}

// LeaseConfig selects the single-writer lease. A redis lease without its own
// address shares the cache's Redis server.
type LeaseConfig struct {
	Backend  string `yaml:"backend"`  // Default: local (local|redis)
	Addr     string `yaml:"addr"`     // Default: cache.redis.addr
	Password string `yaml:"password"` // Default: cache.redis.password
	DB       int    `yaml:"db"`       // Default: 0
	Prefix   string `yaml:"prefix"`   // Default: swingrun:lease:
}

// MarketDataConfig selects and guards the price source
type MarketDataConfig struct {
	Source        string                   `yaml:"source"`         // Default: yahoo
	StaticFile    string                   `yaml:"static_file"`    // required for source=static
	SyntheticDays int                      `yaml:"synthetic_days"` // Default: 120
	Polygon       marketdata.PolygonConfig `yaml:"polygon"`
	Guard         marketdata.GuardConfig   `yaml:"guard"`
}

// SignalsConfig selects the invalidation and catalyst calendar source
type SignalsConfig struct {
	Source     string                  `yaml:"source"`      // Default: none
	StaticFile string                  `yaml:"static_file"` // required for source=static
	EventsFile string                  `yaml:"events_file"` // optional catalyst calendar, any source
	News       signals.NewsConfig      `yaml:"news"`
	Registry   catalyst.RegistryConfig `yaml:"registry"`
}

// EngineConfig groups the decision rule tables
type EngineConfig struct {
	Evaluate evaluate.Config       `yaml:"evaluate"`
	Entry    entry.Config          `yaml:"entry"`
	Regime   regime.DetectorConfig `yaml:"regime"`
	Interval time.Duration         `yaml:"interval"` // Default: 15m between monitor passes
}

// Default returns the configuration used when no file is present
func Default() *AppConfig {
	return &AppConfig{
		Log:      applog.Options{Level: "info", Format: applog.FormatAuto},
		Database: db.DefaultConfig(),
		Cache: CacheConfig{
			Backend: BackendMemory,
			BarsTTL: 6 * time.Hour,
			Redis:   cache.RedisConfig{Addr: "localhost:6379", Prefix: "swingrun:"},
		},
		Lease: LeaseConfig{Backend: BackendLocal, Prefix: "swingrun:lease:"},
		MarketData: MarketDataConfig{
			Source:        SourceYahoo,
			SyntheticDays: 120,
			Polygon:       marketdata.DefaultPolygonConfig(),
			Guard:         defaultGuard(),
		},
		Signals: SignalsConfig{
			Source:   SignalsNone,
			News:     signals.DefaultNewsConfig(),
			Registry: catalyst.DefaultRegistryConfig(),
		},
		Engine: EngineConfig{
			Evaluate: evaluate.DefaultConfig(),
			Entry:    entry.DefaultConfig(),
			Regime:   regime.DefaultDetectorConfig(),
			Interval: 15 * time.Minute,
		},
		HTTP: monitor.DefaultServerConfig(),
	}
}

func defaultGuard() marketdata.GuardConfig {
	g := marketdata.DefaultGuardConfig()
	g.Breaker = providers.DefaultCircuitBreakerConfig("")
	return g
}

// Load reads path over the defaults, applies .env and environment overrides
// and validates the result. A missing file at DefaultPath is not an error.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		log.Debug().Str("path", path).Msg("No config file, using defaults")
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.Database.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides
func (c *AppConfig) ApplyEnvOverrides() {
	c.Database.ApplyEnvOverrides()

	if v := os.Getenv("SWINGRUN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SWINGRUN_LOG_FORMAT"); v != "" {
		c.Log.Format = applog.Format(v)
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("SWINGRUN_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("SWINGRUN_LEASE_BACKEND"); v != "" {
		c.Lease.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		if c.MarketData.Polygon.APIKey == "" {
			c.MarketData.Polygon.APIKey = v
		}
		if c.Signals.News.APIKey == "" {
			c.Signals.News.APIKey = v
		}
	}
	if v := os.Getenv("SWINGRUN_PRICE_SOURCE"); v != "" {
		c.MarketData.Source = strings.ToLower(v)
	}
	if v := os.Getenv("SWINGRUN_SIGNALS_SOURCE"); v != "" {
		c.Signals.Source = strings.ToLower(v)
	}
	if v := os.Getenv("SWINGRUN_CATALYST_CALENDAR"); v != "" {
		c.Signals.EventsFile = v
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
	if v := os.Getenv("SWINGRUN_ACCOUNT_EQUITY"); v != "" {
		if equity, err := strconv.ParseFloat(v, 64); err == nil {
			c.Engine.Entry.AccountEquity = equity
		}
	}

	if c.Lease.Addr == "" {
		c.Lease.Addr = c.Cache.Redis.Addr
		if c.Lease.Password == "" {
			c.Lease.Password = c.Cache.Redis.Password
		}
	}
}

// Validate ensures the configuration is valid and consistent
func (c *AppConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	switch c.Cache.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache: redis addr is required")
		}
	default:
		return fmt.Errorf("cache: unknown backend %q", c.Cache.Backend)
	}

	switch c.Lease.Backend {
	case BackendLocal:
	case BackendRedis:
		if c.Lease.Addr == "" {
			return fmt.Errorf("lease: redis addr is required")
		}
	default:
		return fmt.Errorf("lease: unknown backend %q", c.Lease.Backend)
	}

	switch c.MarketData.Source {
	case SourceYahoo, SourceSynthetic:
	case SourcePolygon:
		if c.MarketData.Polygon.APIKey == "" {
			return fmt.Errorf("marketdata: polygon requires an api key (POLYGON_API_KEY)")
		}
	case SourceStatic:
		if c.MarketData.StaticFile == "" {
			return fmt.Errorf("marketdata: static source requires static_file")
		}
	default:
		return fmt.Errorf("marketdata: unknown source %q", c.MarketData.Source)
	}
	if c.MarketData.Guard.RPS < 0 || c.MarketData.Guard.Burst < 0 {
		return fmt.Errorf("marketdata: guard rps and burst cannot be negative")
	}

	switch c.Signals.Source {
	case SignalsNone:
	case SignalsStatic:
		if c.Signals.StaticFile == "" {
			return fmt.Errorf("signals: static source requires static_file")
		}
	case SignalsPolygon:
		if c.Signals.News.APIKey == "" {
			return fmt.Errorf("signals: polygon news requires an api key (POLYGON_API_KEY)")
		}
	default:
		return fmt.Errorf("signals: unknown source %q", c.Signals.Source)
	}

	if err := c.Engine.validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http: port %d out of range", c.HTTP.Port)
	}
	return nil
}

func (e EngineConfig) validate() error {
	ev := e.Evaluate
	if ev.Workers < 0 {
		return fmt.Errorf("evaluate.workers cannot be negative")
	}
	if ev.BarLookback < 0 {
		return fmt.Errorf("evaluate.bar_lookback cannot be negative")
	}
	if ev.Exits.MaxHoldDays < 0 {
		return fmt.Errorf("exits.max_hold_days cannot be negative")
	}
	if ev.Exits.TrailPct < 0 || ev.Exits.TrailingFloorPct < 0 {
		return fmt.Errorf("exits trailing percentages cannot be negative")
	}

	st := ev.Stagnation
	if st.WatchThreshold > st.ExitThreshold {
		return fmt.Errorf("stagnation.watch_threshold %.2f above exit_threshold %.2f", st.WatchThreshold, st.ExitThreshold)
	}
	if st.MinHoldDays > st.MaxHoldDays {
		return fmt.Errorf("stagnation.min_hold_days %.1f above max_hold_days %.1f", st.MinHoldDays, st.MaxHoldDays)
	}

	if e.Entry.AccountEquity < 0 {
		return fmt.Errorf("entry.account_equity cannot be negative")
	}

	r := e.Regime
	if r.CautiousVIX > r.ShutdownVIX {
		return fmt.Errorf("regime.cautious_vix %.1f above shutdown_vix %.1f", r.CautiousVIX, r.ShutdownVIX)
	}
	if e.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	return nil
}
