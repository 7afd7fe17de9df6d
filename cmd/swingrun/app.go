package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/swingrun/internal/application/entry"
	"github.com/sawpanic/swingrun/internal/application/evaluate"
	"github.com/sawpanic/swingrun/internal/catalyst"
	"github.com/sawpanic/swingrun/internal/config"
	"github.com/sawpanic/swingrun/internal/infrastructure/cache"
	"github.com/sawpanic/swingrun/internal/infrastructure/db"
	"github.com/sawpanic/swingrun/internal/infrastructure/lease"
	"github.com/sawpanic/swingrun/internal/infrastructure/marketdata"
	"github.com/sawpanic/swingrun/internal/infrastructure/providers"
	"github.com/sawpanic/swingrun/internal/metrics"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/regime"
	"github.com/sawpanic/swingrun/internal/signals"
)

// app holds everything a command needs, wired from the loaded config
type app struct {
	cfg      *config.AppConfig
	db       *db.Manager
	repo     *persistence.Repository
	metrics  *metrics.Registry
	breakers *providers.CircuitBreakerManager
	prices   marketdata.Source
	signals  signals.Source
	locker   lease.Locker
	detector *regime.Detector

	closers []func() error
}

// newApp connects storage and market data. Network sources are wrapped in
// the guard and the bar cache.
func newApp(cfg *config.AppConfig) (*app, error) {
	a := &app{
		cfg:      cfg,
		metrics:  metrics.NewRegistry(),
		breakers: providers.NewCircuitBreakerManager(),
	}
	a.breakers.OnStateChange(func(provider string, open bool) {
		a.metrics.SetBreakerOpen(provider, open)
		if open {
			log.Warn().Str("provider", provider).Msg("Market data circuit breaker opened")
		} else {
			log.Info().Str("provider", provider).Msg("Market data circuit breaker closed")
		}
	})

	mgr, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.db = mgr
	a.repo = mgr.Repository()
	a.closers = append(a.closers, mgr.Close)
	if !mgr.IsEnabled() {
		log.Warn().Msg("Database disabled; positions and exits live in memory for this run only")
	}

	vix, err := a.wirePrices()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireSignals(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireLease(); err != nil {
		a.Close()
		return nil, err
	}

	a.detector = regime.NewDetector(vix, cfg.Engine.Regime)
	return a, nil
}

func (a *app) wirePrices() (regime.VIXSource, error) {
	md := a.cfg.MarketData
	limiter := providers.NewRateLimiter()

	var (
		src     marketdata.Source
		vix     regime.VIXSource
		network bool
	)
	switch md.Source {
	case config.SourceYahoo:
		y := marketdata.NewYahoo()
		src, vix, network = y, y, true
	case config.SourcePolygon:
		src, network = marketdata.NewPolygon(md.Polygon), true
		// Polygon index data needs a paid plan; VIX still comes from Yahoo
		vix = marketdata.NewYahoo()
	case config.SourceStatic:
		s, err := marketdata.LoadStatic(md.StaticFile)
		if err != nil {
			return nil, err
		}
		src, vix = s, s
	case config.SourceSynthetic:
		src = marketdata.NewSynthetic(time.Now().UTC(), md.SyntheticDays)
	default:
		return nil, fmt.Errorf("unknown price source %q", md.Source)
	}

	if network {
		src = marketdata.NewGuarded(src, md.Source, md.Guard, limiter, a.breakers, a.metrics)
	}

	switch a.cfg.Cache.Backend {
	case config.BackendMemory:
		c := cache.NewTTLCache(time.Minute)
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		src = marketdata.NewCachedBars(src, c, a.cfg.Cache.BarsTTL, a.metrics)
	case config.BackendRedis:
		c, err := cache.NewRedisCache(a.cfg.Cache.Redis)
		if err != nil {
			// bars are re-fetched every pass without the cache
			log.Warn().Err(err).Str("addr", a.cfg.Cache.Redis.Addr).Msg("Redis bar cache unavailable")
			break
		}
		a.closers = append(a.closers, c.Close)
		src = marketdata.NewCachedBars(src, c, a.cfg.Cache.BarsTTL, a.metrics)
	}

	a.prices = src
	log.Info().Str("source", md.Source).Str("cache", a.cfg.Cache.Backend).Msg("Market data ready")
	return vix, nil
}

func (a *app) wireSignals() error {
	src, err := newSignalSource(a.cfg.Signals)
	if err != nil {
		return err
	}
	a.signals = src
	return nil
}

// newSignalSource builds the configured source. A catalyst calendar, when
// configured, backs every source's next-catalyst date.
func newSignalSource(sc config.SignalsConfig) (signals.Source, error) {
	registry := catalyst.NewEventRegistry(sc.Registry)
	if sc.EventsFile != "" {
		events, err := catalyst.LoadEventCalendar(sc.EventsFile)
		if err != nil {
			return nil, err
		}
		if err := registry.AddEvents(events); err != nil {
			return nil, fmt.Errorf("catalyst calendar %s: %w", sc.EventsFile, err)
		}
		log.Info().Str("file", sc.EventsFile).Int("events", registry.Len()).Msg("Catalyst calendar loaded")
	}

	var src signals.Source
	switch sc.Source {
	case config.SignalsNone:
		if sc.EventsFile == "" {
			return nil, nil
		}
		src = signals.WithCalendar(signals.NewStatic(), registry)
	case config.SignalsStatic:
		s, err := signals.LoadStatic(sc.StaticFile)
		if err != nil {
			return nil, err
		}
		src = signals.WithCalendar(s, registry)
	case config.SignalsPolygon:
		src = signals.NewPolygonNews(sc.News, registry)
	default:
		return nil, fmt.Errorf("unknown signals source %q", sc.Source)
	}
	return src, nil
}

func (a *app) wireLease() error {
	lc := a.cfg.Lease
	switch lc.Backend {
	case config.BackendLocal:
		a.locker = lease.NewLocal()
	case config.BackendRedis:
		a.locker = lease.NewRedisFromAddr(lc.Addr, lc.Password, lc.DB, lc.Prefix)
	default:
		return fmt.Errorf("unknown lease backend %q", lc.Backend)
	}
	return nil
}

// engine builds the evaluation engine on the wired ports
func (a *app) engine(cfg evaluate.Config) (*evaluate.Engine, error) {
	deps := evaluate.Dependencies{
		Repository: a.repo,
		Prices:     a.prices,
		Detector:   a.detector,
		Locker:     a.locker,
		Metrics:    a.metrics,
	}
	if a.signals != nil {
		deps.Signals = a.signals
	}
	return evaluate.NewEngine(cfg, deps)
}

// planner builds the entry planner on the position repository
func (a *app) planner() *entry.Planner {
	return entry.NewPlanner(a.cfg.Engine.Entry, a.detector, a.repo.Positions)
}

// seed opens candidates from path, for offline runs on memory repositories
func (a *app) seed(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	cands, err := entry.LoadCandidates(path)
	if err != nil {
		return err
	}
	p := a.planner()
	opened := 0
	for _, cand := range cands {
		dec, err := p.Open(ctx, cand)
		if err != nil {
			log.Warn().Err(err).Str("ticker", cand.Ticker).Msg("Seed candidate failed")
			continue
		}
		if dec.Accepted {
			opened++
		}
	}
	log.Info().Int("candidates", len(cands)).Int("opened", opened).Str("file", path).Msg("Seeded positions")
	return nil
}

// Close releases connections in reverse order
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}
