package evaluate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/swingrun/internal/catalyst"
	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/infrastructure/lease"
	"github.com/sawpanic/swingrun/internal/infrastructure/marketdata"
	"github.com/sawpanic/swingrun/internal/metrics"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/persistence/memory"
	"github.com/sawpanic/swingrun/internal/regime"
	"github.com/sawpanic/swingrun/internal/signals"
)

var asOf = time.Date(2024, 3, 8, 16, 0, 0, 0, time.UTC)

type fixedVIX float64

func (v fixedVIX) VIX(ctx context.Context) (float64, error) { return float64(v), nil }

func openPosition(t *testing.T, repo persistence.PositionRepo, ticker string, entry, stop, target float64) {
	t.Helper()
	pos, err := domain.NewPosition(domain.NewPositionParams{
		Ticker:          ticker,
		EntryDate:       asOf.AddDate(0, 0, -3),
		EntryPrice:      entry,
		PositionSize:    entry * 10,
		StopLoss:        stop,
		PriceTarget:     target,
		Catalyst:        domain.Catalyst{Type: "earnings", Thesis: "beat"},
		Tier:            "Tier1",
		ConvictionLevel: "HIGH",
	})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), pos))
}

type fixture struct {
	store   *memory.Store
	repo    *persistence.Repository
	prices  *marketdata.Static
	signals *signals.Static
	metrics *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	store := memory.NewStore()
	f := &fixture{
		store:   store,
		repo:    &persistence.Repository{Positions: store.Positions(), Exits: store.Ledger()},
		prices:  marketdata.NewStatic(),
		signals: signals.NewStatic(),
		metrics: metrics.NewRegistry(),
	}

	openPosition(t, f.repo.Positions, "AAA", 100, 93, 110) // stop loss
	openPosition(t, f.repo.Positions, "BBB", 50, 46, 55)   // hold
	openPosition(t, f.repo.Positions, "CCC", 20, 18, 22)   // no price
	openPosition(t, f.repo.Positions, "DDD", 100, 93, 110) // invalidated
	openPosition(t, f.repo.Positions, "EEE", 100, 93, 110) // trailing armed

	f.prices.SetPrice("AAA", 92)
	f.prices.SetPrice("BBB", 52)
	f.prices.SetPrice("DDD", 101)
	f.prices.SetPrice("EEE", 111)
	f.signals.Set(signals.Snapshot{Ticker: "DDD", InvalidationScore: 85})
	return f
}

func (f *fixture) engine(t *testing.T, cfg Config, locker lease.Locker) *Engine {
	t.Helper()
	eng, err := NewEngine(cfg, Dependencies{
		Repository: f.repo,
		Prices:     f.prices,
		Signals:    f.signals,
		Detector:   regime.NewDetector(fixedVIX(18), regime.DefaultDetectorConfig()),
		Locker:     locker,
		Metrics:    f.metrics,
	})
	require.NoError(t, err)
	return eng
}

func TestRunPassAppliesEveryRule(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t, DefaultConfig(), lease.NewLocal())

	var (
		mu   sync.Mutex
		seen []string
	)
	eng.OnTick(func(tr TickReport) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr.Ticker)
	})

	ctx := context.Background()
	report, err := eng.RunPassAt(ctx, asOf)
	require.NoError(t, err)

	assert.NotEmpty(t, report.PassID)
	assert.Equal(t, regime.Normal, report.Regime.Regime)
	assert.Equal(t, 5, report.Evaluated)
	assert.Equal(t, 2, report.Exited)
	assert.Equal(t, 2, report.Held)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD", "EEE"}, seen)
	assert.Len(t, report.Ticks, 5)
	assert.Contains(t, report.StepDurations, StepPersist)

	codes := map[string]string{}
	for _, ev := range report.Exits {
		codes[ev.Ticker] = ev.ExitCode
	}
	assert.Equal(t, map[string]string{"AAA": "stop_loss", "DDD": "catalyst_invalidated"}, codes)

	open, err := f.repo.Positions.List(ctx)
	require.NoError(t, err)
	require.Len(t, open, 3)

	bbb, err := f.repo.Positions.Get(ctx, "BBB")
	require.NoError(t, err)
	assert.Equal(t, 52.0, bbb.CurrentPrice)
	assert.Equal(t, 3, bbb.DaysHeld)

	ccc, err := f.repo.Positions.Get(ctx, "CCC")
	require.NoError(t, err)
	assert.Equal(t, 20.0, ccc.CurrentPrice, "skipped tick leaves the position unchanged")

	eee, err := f.repo.Positions.Get(ctx, "EEE")
	require.NoError(t, err)
	assert.True(t, eee.TrailingStopActive)
	assert.InDelta(t, 108, eee.TrailingStopPrice, 1e-9)

	ledger, err := f.repo.Exits.List(ctx, persistence.TimeRange{}, 0)
	require.NoError(t, err)
	assert.Len(t, ledger, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Ticks.WithLabelValues(metrics.OutcomeExit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Ticks.WithLabelValues(metrics.OutcomeHold)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Ticks.WithLabelValues(metrics.OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Exits.WithLabelValues("stop_loss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.OpenPositions))

	last, ok := eng.LastPass()
	require.True(t, ok)
	assert.Equal(t, report.PassID, last.PassID)
}

func TestRunPassIsDeterministic(t *testing.T) {
	run := func() []string {
		f := newFixture(t)
		cfg := DefaultConfig()
		cfg.DryRun = true
		report, err := f.engine(t, cfg, nil).RunPassAt(context.Background(), asOf)
		require.NoError(t, err)
		out := make([]string, len(report.Ticks))
		for i, tr := range report.Ticks {
			out[i] = tr.Summary
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.DryRun = true

	report, err := f.engine(t, cfg, nil).RunPassAt(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Exited)

	open, err := f.repo.Positions.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 5)
}

type refusingLocker struct{}

func (refusingLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	return nil, lease.ErrNotAcquired
}

func TestLeaseFailureAbortsWrites(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine(t, DefaultConfig(), refusingLocker{}).RunPassAt(context.Background(), asOf)
	require.Error(t, err)
	assert.ErrorIs(t, err, lease.ErrNotAcquired)

	open, err := f.repo.Positions.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 5)
}

type flakyRepo struct {
	persistence.PositionRepo
	failTicker string
}

func (r flakyRepo) Save(ctx context.Context, pos domain.Position) error {
	if pos.Ticker == r.failTicker {
		return errors.New("connection reset")
	}
	return r.PositionRepo.Save(ctx, pos)
}

func TestWriteFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.repo.Positions = flakyRepo{PositionRepo: f.repo.Positions, failTicker: "BBB"}

	report, err := f.engine(t, DefaultConfig(), nil).RunPassAt(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Held)
	assert.Equal(t, 2, report.Exited)
	require.NotEmpty(t, report.Errors)
	assert.Equal(t, "BBB", report.Errors[len(report.Errors)-1].Ticker)
}

func TestEmptyBook(t *testing.T) {
	store := memory.NewStore()
	eng, err := NewEngine(DefaultConfig(), Dependencies{
		Repository: &persistence.Repository{Positions: store.Positions(), Exits: store.Ledger()},
		Prices:     marketdata.NewStatic(),
	})
	require.NoError(t, err)

	report, err := eng.RunPassAt(context.Background(), asOf)
	require.NoError(t, err)
	assert.Zero(t, report.Evaluated)
	assert.True(t, report.Regime.Assumed)
}

func TestNewEngineRequiresPorts(t *testing.T) {
	_, err := NewEngine(DefaultConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestRunPassAppliesCatalystGrace(t *testing.T) {
	store := memory.NewStore()
	repo := &persistence.Repository{Positions: store.Positions(), Exits: store.Ledger()}
	prices := marketdata.NewStatic()
	for _, ticker := range []string{"GGG", "HHH"} {
		pos, err := domain.NewPosition(domain.NewPositionParams{
			Ticker:       ticker,
			EntryDate:    asOf.AddDate(0, 0, -8),
			EntryPrice:   100,
			PositionSize: 1000,
			StopLoss:     93,
			PriceTarget:  110,
		})
		require.NoError(t, err)
		require.NoError(t, repo.Positions.Create(context.Background(), pos))
		prices.SetPrice(ticker, 100)
	}

	registry := catalyst.NewEventRegistry(catalyst.DefaultRegistryConfig()).WithClock(func() time.Time { return asOf })
	require.NoError(t, registry.AddEvent(catalyst.CatalystEvent{
		ID: "ggg-er", Ticker: "GGG", Kind: catalyst.KindEarnings, EventTime: asOf.Add(36 * time.Hour),
	}))

	cfg := DefaultConfig()
	cfg.DryRun = true
	eng, err := NewEngine(cfg, Dependencies{
		Repository: repo,
		Prices:     prices,
		Signals:    signals.NewPolygonNews(signals.NewsConfig{}, registry),
		Detector:   regime.NewDetector(fixedVIX(18), regime.DefaultDetectorConfig()),
	})
	require.NoError(t, err)

	report, err := eng.RunPassAt(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, report.Ticks, 2)

	ticks := map[string]TickReport{}
	for _, tr := range report.Ticks {
		require.NotNil(t, tr.Result, tr.Ticker)
		require.NotNil(t, tr.Result.Stagnation, tr.Ticker)
		ticks[tr.Ticker] = tr
	}

	ggg, hhh := ticks["GGG"], ticks["HHH"]
	require.NotNil(t, ggg.Signals.NextCatalyst)
	assert.Nil(t, hhh.Signals.NextCatalyst)
	assert.Equal(t, 0.5, ggg.Result.Stagnation.Explain.CatalystFactor)
	assert.Equal(t, 1.0, hhh.Result.Stagnation.Explain.CatalystFactor)
	assert.InDelta(t, 0.714, hhh.Result.Stagnation.Score, 1e-9)
	assert.InDelta(t, 0.357, ggg.Result.Stagnation.Score, 1e-9)
}
