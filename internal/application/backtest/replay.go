// Package backtest replays daily bar series through the evaluation engine
// against an in-memory book. Runs are deterministic for a given scenario.
package backtest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/swingrun/internal/application/evaluate"
	"github.com/sawpanic/swingrun/internal/catalyst"
	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/infrastructure/lease"
	logprogress "github.com/sawpanic/swingrun/internal/log"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/persistence/memory"
	"github.com/sawpanic/swingrun/internal/regime"
	"github.com/sawpanic/swingrun/internal/report"
	"github.com/sawpanic/swingrun/internal/signals"
)

// Entry is a position opened during the replay
type Entry struct {
	Ticker       string  `yaml:"ticker"`
	EntryDate    string  `yaml:"entry_date"`
	EntryPrice   float64 `yaml:"entry_price"`
	PositionSize float64 `yaml:"position_size"` // Default: 10000
	StopLoss     float64 `yaml:"stop_loss"`
	PriceTarget  float64 `yaml:"price_target"`
	GapPct       float64 `yaml:"gap_pct"`
	Tier         string  `yaml:"tier"`
	Conviction   string  `yaml:"conviction"`
	CatalystType string  `yaml:"catalyst_type"`
	Thesis       string  `yaml:"thesis"`
}

// Bar is one daily bar. Missing open/high/low default to the close.
type Bar struct {
	Date   string  `yaml:"date"`
	Open   float64 `yaml:"open"`
	High   float64 `yaml:"high"`
	Low    float64 `yaml:"low"`
	Close  float64 `yaml:"close"`
	Volume int64   `yaml:"volume"`
}

// SignalEvent changes a ticker's signal snapshot from Date onward
type SignalEvent struct {
	Ticker            string  `yaml:"ticker"`
	Date              string  `yaml:"date"`
	InvalidationScore float64 `yaml:"invalidation_score"`
	NextCatalyst      string  `yaml:"next_catalyst"`
}

// Scenario is a complete replay input
type Scenario struct {
	Name      string                   `yaml:"name"`
	VIX       map[string]float64       `yaml:"vix"` // by date; carried forward
	Positions []Entry                  `yaml:"positions"`
	Bars      map[string][]Bar         `yaml:"bars"`
	Signals   []SignalEvent            `yaml:"signals"`
	Events    []catalyst.CatalystEvent `yaml:"events"` // catalyst calendar seen as of each bar date
}

// LoadScenario reads a YAML scenario file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	return &sc, nil
}

// Summary is the outcome of a replay
type Summary struct {
	Name     string                 `json:"name"`
	From     time.Time              `json:"from"`
	To       time.Time              `json:"to"`
	Days     int                    `json:"days"`
	Opened   int                    `json:"opened"`
	Exits    []domain.ExitEvent     `json:"exits"`
	Open     []domain.Position      `json:"open"`
	Passes   []*evaluate.PassReport `json:"-"`
	Report   *report.ExitQuality    `json:"report"`
	Warnings []string               `json:"warnings,omitempty"`
}

// Config controls replay engine settings
type Config struct {
	Evaluate            evaluate.Config `yaml:"evaluate"`
	DefaultPositionSize float64         `yaml:"default_position_size"` // Default: 10000
}

// DefaultConfig returns replay settings
func DefaultConfig() Config {
	cfg := Config{
		Evaluate:            evaluate.DefaultConfig(),
		DefaultPositionSize: 10000,
	}
	cfg.Evaluate.Workers = 1
	return cfg
}

type pending struct {
	entry Entry
	date  time.Time
}

// Replay runs sc day by day. On each bar date the engine evaluates every open
// position as of that date; entries dated that day are opened after the pass
// so their first tick is the following bar.
func Replay(ctx context.Context, sc *Scenario, cfg Config) (*Summary, error) {
	market, err := newReplayMarket(sc)
	if err != nil {
		return nil, err
	}
	sigs, err := newReplaySignals(sc.Signals)
	if err != nil {
		return nil, err
	}
	calendar := catalyst.NewEventRegistry(catalyst.DefaultRegistryConfig()).WithClock(market.now)
	if err := calendar.AddEvents(sc.Events); err != nil {
		return nil, fmt.Errorf("scenario events: %w", err)
	}
	entries, err := parseEntries(sc.Positions)
	if err != nil {
		return nil, err
	}
	if cfg.DefaultPositionSize <= 0 {
		cfg.DefaultPositionSize = DefaultConfig().DefaultPositionSize
	}

	store := memory.NewStore()
	repo := &persistence.Repository{Positions: store.Positions(), Exits: store.Ledger()}

	engCfg := cfg.Evaluate
	engCfg.DryRun = false
	engCfg.Progress = logprogress.QuietProgressConfig()
	engine, err := evaluate.NewEngine(engCfg, evaluate.Dependencies{
		Repository: repo,
		Prices:     market,
		Signals:    signals.WithCalendar(sigs, calendar),
		Detector:   regime.NewDetector(market, regime.DefaultDetectorConfig()),
		Locker:     lease.NewLocal(),
	})
	if err != nil {
		return nil, err
	}

	sum := &Summary{Name: sc.Name}
	dates := market.dates
	if len(dates) == 0 {
		sum.Report = report.Build(nil, time.Time{})
		return sum, nil
	}
	sum.From, sum.To, sum.Days = dates[0], dates[len(dates)-1], len(dates)

	logger := log.With().Str("scenario", sc.Name).Logger()
	next := 0
	for _, day := range dates {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		market.advance(day)
		sigs.advance(day)

		pass, err := engine.RunPassAt(ctx, day)
		if err != nil {
			return sum, fmt.Errorf("replay %s: %w", day.Format(domain.DateLayout), err)
		}
		sum.Passes = append(sum.Passes, pass)
		sum.Exits = append(sum.Exits, pass.Exits...)

		for next < len(entries) && !entries[next].date.After(day) {
			e := entries[next]
			next++
			if err := openEntry(ctx, repo.Positions, e, cfg.DefaultPositionSize); err != nil {
				msg := fmt.Sprintf("%s %s: %v", e.entry.Ticker, e.entry.EntryDate, err)
				logger.Warn().Str("ticker", e.entry.Ticker).Err(err).Msg("Replay entry skipped")
				sum.Warnings = append(sum.Warnings, msg)
				continue
			}
			sum.Opened++
		}
	}
	for ; next < len(entries); next++ {
		e := entries[next]
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("%s %s: entry after last bar", e.entry.Ticker, e.entry.EntryDate))
	}

	open, err := repo.Positions.List(ctx)
	if err != nil {
		return sum, err
	}
	sum.Open = open
	sum.Report = report.Build(sum.Exits, sum.To)

	logger.Info().
		Int("days", sum.Days).
		Int("opened", sum.Opened).
		Int("exits", len(sum.Exits)).
		Int("open", len(sum.Open)).
		Msg("Replay complete")
	return sum, nil
}

func openEntry(ctx context.Context, repo persistence.PositionRepo, p pending, defaultSize float64) error {
	e := p.entry
	size := e.PositionSize
	if size <= 0 {
		size = defaultSize
	}
	pos, err := domain.NewPosition(domain.NewPositionParams{
		Ticker:          e.Ticker,
		EntryDate:       p.date,
		EntryPrice:      e.EntryPrice,
		PositionSize:    size,
		StopLoss:        e.StopLoss,
		PriceTarget:     e.PriceTarget,
		Catalyst:        domain.Catalyst{Type: e.CatalystType, Thesis: e.Thesis},
		Tier:            e.Tier,
		ConvictionLevel: e.Conviction,
		GapPct:          e.GapPct,
	})
	if err != nil {
		return err
	}
	return repo.Create(ctx, pos)
}

func parseEntries(raw []Entry) ([]pending, error) {
	out := make([]pending, 0, len(raw))
	for _, e := range raw {
		d, err := parseDate(e.EntryDate)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.Ticker, err)
		}
		out = append(out, pending{entry: e, date: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out, nil
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", raw, err)
	}
	return t, nil
}
