package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sawpanic/swingrun/internal/domain/indicators"
	"github.com/sawpanic/swingrun/internal/infrastructure/marketdata"
	"github.com/sawpanic/swingrun/internal/signals"
)

// replayMarket serves bars and prices as of a moving cursor date. Prices
// only exist for tickers with a bar on the cursor date.
type replayMarket struct {
	mu     sync.RWMutex
	bars   map[string][]indicators.PriceBar
	vix    []vixPoint
	dates  []time.Time
	cursor time.Time
}

type vixPoint struct {
	date  time.Time
	level float64
}

func newReplayMarket(sc *Scenario) (*replayMarket, error) {
	m := &replayMarket{bars: make(map[string][]indicators.PriceBar)}
	seen := make(map[time.Time]bool)

	for ticker, raw := range sc.Bars {
		key := strings.ToUpper(strings.TrimSpace(ticker))
		bars := make([]indicators.PriceBar, 0, len(raw))
		for _, b := range raw {
			date, err := parseDate(b.Date)
			if err != nil {
				return nil, fmt.Errorf("%s bar: %w", key, err)
			}
			if b.Close <= 0 {
				return nil, fmt.Errorf("%s bar %s: close must be positive", key, b.Date)
			}
			bars = append(bars, toPriceBar(date, b))
			if !seen[date] {
				seen[date] = true
				m.dates = append(m.dates, date)
			}
		}
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		m.bars[key] = bars
	}
	sort.Slice(m.dates, func(i, j int) bool { return m.dates[i].Before(m.dates[j]) })

	for raw, level := range sc.VIX {
		date, err := parseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("vix: %w", err)
		}
		m.vix = append(m.vix, vixPoint{date: date, level: level})
	}
	sort.Slice(m.vix, func(i, j int) bool { return m.vix[i].date.Before(m.vix[j].date) })
	return m, nil
}

func toPriceBar(date time.Time, b Bar) indicators.PriceBar {
	pb := indicators.PriceBar{Date: date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	if pb.Open <= 0 {
		pb.Open = b.Close
	}
	if pb.High <= 0 {
		pb.High = b.Close
	}
	if pb.Low <= 0 {
		pb.Low = b.Close
	}
	return pb
}

func (m *replayMarket) advance(day time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = day
}

// now is the replay clock
func (m *replayMarket) now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor
}

// visible returns the bars dated on or before the cursor
func (m *replayMarket) visible(ticker string) []indicators.PriceBar {
	bars := m.bars[strings.ToUpper(ticker)]
	n := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(m.cursor) })
	return bars[:n]
}

// LatestPrices implements marketdata.Source
func (m *replayMarket) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		bars := m.visible(t)
		if len(bars) == 0 {
			continue
		}
		if last := bars[len(bars)-1]; last.Date.Equal(m.cursor) {
			out[strings.ToUpper(t)] = last.Close
		}
	}
	return out, nil
}

// DailyBars implements marketdata.Source
func (m *replayMarket) DailyBars(ctx context.Context, ticker string, lookback int) ([]indicators.PriceBar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bars := m.visible(ticker)
	if len(bars) == 0 {
		return nil, fmt.Errorf("replay bars for %s: %w", ticker, marketdata.ErrNoData)
	}
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	return append([]indicators.PriceBar(nil), bars...), nil
}

// VIX implements regime.VIXSource with the latest level on or before the cursor
func (m *replayMarket) VIX(ctx context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	level := 0.0
	for _, p := range m.vix {
		if p.date.After(m.cursor) {
			break
		}
		level = p.level
	}
	if level <= 0 {
		return 0, fmt.Errorf("replay VIX: %w", marketdata.ErrNoData)
	}
	return level, nil
}

// replaySignals applies dated signal events to a static source as the cursor
// moves forward
type replaySignals struct {
	*signals.Static
	events []datedSignal
	next   int
}

type datedSignal struct {
	date time.Time
	snap signals.Snapshot
}

func newReplaySignals(raw []SignalEvent) (*replaySignals, error) {
	rs := &replaySignals{Static: signals.NewStatic()}
	for _, ev := range raw {
		date, err := parseDate(ev.Date)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", ev.Ticker, err)
		}
		snap := signals.Snapshot{Ticker: ev.Ticker, InvalidationScore: ev.InvalidationScore}
		if ev.NextCatalyst != "" {
			next, err := parseDate(ev.NextCatalyst)
			if err != nil {
				return nil, fmt.Errorf("signal %s next catalyst: %w", ev.Ticker, err)
			}
			snap.NextCatalyst = &next
		}
		rs.events = append(rs.events, datedSignal{date: date, snap: snap})
	}
	sort.SliceStable(rs.events, func(i, j int) bool { return rs.events[i].date.Before(rs.events[j].date) })
	return rs, nil
}

func (rs *replaySignals) advance(day time.Time) {
	for rs.next < len(rs.events) && !rs.events[rs.next].date.After(day) {
		rs.Set(rs.events[rs.next].snap)
		rs.next++
	}
}
