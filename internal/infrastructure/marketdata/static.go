package marketdata

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/swingrun/internal/domain/indicators"
)

// Static serves fixed prices and bars, for offline runs and tests
type Static struct {
	mu     sync.RWMutex
	prices map[string]float64
	bars   map[string][]indicators.PriceBar
	vix    float64
}

// NewStatic creates an empty static source
func NewStatic() *Static {
	return &Static{
		prices: make(map[string]float64),
		bars:   make(map[string][]indicators.PriceBar),
	}
}

type staticBar struct {
	Date   string  `yaml:"date"`
	Open   float64 `yaml:"open"`
	High   float64 `yaml:"high"`
	Low    float64 `yaml:"low"`
	Close  float64 `yaml:"close"`
	Volume int64   `yaml:"volume"`
}

type staticFile struct {
	VIX    float64                `yaml:"vix"`
	Prices map[string]float64     `yaml:"prices"`
	Bars   map[string][]staticBar `yaml:"bars"`
}

// LoadStatic reads a fixture file:
//
//	vix: 18.5
//	prices: {NVDA: 112.4}
//	bars:
//	  NVDA:
//	    - {date: 2024-03-01, open: 100, high: 102, low: 99, close: 101, volume: 1000000}
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read market data file %s: %w", path, err)
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse market data file %s: %w", path, err)
	}

	s := NewStatic()
	s.SetVIX(f.VIX)
	for ticker, price := range f.Prices {
		s.SetPrice(ticker, price)
	}
	for ticker, raw := range f.Bars {
		bars := make([]indicators.PriceBar, 0, len(raw))
		for _, b := range raw {
			date, err := time.Parse("2006-01-02", b.Date)
			if err != nil {
				return nil, fmt.Errorf("%s bar date %q: %w", ticker, b.Date, err)
			}
			bars = append(bars, indicators.PriceBar{
				Date: date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
			})
		}
		s.SetBars(ticker, bars)
	}
	return s, nil
}

// SetPrice sets the latest price for a ticker
func (s *Static) SetPrice(ticker string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(ticker)] = price
}

// SetBars replaces a ticker's bars, sorting them by date
func (s *Static) SetBars(ticker string, bars []indicators.PriceBar) {
	sorted := append([]indicators.PriceBar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[strings.ToUpper(ticker)] = sorted
}

// SetVIX sets the level returned by VIX; zero means unavailable
func (s *Static) SetVIX(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vix = v
}

// LatestPrices implements Source. Tickers without a positive price are
// omitted; a ticker with bars but no explicit price uses the last close.
func (s *Static) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(tickers))
	for _, t := range normalizeTickers(tickers) {
		if p, ok := s.prices[t]; ok && p > 0 {
			out[t] = p
			continue
		}
		if bars := s.bars[t]; len(bars) > 0 && bars[len(bars)-1].Close > 0 {
			out[t] = bars[len(bars)-1].Close
		}
	}
	return out, nil
}

// DailyBars implements Source
func (s *Static) DailyBars(ctx context.Context, ticker string, lookback int) ([]indicators.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.bars[strings.ToUpper(ticker)]
	if len(bars) == 0 {
		return nil, fmt.Errorf("static bars for %s: %w", ticker, ErrNoData)
	}
	return append([]indicators.PriceBar(nil), lastN(bars, lookback)...), nil
}

// VIX implements regime.VIXSource
func (s *Static) VIX(ctx context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.vix <= 0 {
		return 0, fmt.Errorf("static VIX: %w", ErrNoData)
	}
	return s.vix, nil
}
