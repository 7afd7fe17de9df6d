package marketdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/sawpanic/swingrun/internal/domain/indicators"
)

// Synthetic generates deterministic daily bars from a hash of the ticker, so
// dry runs and demos behave identically on every machine
type Synthetic struct {
	end  time.Time
	days int
}

// NewSynthetic creates a generator whose series ends on end and spans days bars
func NewSynthetic(end time.Time, days int) *Synthetic {
	if days <= 0 {
		days = 120
	}
	y, m, d := end.Date()
	return &Synthetic{end: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), days: days}
}

// LatestPrices implements Source with the final close of each series
func (s *Synthetic) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tickers))
	for _, t := range normalizeTickers(tickers) {
		bars := s.series(t)
		out[t] = bars[len(bars)-1].Close
	}
	return out, nil
}

// DailyBars implements Source
func (s *Synthetic) DailyBars(ctx context.Context, ticker string, lookback int) ([]indicators.PriceBar, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("synthetic bars: empty ticker: %w", ErrNoData)
	}
	return lastN(s.series(ticker), lookback), nil
}

func (s *Synthetic) series(ticker string) []indicators.PriceBar {
	hasher := fnv.New32a()
	hasher.Write([]byte(ticker))
	rng := &deterministicRNG{seed: hasher.Sum32()}

	price := 20 + rng.Float64()*280
	drift := (rng.Float64() - 0.45) * 0.004
	vol := 0.01 + rng.Float64()*0.025

	bars := make([]indicators.PriceBar, 0, s.days)
	start := s.end.AddDate(0, 0, -(s.days - 1))
	for i := 0; i < s.days; i++ {
		open := price
		change := drift + vol*(rng.Float64()*2-1)
		closePx := math.Max(1, open*(1+change))
		high := math.Max(open, closePx) * (1 + rng.Float64()*vol/2)
		low := math.Min(open, closePx) * (1 - rng.Float64()*vol/2)

		bars = append(bars, indicators.PriceBar{
			Date:   start.AddDate(0, 0, i),
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(closePx),
			Volume: int64(500_000 + rng.Float64()*4_500_000),
		})
		price = closePx
	}
	return bars
}

// deterministicRNG is a xorshift32 generator seeded per ticker
type deterministicRNG struct {
	seed uint32
}

func (r *deterministicRNG) Float64() float64 {
	if r.seed == 0 {
		r.seed = 2463534242
	}
	r.seed ^= r.seed << 13
	r.seed ^= r.seed >> 17
	r.seed ^= r.seed << 5
	return float64(r.seed) / float64(math.MaxUint32)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
