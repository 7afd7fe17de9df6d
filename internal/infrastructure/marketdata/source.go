// Package marketdata is the price and bar port of the exit engine with its
// provider adapters (Yahoo, Polygon, static fixtures, synthetic series) and
// the decorators that guard and cache them.
package marketdata

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sawpanic/swingrun/internal/domain/indicators"
)

// ErrNoData is returned when a provider has nothing for a ticker
var ErrNoData = errors.New("no market data")

// Source supplies latest prices and daily bars. LatestPrices omits tickers
// it could not price; the engine skips those ticks. Bars are ascending by date.
type Source interface {
	LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error)
	DailyBars(ctx context.Context, ticker string, lookback int) ([]indicators.PriceBar, error)
}

// Observer receives market data telemetry. metrics.Registry implements it.
type Observer interface {
	PriceFetchError(source string)
	BarCacheResult(hit bool)
}

type nopObserver struct{}

func (nopObserver) PriceFetchError(string) {}
func (nopObserver) BarCacheResult(bool)    {}

// normalizeTickers upper-cases, trims, de-duplicates and sorts tickers
func normalizeTickers(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// lastN returns the trailing n bars; n <= 0 returns all
func lastN(bars []indicators.PriceBar, n int) []indicators.PriceBar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
