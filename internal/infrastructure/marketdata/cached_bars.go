package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/swingrun/internal/domain/indicators"
	"github.com/sawpanic/swingrun/internal/infrastructure/cache"
)

// CachedBars caches daily bars per ticker, lookback and calendar day. Prices
// always pass through. Cache failures are logged and never fail a request.
type CachedBars struct {
	inner    Source
	cache    cache.Cache
	ttl      time.Duration
	observer Observer
	now      func() time.Time
}

// NewCachedBars wraps inner; ttl <= 0 defaults to 6h
func NewCachedBars(inner Source, c cache.Cache, ttl time.Duration, observer Observer) *CachedBars {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &CachedBars{inner: inner, cache: c, ttl: ttl, observer: observer, now: time.Now}
}

// BarsKey is the cache key for a ticker's bars on a given day
func BarsKey(ticker string, lookback int, day time.Time) string {
	return fmt.Sprintf("bars:%s:%d:%s", strings.ToUpper(ticker), lookback, day.UTC().Format("2006-01-02"))
}

// LatestPrices implements Source
func (c *CachedBars) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	return c.inner.LatestPrices(ctx, tickers)
}

// DailyBars implements Source
func (c *CachedBars) DailyBars(ctx context.Context, ticker string, lookback int) ([]indicators.PriceBar, error) {
	key := BarsKey(ticker, lookback, c.now())

	raw, found, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("key", key).Msg("Bar cache read failed")
	case found:
		var bars []indicators.PriceBar
		if err := json.Unmarshal(raw, &bars); err == nil && len(bars) > 0 {
			c.observer.BarCacheResult(true)
			return bars, nil
		}
		log.Warn().Str("key", key).Msg("Discarding unreadable bar cache entry")
	}
	c.observer.BarCacheResult(false)

	bars, err := c.inner.DailyBars(ctx, ticker, lookback)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(bars)
	if err == nil {
		err = c.cache.Set(ctx, key, payload, c.ttl)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Bar cache write failed")
	}
	return bars, nil
}
