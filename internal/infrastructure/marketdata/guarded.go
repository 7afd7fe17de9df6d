package marketdata

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/swingrun/internal/domain/indicators"
	"github.com/sawpanic/swingrun/internal/infrastructure/providers"
)

// GuardConfig configures rate limiting, retries and the circuit breaker
// placed in front of one provider
type GuardConfig struct {
	RPS         float64       `yaml:"rps"`          // Default: 5
	Burst       int           `yaml:"burst"`        // Default: 5
	MaxRetries  int           `yaml:"max_retries"`  // Default: 3
	BaseBackoff time.Duration `yaml:"base_backoff"` // Default: 500ms, doubled per attempt
	MaxBackoff  time.Duration `yaml:"max_backoff"`  // Default: 10s

	Breaker *providers.CircuitBreakerConfig `yaml:"breaker"`
}

// DefaultGuardConfig returns the guard settings used for quote APIs
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RPS:         5,
		Burst:       5,
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
	}
}

// Guarded wraps a Source with a token bucket, a circuit breaker and
// exponential backoff retries. An open breaker fails fast without retrying.
// Client errors (4xx other than 408 and 429) are returned after one attempt
// and do not count against the breaker.
type Guarded struct {
	inner    Source
	name     string
	config   GuardConfig
	limiter  *providers.RateLimiter
	breakers *providers.CircuitBreakerManager
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGuarded registers name with the shared limiter and breaker manager.
// Either may be nil, in which case a private one is created.
func NewGuarded(inner Source, name string, config GuardConfig, limiter *providers.RateLimiter,
	breakers *providers.CircuitBreakerManager, observer Observer) *Guarded {
	d := DefaultGuardConfig()
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = d.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = d.MaxBackoff
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if limiter == nil {
		limiter = providers.NewRateLimiter()
	}
	if breakers == nil {
		breakers = providers.NewCircuitBreakerManager()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	limiter.InitializeProvider(name, config.RPS, config.Burst)
	bcfg := config.Breaker
	if bcfg == nil {
		bcfg = providers.DefaultCircuitBreakerConfig(name)
	}
	breakers.InitializeProvider(name, bcfg)

	return &Guarded{
		inner:    inner,
		name:     name,
		config:   config,
		limiter:  limiter,
		breakers: breakers,
		observer: observer,
		sleep:    sleepContext,
	}
}

// Name returns the provider name used for limits, breakers and metrics
func (g *Guarded) Name() string {
	return g.name
}

// LatestPrices implements Source
func (g *Guarded) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	v, err := g.do(ctx, "latest_prices", func() (interface{}, error) {
		return g.inner.LatestPrices(ctx, tickers)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]float64), nil
}

// DailyBars implements Source. ErrNoData is not retried and does not count
// against the breaker.
func (g *Guarded) DailyBars(ctx context.Context, ticker string, lookback int) ([]indicators.PriceBar, error) {
	var noData error
	v, err := g.do(ctx, "daily_bars", func() (interface{}, error) {
		bars, err := g.inner.DailyBars(ctx, ticker, lookback)
		if errors.Is(err, ErrNoData) {
			noData = err
			return []indicators.PriceBar(nil), nil
		}
		return bars, err
	})
	if err != nil {
		return nil, err
	}
	if noData != nil {
		return nil, noData
	}
	return v.([]indicators.PriceBar), nil
}

func (g *Guarded) do(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	var permanent error
	call := func() (interface{}, error) {
		v, err := fn()
		if isPermanent(err) {
			permanent = err
			return nil, nil
		}
		return v, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := g.limiter.Wait(ctx, g.name); err != nil {
			return nil, err
		}

		permanent = nil
		v, err := g.breakers.Execute(g.name, call)
		if err == nil && permanent != nil {
			g.observer.PriceFetchError(g.name)
			log.Warn().Err(permanent).
				Str("source", g.name).
				Str("op", op).
				Msg("Market data request rejected")
			return nil, permanent
		}
		if err == nil {
			return v, nil
		}
		lastErr = err
		g.observer.PriceFetchError(g.name)

		var rl *RateLimitError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &rl):
			g.limiter.Penalize(g.name, rl.RetryAfter)
		}

		log.Warn().Err(err).
			Str("source", g.name).
			Str("op", op).
			Int("attempt", attempt+1).
			Msg("Market data request failed")
	}
	return nil, lastErr
}

func isPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

func (g *Guarded) backoff(attempt int) time.Duration {
	d := time.Duration(float64(g.config.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > g.config.MaxBackoff {
		return g.config.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
