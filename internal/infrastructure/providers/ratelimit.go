package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter holds a token bucket per provider plus any server-imposed
// cool-down (Retry-After) currently in force
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	blockedUntil map[string]time.Time
	now          func() time.Time
	mutex        sync.RWMutex
}

// NewRateLimiter creates an empty limiter set
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		blockedUntil: make(map[string]time.Time),
		now:          time.Now,
	}
}

// InitializeProvider sets the steady request rate and burst for a provider.
// A non-positive rps means unlimited.
func (rl *RateLimiter) InitializeProvider(provider string, rps float64, burst int) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	rl.limiters[provider] = rate.NewLimiter(limit, burst)
}

// Wait blocks until the provider may issue a request or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context, provider string) error {
	rl.mutex.RLock()
	limiter, exists := rl.limiters[provider]
	until := rl.blockedUntil[provider]
	rl.mutex.RUnlock()

	if !exists {
		return fmt.Errorf("rate limiter not initialized for provider: %s", provider)
	}

	if wait := until.Sub(rl.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return limiter.Wait(ctx)
}

// Penalize blocks a provider for d, typically from a Retry-After header
func (rl *RateLimiter) Penalize(provider string, d time.Duration) {
	if d <= 0 {
		return
	}
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	until := rl.now().Add(d)
	if until.After(rl.blockedUntil[provider]) {
		rl.blockedUntil[provider] = until
		log.Warn().Str("provider", provider).Dur("retry_after", d).Msg("Provider rate limited, backing off")
	}
}

// BlockedUntil reports the end of any cool-down in force for a provider
func (rl *RateLimiter) BlockedUntil(provider string) time.Time {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()
	return rl.blockedUntil[provider]
}
