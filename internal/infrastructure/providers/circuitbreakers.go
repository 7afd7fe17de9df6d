package providers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// CircuitBreakerManager keeps one breaker per market data provider
type CircuitBreakerManager struct {
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]*CircuitBreakerConfig
	onChange func(provider string, open bool)
	mutex    sync.RWMutex
}

// CircuitBreakerConfig holds the trip thresholds for one provider
type CircuitBreakerConfig struct {
	Name                string        `yaml:"name"`
	MaxRequests         uint32        `yaml:"max_requests"`         // Default: 2 trial requests while half-open
	Interval            time.Duration `yaml:"interval"`             // Default: 60s counting window
	Timeout             time.Duration `yaml:"timeout"`              // Default: 30s open before half-open
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"` // Default: 50 (percent)
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // Default: 3
	MinRequests         uint32        `yaml:"min_requests"`         // Default: 10 before error rate applies
}

// BreakerStatus is a point-in-time view of one breaker
type BreakerStatus struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	Requests            uint32    `json:"requests"`
	TotalFailures       uint32    `json:"total_failures"`
	ErrorRate           float64   `json:"error_rate"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	NextReset           time.Time `json:"next_reset,omitempty"`
}

// DefaultCircuitBreakerConfig returns the thresholds used for quote and bar APIs
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:                name,
		MaxRequests:         2,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50,
		ConsecutiveFailures: 3,
		MinRequests:         10,
	}
}

// NewCircuitBreakerManager creates an empty manager
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  make(map[string]*CircuitBreakerConfig),
	}
}

// OnStateChange registers a hook called whenever a breaker opens or closes
func (cbm *CircuitBreakerManager) OnStateChange(fn func(provider string, open bool)) {
	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()
	cbm.onChange = fn
}

// InitializeProvider creates (or replaces) the breaker for a provider
func (cbm *CircuitBreakerManager) InitializeProvider(name string, config *CircuitBreakerConfig) {
	if config == nil {
		config = DefaultCircuitBreakerConfig(name)
	}
	if config.Name == "" {
		named := *config
		named.Name = name
		config = &named
	}

	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()

	cbm.configs[name] = config
	cbm.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          config.Name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   cbm.createTripCondition(config),
		OnStateChange: cbm.createStateChangeHandler(name),
	})
}

// Execute runs fn through the provider's breaker. gobreaker.ErrOpenState is
// returned without calling fn while the breaker is open.
func (cbm *CircuitBreakerManager) Execute(provider string, fn func() (interface{}, error)) (interface{}, error) {
	cbm.mutex.RLock()
	breaker, exists := cbm.breakers[provider]
	cbm.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("circuit breaker not found for provider: %s", provider)
	}
	return breaker.Execute(fn)
}

// GetStatus returns the breaker status, or nil for an unknown provider
func (cbm *CircuitBreakerManager) GetStatus(provider string) *BreakerStatus {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	breaker, exists := cbm.breakers[provider]
	if !exists {
		return nil
	}

	config := cbm.configs[provider]
	counts := breaker.Counts()

	var errorRate float64
	if counts.Requests > 0 {
		errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
	}

	var nextReset time.Time
	if breaker.State() == gobreaker.StateOpen {
		nextReset = time.Now().Add(config.Timeout)
	}

	return &BreakerStatus{
		Name:                provider,
		State:               breaker.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ErrorRate:           errorRate,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		NextReset:           nextReset,
	}
}

// Snapshot returns the status of every breaker, sorted by provider
func (cbm *CircuitBreakerManager) Snapshot() []BreakerStatus {
	cbm.mutex.RLock()
	names := make([]string, 0, len(cbm.breakers))
	for name := range cbm.breakers {
		names = append(names, name)
	}
	cbm.mutex.RUnlock()

	sort.Strings(names)
	out := make([]BreakerStatus, 0, len(names))
	for _, name := range names {
		if st := cbm.GetStatus(name); st != nil {
			out = append(out, *st)
		}
	}
	return out
}

func (cbm *CircuitBreakerManager) createTripCondition(config *CircuitBreakerConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests >= config.MinRequests && config.ErrorRateThreshold > 0 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if errorRate >= config.ErrorRateThreshold {
				return true
			}
		}
		return config.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= config.ConsecutiveFailures
	}
}

func (cbm *CircuitBreakerManager) createStateChangeHandler(provider string) func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		evt := log.Info()
		if to == gobreaker.StateOpen {
			evt = log.Warn()
		}
		evt.Str("provider", provider).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")

		cbm.mutex.RLock()
		hook := cbm.onChange
		cbm.mutex.RUnlock()
		if hook != nil {
			hook(provider, to == gobreaker.StateOpen)
		}
	}
}
