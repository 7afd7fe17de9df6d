// Package metrics exposes the exit engine's Prometheus metrics
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Tick outcomes recorded by RecordTick
const (
	OutcomeHold    = "hold"
	OutcomeExit    = "exit"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Registry holds all Prometheus metrics for swingrun
type Registry struct {
	registry *prometheus.Registry

	// Evaluation pass metrics
	Ticks         *prometheus.CounterVec
	Exits         *prometheus.CounterVec
	PassDuration  prometheus.Histogram
	StepDuration  *prometheus.HistogramVec
	OpenPositions prometheus.Gauge
	Stagnation    *prometheus.GaugeVec

	// Market data metrics
	PriceFetchErrors *prometheus.CounterVec
	BreakerOpen      *prometheus.GaugeVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheHitRatio    prometheus.Gauge

	// Regime metrics
	VIX          prometheus.Gauge
	ActiveRegime prometheus.Gauge
}

// NewRegistry creates a registry with every swingrun metric registered on a
// private prometheus.Registry, plus the Go and process collectors
func NewRegistry() *Registry {
	m := &Registry{
		registry: prometheus.NewRegistry(),

		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingrun_ticks_total",
				Help: "Position evaluations by outcome (hold, exit, skipped, error)",
			},
			[]string{"outcome"},
		),

		Exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingrun_exits_total",
				Help: "Closed positions by exit reason",
			},
			[]string{"reason"},
		),

		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swingrun_pass_duration_seconds",
				Help:    "Duration of a full evaluation pass in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swingrun_step_duration_seconds",
				Help:    "Duration of each evaluation pass step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"step", "result"},
		),

		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swingrun_open_positions",
				Help: "Open positions after the last evaluation pass",
			},
		),

		Stagnation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingrun_stagnation_score",
				Help: "Latest stagnation score per open position (0 to 1)",
			},
			[]string{"ticker"},
		),

		PriceFetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingrun_price_fetch_errors_total",
				Help: "Failed market data requests by source",
			},
			[]string{"source"},
		),

		BreakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingrun_circuit_breaker_open",
				Help: "1 while the provider's circuit breaker is open",
			},
			[]string{"source"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swingrun_bar_cache_hits_total",
				Help: "Daily bar cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swingrun_bar_cache_misses_total",
				Help: "Daily bar cache misses",
			},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swingrun_bar_cache_hit_ratio",
				Help: "Current bar cache hit ratio (0.0 to 1.0)",
			},
		),

		VIX: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swingrun_vix",
				Help: "VIX level used by the last regime detection",
			},
		),

		ActiveRegime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swingrun_active_regime",
				Help: "Current volatility regime (0=normal, 1=cautious, 2=shutdown)",
			},
		),
	}

	m.registry.MustRegister(
		m.Ticks,
		m.Exits,
		m.PassDuration,
		m.StepDuration,
		m.OpenPositions,
		m.Stagnation,
		m.PriceFetchErrors,
		m.BreakerOpen,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRatio,
		m.VIX,
		m.ActiveRegime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Gatherer exposes the underlying registry, for tests and custom exporters
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StepTimer tracks execution time for pass steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pass step
func (m *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pass step completed")
}

// RecordTick counts one position evaluation
func (m *Registry) RecordTick(outcome string) {
	m.Ticks.WithLabelValues(outcome).Inc()
}

// RecordExit counts one closed position
func (m *Registry) RecordExit(reason string) {
	m.Exits.WithLabelValues(reason).Inc()
}

// ObservePass records a full pass duration and the resulting open count
func (m *Registry) ObservePass(d time.Duration, openPositions int) {
	m.PassDuration.Observe(d.Seconds())
	m.OpenPositions.Set(float64(openPositions))
}

// SetStagnation publishes a position's stagnation score
func (m *Registry) SetStagnation(ticker string, score float64) {
	m.Stagnation.WithLabelValues(ticker).Set(score)
}

// ForgetPosition drops per-ticker series for a closed position
func (m *Registry) ForgetPosition(ticker string) {
	m.Stagnation.DeleteLabelValues(ticker)
}

// SetRegime publishes the volatility regime
func (m *Registry) SetRegime(regime int, vix float64) {
	m.ActiveRegime.Set(float64(regime))
	m.VIX.Set(vix)
}

// SetBreakerOpen publishes a provider's breaker state
func (m *Registry) SetBreakerOpen(source string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerOpen.WithLabelValues(source).Set(v)
}

// PriceFetchError implements marketdata.Observer
func (m *Registry) PriceFetchError(source string) {
	m.PriceFetchErrors.WithLabelValues(source).Inc()
}

// BarCacheResult implements marketdata.Observer
func (m *Registry) BarCacheResult(hit bool) {
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
	m.updateCacheHitRatio()
}

func (m *Registry) updateCacheHitRatio() {
	hits := counterValue(m.CacheHits)
	total := hits + counterValue(m.CacheMisses)
	if total > 0 {
		m.CacheHitRatio.Set(hits / total)
	}
}

func counterValue(c prometheus.Counter) float64 {
	var metric io_prometheus_client.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
