package http

import (
	"time"

	"github.com/sawpanic/swingrun/internal/application/evaluate"
	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/infrastructure/providers"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/regime"
)

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check status values
const (
	CheckPass = "pass"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`

	System   SystemInfo                `json:"system"`
	Database *persistence.HealthCheck  `json:"database,omitempty"`
	Breakers []providers.BreakerStatus `json:"breakers"`
	Regime   *RegimeInfo               `json:"regime,omitempty"`
	LastPass *PassSummary              `json:"last_pass,omitempty"`

	Checks map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status    string        `json:"status"` // pass, warn, fail
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// RegimeInfo is the last volatility regime detection
type RegimeInfo struct {
	Regime        string    `json:"regime"`
	VIX           float64   `json:"vix"`
	Assumed       bool      `json:"assumed"`
	VolMultiplier float64   `json:"vol_multiplier"`
	DetectedAt    time.Time `json:"detected_at"`
}

func newRegimeInfo(rd regime.DetectionResult) *RegimeInfo {
	return &RegimeInfo{
		Regime:        rd.Regime.String(),
		VIX:           rd.VIX,
		Assumed:       rd.Assumed,
		VolMultiplier: rd.VolMultiplier,
		DetectedAt:    rd.Timestamp,
	}
}

// PassSummary is the headline of an evaluation pass
type PassSummary struct {
	PassID    string        `json:"pass_id"`
	AsOf      time.Time     `json:"as_of"`
	Duration  time.Duration `json:"duration"`
	Evaluated int           `json:"evaluated"`
	Held      int           `json:"held"`
	Exited    int           `json:"exited"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Flagged   []string      `json:"flagged,omitempty"`
	DryRun    bool          `json:"dry_run"`
}

func newPassSummary(p evaluate.PassReport) *PassSummary {
	return &PassSummary{
		PassID:    p.PassID,
		AsOf:      p.AsOf,
		Duration:  p.Duration,
		Evaluated: p.Evaluated,
		Held:      p.Held,
		Exited:    p.Exited,
		Skipped:   p.Skipped,
		Failed:    p.Failed,
		Flagged:   p.Flagged,
		DryRun:    p.DryRun,
	}
}

// PositionsResponse lists open positions
type PositionsResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Count     int               `json:"count"`
	Positions []domain.Position `json:"positions"`
}

// ExitsResponse lists ledger events, newest first
type ExitsResponse struct {
	Timestamp time.Time          `json:"timestamp"`
	From      *time.Time         `json:"from,omitempty"`
	To        *time.Time         `json:"to,omitempty"`
	Count     int                `json:"count"`
	Exits     []domain.ExitEvent `json:"exits"`
}

// StreamMessage is one websocket frame
type StreamMessage struct {
	Type string              `json:"type"` // tick
	Tick evaluate.TickReport `json:"tick"`
}

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
