package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/sawpanic/swingrun/internal/application/evaluate"
	"github.com/sawpanic/swingrun/internal/infrastructure/providers"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/regime"
)

// HealthHandler provides system health status endpoint
type HealthHandler struct {
	database  persistence.RepositoryHealth
	breakers  *providers.CircuitBreakerManager
	detector  *regime.Detector
	engine    *evaluate.Engine
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. Every dependency is optional.
func NewHealthHandler(deps Dependencies) *HealthHandler {
	return &HealthHandler{
		database:  deps.Database,
		breakers:  deps.Breakers,
		detector:  deps.Detector,
		engine:    deps.Engine,
		startTime: time.Now(),
		version:   deps.Version,
	}
}

// ServeHTTP implements the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	response := h.gatherHealthInfo(r.Context())

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	response.Checks["health_endpoint"] = CheckResult{
		Status:    CheckPass,
		Message:   "Health endpoint responding",
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}

	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (h *HealthHandler) gatherHealthInfo(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System:    h.getSystemInfo(),
		Breakers:  []providers.BreakerStatus{},
		Checks:    make(map[string]CheckResult),
	}

	if h.database != nil {
		hc := h.database.Health(ctx)
		response.Database = &hc
		h.addDatabaseCheck(&response, hc)
	}
	if h.breakers != nil {
		response.Breakers = h.breakers.Snapshot()
		h.addBreakerCheck(&response)
	}
	if h.detector != nil {
		if rd, ok := h.detector.Last(); ok {
			response.Regime = newRegimeInfo(rd)
		}
	}
	if h.engine != nil {
		if last, ok := h.engine.LastPass(); ok {
			response.LastPass = newPassSummary(last)
			h.addPassCheck(&response, last)
		}
	}
	h.addSystemChecks(&response)

	response.Status = calculateOverallStatus(response.Checks)
	return response
}

func (h *HealthHandler) getSystemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		MemSys:        memStats.Sys,
		NumGC:         memStats.NumGC,
	}
}

func (h *HealthHandler) addDatabaseCheck(response *HealthResponse, hc persistence.HealthCheck) {
	check := CheckResult{
		Status:    CheckPass,
		Message:   fmt.Sprintf("Database responding in %dms", hc.ResponseTimeMS),
		Duration:  time.Duration(hc.ResponseTimeMS) * time.Millisecond,
		Timestamp: hc.LastCheck,
	}
	if !hc.Healthy {
		check.Status = CheckFail
		check.Message = "Database unhealthy"
		if len(hc.Errors) > 0 {
			check.Message += ": " + hc.Errors[0]
		}
	}
	response.Checks["database"] = check
}

// addBreakerCheck warns while any market data breaker is open. Prices then
// come back empty and ticks are skipped, which is degraded but not down.
func (h *HealthHandler) addBreakerCheck(response *HealthResponse) {
	open := 0
	for _, b := range response.Breakers {
		if b.State == "open" {
			open++
		}
	}
	check := CheckResult{Status: CheckPass, Message: "All market data breakers closed", Timestamp: time.Now()}
	if open > 0 {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("%d/%d market data breakers open", open, len(response.Breakers))
	}
	response.Checks["market_data"] = check
}

func (h *HealthHandler) addPassCheck(response *HealthResponse, last evaluate.PassReport) {
	check := CheckResult{
		Status:    CheckPass,
		Message:   fmt.Sprintf("Last pass evaluated %d positions", last.Evaluated),
		Duration:  last.Duration,
		Timestamp: last.StartedAt,
	}
	if last.Failed > 0 || last.Skipped > 0 {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Last pass: %d failed, %d skipped of %d", last.Failed, last.Skipped, last.Evaluated)
	}
	response.Checks["last_pass"] = check
}

func (h *HealthHandler) addSystemChecks(response *HealthResponse) {
	memUsagePercent := 0.0
	if response.System.MemSys > 0 {
		memUsagePercent = float64(response.System.MemAlloc) / float64(response.System.MemSys) * 100
	}

	check := CheckResult{Status: CheckPass, Message: fmt.Sprintf("Memory usage normal: %.1f%%", memUsagePercent), Timestamp: time.Now()}
	if memUsagePercent > 90 {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Memory usage critical: %.1f%%", memUsagePercent)
	}
	response.Checks["memory"] = check

	check = CheckResult{Status: CheckPass, Message: fmt.Sprintf("Goroutine count normal: %d", response.System.NumGoroutines), Timestamp: time.Now()}
	if response.System.NumGoroutines > 1000 {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("High goroutine count: %d", response.System.NumGoroutines)
	}
	response.Checks["goroutines"] = check
}

// calculateOverallStatus: any failing check is unhealthy, any warning degraded
func calculateOverallStatus(checks map[string]CheckResult) string {
	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case CheckFail:
			return StatusUnhealthy
		case CheckWarn:
			status = StatusDegraded
		}
	}
	return status
}
