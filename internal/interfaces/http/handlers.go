package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/report"
)

const (
	defaultExitLimit = 100
	maxExitLimit     = 1000
)

type handlers struct {
	deps Dependencies
}

// writeJSON writes JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// GET /positions
func (h *handlers) listPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.deps.Repository.Positions.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("List positions failed")
		writeError(w, r, http.StatusInternalServerError, "repository_error", "Failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, PositionsResponse{
		Timestamp: time.Now().UTC(),
		Count:     len(positions),
		Positions: positions,
	})
}

// GET /positions/{ticker}
func (h *handlers) getPosition(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(mux.Vars(r)["ticker"])
	pos, err := h.deps.Repository.Positions.Get(r.Context(), ticker)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "position_not_found", fmt.Sprintf("No open position for %s", ticker))
			return
		}
		log.Error().Err(err).Str("ticker", ticker).Msg("Get position failed")
		writeError(w, r, http.StatusInternalServerError, "repository_error", "Failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GET /exits?from=YYYY-MM-DD&to=YYYY-MM-DD&limit=N
func (h *handlers) listExits(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}
	limit := defaultExitLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxExitLimit {
			writeError(w, r, http.StatusBadRequest, "invalid_limit",
				fmt.Sprintf("limit must be between 1 and %d", maxExitLimit))
			return
		}
	}

	events, err := h.deps.Repository.Exits.List(r.Context(), tr, limit)
	if err != nil {
		log.Error().Err(err).Msg("List exits failed")
		writeError(w, r, http.StatusInternalServerError, "repository_error", "Failed to list exits")
		return
	}
	if events == nil {
		events = []domain.ExitEvent{}
	}

	resp := ExitsResponse{Timestamp: time.Now().UTC(), Count: len(events), Exits: events}
	if !tr.From.IsZero() {
		resp.From = &tr.From
	}
	if !tr.To.IsZero() {
		resp.To = &tr.To
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /report?from=&to=&format=json|markdown|csv
func (h *handlers) exitReport(w http.ResponseWriter, r *http.Request) {
	tr, err := parseRange(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}
	q, err := report.Generate(r.Context(), h.deps.Repository.Exits, tr, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Exit report failed")
		writeError(w, r, http.StatusInternalServerError, "repository_error", "Failed to build report")
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, q)
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if err := q.WriteMarkdown(w); err != nil {
			log.Error().Err(err).Msg("Failed to write markdown report")
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		if err := q.WriteCSV(w); err != nil {
			log.Error().Err(err).Msg("Failed to write CSV report")
		}
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_format", fmt.Sprintf("unknown format %q", format))
	}
}

// GET /passes/last
func (h *handlers) lastPass(w http.ResponseWriter, r *http.Request) {
	if h.deps.Engine == nil {
		writeError(w, r, http.StatusNotFound, "no_engine", "Monitor is not attached to an evaluation engine")
		return
	}
	last, ok := h.deps.Engine.LastPass()
	if !ok {
		writeError(w, r, http.StatusNotFound, "no_pass", "No evaluation pass has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// parseRange reads from/to query dates. to is inclusive of the whole day.
func parseRange(r *http.Request) (persistence.TimeRange, error) {
	var tr persistence.TimeRange
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			return tr, fmt.Errorf("from must be YYYY-MM-DD")
		}
		tr.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			return tr, fmt.Errorf("to must be YYYY-MM-DD")
		}
		tr.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if !tr.From.IsZero() && !tr.To.IsZero() && tr.To.Before(tr.From) {
		return tr, fmt.Errorf("to is before from")
	}
	return tr, nil
}
