package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/swingrun/internal/domain"
)

var (
	// ErrDuplicate is returned when creating a position for a ticker that is already open
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned when a position does not exist
	ErrNotFound = errors.New("record not found")
)

// TimeRange represents a time window for ledger queries. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range, bounds inclusive
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.From.IsZero() && t.Before(tr.From) {
		return false
	}
	if !tr.To.IsZero() && t.After(tr.To) {
		return false
	}
	return true
}

// PositionRepo stores the open positions. At most one open position per ticker.
type PositionRepo interface {
	// List returns all open positions ordered by ticker
	List(ctx context.Context) ([]domain.Position, error)

	// Get returns the open position for ticker or ErrNotFound
	Get(ctx context.Context, ticker string) (*domain.Position, error)

	// Create opens a new position, ErrDuplicate if the ticker is already open
	Create(ctx context.Context, pos domain.Position) error

	// Save overwrites the tracked state of an open position
	Save(ctx context.Context, pos domain.Position) error

	// Close appends ev to the ledger and removes the open position atomically
	Close(ctx context.Context, ev domain.ExitEvent) error
}

// ExitLedger is the append-only record of closed trades
type ExitLedger interface {
	// Append records ev. Appending the same trade twice is a no-op.
	Append(ctx context.Context, ev domain.ExitEvent) error

	// List returns events with exit date in tr, newest first. limit <= 0 means all.
	List(ctx context.Context, tr TimeRange, limit int) ([]domain.ExitEvent, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Positions PositionRepo
	Exits     ExitLedger
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	OpenPositions  int            `json:"open_positions"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth reports on the backing store for the monitor
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
}
