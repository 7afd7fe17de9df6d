package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/persistence"
)

// ON CONFLICT makes replays of the same close a no-op
const insertExitEventSQL = `
	INSERT INTO exit_events (id, trade_id, ticker, entry_date, exit_date, entry_price, exit_price,
		shares, hold_days, return_pct, return_dollars, exit_reason, exit_code, peak_return_pct,
		trailing_activated, conviction_level, tier, catalyst_type)
	VALUES (:id, :trade_id, :ticker, :entry_date, :exit_date, :entry_price, :exit_price,
		:shares, :hold_days, :return_pct, :return_dollars, :exit_reason, :exit_code, :peak_return_pct,
		:trailing_activated, :conviction_level, :tier, :catalyst_type)
	ON CONFLICT (trade_id) DO NOTHING`

const exitEventColumns = `id, trade_id, ticker, entry_date, exit_date, entry_price, exit_price,
	shares, hold_days, return_pct, return_dollars, exit_reason, exit_code, peak_return_pct,
	trailing_activated, conviction_level, tier, catalyst_type`

// maxTime stands in for an open upper bound
var maxTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// exitsRepo implements persistence.ExitLedger for PostgreSQL
type exitsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewExitLedger creates a new PostgreSQL exit ledger
func NewExitLedger(db *sqlx.DB, timeout time.Duration) persistence.ExitLedger {
	return &exitsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Append records an exit event
func (r *exitsRepo) Append(ctx context.Context, ev domain.ExitEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.NamedExecContext(ctx, insertExitEventSQL, ev); err != nil {
		return fmt.Errorf("failed to append exit event %s: %w", ev.TradeID, err)
	}
	return nil
}

// List returns events in the range, newest first
func (r *exitsRepo) List(ctx context.Context, tr persistence.TimeRange, limit int) ([]domain.ExitEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	to := tr.To
	if to.IsZero() {
		to = maxTime
	}
	var lim interface{}
	if limit > 0 {
		lim = limit
	}

	query := `
		SELECT ` + exitEventColumns + `
		FROM exit_events
		WHERE exit_date >= $1 AND exit_date <= $2
		ORDER BY exit_date DESC
		LIMIT $3`

	var events []domain.ExitEvent
	if err := r.db.SelectContext(ctx, &events, query, tr.From, to, lim); err != nil {
		return nil, fmt.Errorf("failed to list exit events: %w", err)
	}
	return events, nil
}
