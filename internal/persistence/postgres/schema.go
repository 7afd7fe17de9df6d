package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates the positions and exit ledger tables
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	ticker               TEXT PRIMARY KEY,
	entry_date           DATE NOT NULL,
	entry_price          DOUBLE PRECISION NOT NULL CHECK (entry_price > 0),
	shares               DOUBLE PRECISION NOT NULL,
	position_size        DOUBLE PRECISION NOT NULL,
	current_price        DOUBLE PRECISION NOT NULL,
	stop_loss            DOUBLE PRECISION NOT NULL,
	price_target         DOUBLE PRECISION NOT NULL,
	catalyst_type        TEXT NOT NULL DEFAULT '',
	catalyst_thesis      TEXT NOT NULL DEFAULT '',
	tier                 TEXT NOT NULL DEFAULT '',
	conviction_level     TEXT NOT NULL DEFAULT '',
	days_held            INTEGER NOT NULL DEFAULT 0,
	trailing_stop_active BOOLEAN NOT NULL DEFAULT FALSE,
	trailing_stop_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
	peak_price           DOUBLE PRECISION NOT NULL DEFAULT 0,
	peak_return_pct      DOUBLE PRECISION NOT NULL DEFAULT 0,
	gap_pct              DOUBLE PRECISION NOT NULL DEFAULT 0,
	target_touches       INTEGER NOT NULL DEFAULT 0,
	review_flagged       BOOLEAN NOT NULL DEFAULT FALSE,
	conviction_trace     JSONB NOT NULL DEFAULT '[]',
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS exit_events (
	id                 UUID PRIMARY KEY,
	trade_id           TEXT NOT NULL UNIQUE,
	ticker             TEXT NOT NULL,
	entry_date         DATE NOT NULL,
	exit_date          TIMESTAMPTZ NOT NULL,
	entry_price        DOUBLE PRECISION NOT NULL,
	exit_price         DOUBLE PRECISION NOT NULL,
	shares             DOUBLE PRECISION NOT NULL,
	hold_days          INTEGER NOT NULL,
	return_pct         DOUBLE PRECISION NOT NULL,
	return_dollars     NUMERIC(18, 2) NOT NULL,
	exit_reason        TEXT NOT NULL,
	exit_code          TEXT NOT NULL,
	peak_return_pct    DOUBLE PRECISION NOT NULL,
	trailing_activated BOOLEAN NOT NULL,
	conviction_level   TEXT NOT NULL DEFAULT '',
	tier               TEXT NOT NULL DEFAULT '',
	catalyst_type      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS exit_events_exit_date_idx ON exit_events (exit_date DESC);
CREATE INDEX IF NOT EXISTS exit_events_ticker_idx ON exit_events (ticker);
`

// Migrate applies Schema. Safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
