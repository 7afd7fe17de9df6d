package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/persistence"
)

const positionColumns = `ticker, entry_date, entry_price, shares, position_size, current_price,
	stop_loss, price_target, catalyst_type, catalyst_thesis, tier, conviction_level,
	days_held, trailing_stop_active, trailing_stop_price, peak_price, peak_return_pct,
	gap_pct, target_touches, review_flagged, conviction_trace, updated_at`

// positionRow is the flat table shape of domain.Position
type positionRow struct {
	Ticker             string    `db:"ticker"`
	EntryDate          time.Time `db:"entry_date"`
	EntryPrice         float64   `db:"entry_price"`
	Shares             float64   `db:"shares"`
	PositionSize       float64   `db:"position_size"`
	CurrentPrice       float64   `db:"current_price"`
	StopLoss           float64   `db:"stop_loss"`
	PriceTarget        float64   `db:"price_target"`
	CatalystType       string    `db:"catalyst_type"`
	CatalystThesis     string    `db:"catalyst_thesis"`
	Tier               string    `db:"tier"`
	ConvictionLevel    string    `db:"conviction_level"`
	DaysHeld           int       `db:"days_held"`
	TrailingStopActive bool      `db:"trailing_stop_active"`
	TrailingStopPrice  float64   `db:"trailing_stop_price"`
	PeakPrice          float64   `db:"peak_price"`
	PeakReturnPct      float64   `db:"peak_return_pct"`
	GapPct             float64   `db:"gap_pct"`
	TargetTouches      int       `db:"target_touches"`
	ReviewFlagged      bool      `db:"review_flagged"`
	ConvictionTrace    []byte    `db:"conviction_trace"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func toRow(p domain.Position) (positionRow, error) {
	trace := p.ConvictionTrace
	if trace == nil {
		trace = []string{}
	}
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return positionRow{}, fmt.Errorf("failed to marshal conviction trace: %w", err)
	}
	return positionRow{
		Ticker:             strings.ToUpper(p.Ticker),
		EntryDate:          p.EntryDate,
		EntryPrice:         p.EntryPrice,
		Shares:             p.Shares,
		PositionSize:       p.PositionSize,
		CurrentPrice:       p.CurrentPrice,
		StopLoss:           p.StopLoss,
		PriceTarget:        p.PriceTarget,
		CatalystType:       p.Catalyst.Type,
		CatalystThesis:     p.Catalyst.Thesis,
		Tier:               p.Tier,
		ConvictionLevel:    p.ConvictionLevel,
		DaysHeld:           p.DaysHeld,
		TrailingStopActive: p.TrailingStopActive,
		TrailingStopPrice:  p.TrailingStopPrice,
		PeakPrice:          p.PeakPrice,
		PeakReturnPct:      p.PeakReturnPct,
		GapPct:             p.GapPct,
		TargetTouches:      p.TargetTouches,
		ReviewFlagged:      p.ReviewFlagged,
		ConvictionTrace:    traceJSON,
		UpdatedAt:          p.UpdatedAt,
	}, nil
}

func (r positionRow) toDomain() (domain.Position, error) {
	p := domain.Position{
		Ticker:             r.Ticker,
		EntryDate:          r.EntryDate,
		EntryPrice:         r.EntryPrice,
		Shares:             r.Shares,
		PositionSize:       r.PositionSize,
		CurrentPrice:       r.CurrentPrice,
		StopLoss:           r.StopLoss,
		PriceTarget:        r.PriceTarget,
		Catalyst:           domain.Catalyst{Type: r.CatalystType, Thesis: r.CatalystThesis},
		Tier:               r.Tier,
		ConvictionLevel:    r.ConvictionLevel,
		DaysHeld:           r.DaysHeld,
		TrailingStopActive: r.TrailingStopActive,
		TrailingStopPrice:  r.TrailingStopPrice,
		PeakPrice:          r.PeakPrice,
		PeakReturnPct:      r.PeakReturnPct,
		GapPct:             r.GapPct,
		TargetTouches:      r.TargetTouches,
		ReviewFlagged:      r.ReviewFlagged,
		UpdatedAt:          r.UpdatedAt,
	}
	if len(r.ConvictionTrace) > 0 {
		if err := json.Unmarshal(r.ConvictionTrace, &p.ConvictionTrace); err != nil {
			return domain.Position{}, fmt.Errorf("failed to unmarshal conviction trace for %s: %w", r.Ticker, err)
		}
	}
	return p, nil
}

// positionsRepo implements persistence.PositionRepo for PostgreSQL
type positionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPositionsRepo creates a new PostgreSQL positions repository
func NewPositionsRepo(db *sqlx.DB, timeout time.Duration) persistence.PositionRepo {
	return &positionsRepo{
		db:      db,
		timeout: timeout,
	}
}

// List returns all open positions ordered by ticker
func (r *positionsRepo) List(ctx context.Context) ([]domain.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []positionRow
	query := `SELECT ` + positionColumns + ` FROM positions ORDER BY ticker`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// Get returns the open position for ticker
func (r *positionsRepo) Get(ctx context.Context, ticker string) (*domain.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row positionRow
	query := `SELECT ` + positionColumns + ` FROM positions WHERE ticker = $1`
	if err := r.db.GetContext(ctx, &row, query, strings.ToUpper(ticker)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("position %s: %w", ticker, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get position %s: %w", ticker, err)
	}

	p, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create opens a new position
func (r *positionsRepo) Create(ctx context.Context, pos domain.Position) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row, err := toRow(pos)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES (:ticker, :entry_date, :entry_price, :shares, :position_size, :current_price,
			:stop_loss, :price_target, :catalyst_type, :catalyst_thesis, :tier, :conviction_level,
			:days_held, :trailing_stop_active, :trailing_stop_price, :peak_price, :peak_return_pct,
			:gap_pct, :target_touches, :review_flagged, :conviction_trace, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("position %s: %w", pos.Ticker, persistence.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert position %s: %w", pos.Ticker, err)
	}
	return nil
}

// Save overwrites the tracked state of an open position
func (r *positionsRepo) Save(ctx context.Context, pos domain.Position) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row, err := toRow(pos)
	if err != nil {
		return err
	}

	query := `
		UPDATE positions SET
			current_price = :current_price,
			stop_loss = :stop_loss,
			price_target = :price_target,
			days_held = :days_held,
			trailing_stop_active = :trailing_stop_active,
			trailing_stop_price = :trailing_stop_price,
			peak_price = :peak_price,
			peak_return_pct = :peak_return_pct,
			target_touches = :target_touches,
			review_flagged = :review_flagged,
			conviction_trace = :conviction_trace,
			updated_at = :updated_at
		WHERE ticker = :ticker AND entry_date = :entry_date`

	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", pos.Ticker, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for %s: %w", pos.Ticker, err)
	}
	if n == 0 {
		return fmt.Errorf("position %s: %w", pos.Ticker, persistence.ErrNotFound)
	}
	return nil
}

// Close appends the exit event and deletes the open position in one transaction
func (r *positionsRepo) Close(ctx context.Context, ev domain.ExitEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertExitEventSQL, ev); err != nil {
		return fmt.Errorf("failed to append exit event %s: %w", ev.TradeID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM positions WHERE ticker = $1 AND entry_date = $2`,
		strings.ToUpper(ev.Ticker), ev.EntryDate); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", ev.Ticker, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit close of %s: %w", ev.TradeID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
