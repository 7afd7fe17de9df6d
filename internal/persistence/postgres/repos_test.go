package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/persistence"
)

var entryDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func columns(list string) []string {
	var out []string
	for _, c := range strings.Split(list, ",") {
		out = append(out, strings.TrimSpace(c))
	}
	return out
}

func samplePosition() domain.Position {
	return domain.Position{
		Ticker:          "NVDA",
		EntryDate:       entryDate,
		EntryPrice:      100,
		Shares:          10,
		PositionSize:    1000,
		CurrentPrice:    104,
		StopLoss:        93,
		PriceTarget:     110,
		Catalyst:        domain.Catalyst{Type: "Earnings_Beat", Thesis: "beat and raise"},
		Tier:            "Tier1",
		ConvictionLevel: "HIGH",
		DaysHeld:        3,
		PeakPrice:       105,
		PeakReturnPct:   5,
		ConvictionTrace: []string{"catalyst: Tier 1 catalyst"},
		UpdatedAt:       entryDate.AddDate(0, 0, 3),
	}
}

func positionRows() *sqlmock.Rows {
	return sqlmock.NewRows(columns(positionColumns)).AddRow(
		"NVDA", entryDate, 100.0, 10.0, 1000.0, 104.0,
		93.0, 110.0, "Earnings_Beat", "beat and raise", "Tier1", "HIGH",
		int64(3), true, 108.0, 111.0, 11.0,
		0.0, int64(0), false, []byte(`["catalyst: Tier 1 catalyst"]`), entryDate.AddDate(0, 0, 3),
	)
}

func TestPositionsRepo_List(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPositionsRepo(db, time.Second)

	mock.ExpectQuery("FROM positions ORDER BY ticker").WillReturnRows(positionRows())

	positions, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "NVDA", p.Ticker)
	assert.Equal(t, "Earnings_Beat", p.Catalyst.Type)
	assert.True(t, p.TrailingStopActive)
	assert.Equal(t, 108.0, p.TrailingStopPrice)
	assert.Equal(t, 3, p.DaysHeld)
	assert.Equal(t, []string{"catalyst: Tier 1 catalyst"}, p.ConvictionTrace)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionsRepo_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPositionsRepo(db, time.Second)

	mock.ExpectQuery("FROM positions WHERE ticker").
		WithArgs("TSLA").
		WillReturnRows(sqlmock.NewRows(columns(positionColumns)))

	_, err := repo.Get(context.Background(), "tsla")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionsRepo_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPositionsRepo(db, time.Second)

	mock.ExpectQuery("FROM positions WHERE ticker").WithArgs("NVDA").WillReturnRows(positionRows())

	p, err := repo.Get(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 111.0, p.PeakPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionsRepo_CreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPositionsRepo(db, time.Second)

	mock.ExpectExec("INSERT INTO positions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO positions").WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	require.NoError(t, repo.Create(context.Background(), samplePosition()))

	err := repo.Create(context.Background(), samplePosition())
	assert.ErrorIs(t, err, persistence.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionsRepo_SaveMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPositionsRepo(db, time.Second)

	mock.ExpectExec("UPDATE positions SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE positions SET").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Save(context.Background(), samplePosition()))
	assert.ErrorIs(t, repo.Save(context.Background(), samplePosition()), persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionsRepo_CloseCommits(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPositionsRepo(db, time.Second)

	ev := domain.NewExitEvent(samplePosition(), 109.76, entryDate.AddDate(0, 0, 6), "trailing_stop", "Target reached")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO exit_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM positions").WithArgs("NVDA", entryDate).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Close(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionsRepo_CloseRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPositionsRepo(db, time.Second)

	ev := domain.NewExitEvent(samplePosition(), 92, entryDate.AddDate(0, 0, 2), "stop_loss", "Stop loss")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO exit_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM positions").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Close(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete position")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExitLedger_AppendIsIdempotentStatement(t *testing.T) {
	db, mock := newMock(t)
	ledger := NewExitLedger(db, time.Second)

	ev := domain.NewExitEvent(samplePosition(), 109.76, entryDate.AddDate(0, 0, 6), "trailing_stop", "Target reached")
	mock.ExpectExec("ON CONFLICT \\(trade_id\\) DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, ledger.Append(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExitLedger_List(t *testing.T) {
	db, mock := newMock(t)
	ledger := NewExitLedger(db, time.Second)

	exitDate := entryDate.AddDate(0, 0, 6)
	rows := sqlmock.NewRows(columns(exitEventColumns)).AddRow(
		domain.ExitEventID("NVDA_2024-03-01"), "NVDA_2024-03-01", "NVDA", entryDate, exitDate, 100.0, 109.76,
		10.0, int64(6), 9.76, "97.60", "Target reached", "trailing_stop", 12.0,
		true, "HIGH", "Tier1", "Earnings_Beat",
	)
	mock.ExpectQuery("FROM exit_events").
		WithArgs(time.Time{}, maxTime, 10).
		WillReturnRows(rows)

	events, err := ledger.List(context.Background(), persistence.TimeRange{}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "trailing_stop", events[0].ExitCode)
	assert.True(t, events[0].ReturnDollars.Equal(decimal.RequireFromString("97.6")))
	assert.Equal(t, 6, events[0].HoldDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaDeclaresLedgerUniqueness(t *testing.T) {
	assert.Contains(t, Schema, "trade_id           TEXT NOT NULL UNIQUE")
	assert.Contains(t, Schema, "ticker               TEXT PRIMARY KEY")
}
