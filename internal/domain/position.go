package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Default level repairs applied when a proposed stop or target is unusable
const (
	RepairStopFactor   = 0.90
	RepairTargetFactor = 1.10
)

// DateLayout is the calendar date format used for entry and exit dates
const DateLayout = "2006-01-02"

// Catalyst is the thesis a position was opened on
type Catalyst struct {
	Type   string `json:"type"`
	Thesis string `json:"thesis"`
}

// Position is one open holding tracked by the exit engine
type Position struct {
	Ticker       string    `json:"ticker"`
	EntryDate    time.Time `json:"entry_date"`
	EntryPrice   float64   `json:"entry_price"`
	Shares       float64   `json:"shares"`
	PositionSize float64   `json:"position_size"` // cash committed at entry
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"stop_loss"`
	PriceTarget  float64   `json:"price_target"`

	Catalyst        Catalyst `json:"catalyst"`
	Tier            string   `json:"tier"`
	ConvictionLevel string   `json:"conviction_level"`

	DaysHeld           int     `json:"days_held"`
	TrailingStopActive bool    `json:"trailing_stop_active"`
	TrailingStopPrice  float64 `json:"trailing_stop_price"`
	PeakPrice          float64 `json:"peak_price"`
	PeakReturnPct      float64 `json:"peak_return_pct"`

	// Gap-aware trailing: entry gap size and how many ticks have touched target
	GapPct        float64 `json:"gap_pct"`
	TargetTouches int     `json:"target_touches"`

	// ReviewFlagged is set when stagnation marks the position as dead capital
	ReviewFlagged bool `json:"review_flagged"`

	// ConvictionTrace is the reasoning trace kept from sizing
	ConvictionTrace []string  `json:"conviction_trace,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TradeID identifies a position by ticker and entry date, e.g. "NVDA_2024-03-01"
func (p Position) TradeID() string {
	return TradeID(p.Ticker, p.EntryDate)
}

// TradeID builds the ledger identity for a ticker/entry-date pair
func TradeID(ticker string, entryDate time.Time) string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(ticker), entryDate.Format(DateLayout))
}

// ReturnPct is the unrealized return at price, in percent
func (p Position) ReturnPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// Validate checks the stop < entry < target invariant
func (p Position) Validate() error {
	if p.EntryPrice <= 0 {
		return fmt.Errorf("%s entry %.4f: %w", p.Ticker, p.EntryPrice, ErrInvalidPriceInput)
	}
	if p.StopLoss <= 0 || p.StopLoss >= p.EntryPrice || p.PriceTarget <= p.EntryPrice {
		return fmt.Errorf("%s stop %.4f entry %.4f target %.4f: %w",
			p.Ticker, p.StopLoss, p.EntryPrice, p.PriceTarget, ErrInconsistentPositionState)
	}
	return nil
}

// NewPositionParams carries everything needed to open a position
type NewPositionParams struct {
	Ticker          string
	EntryDate       time.Time
	EntryPrice      float64
	PositionSize    float64
	StopLoss        float64
	PriceTarget     float64
	Catalyst        Catalyst
	Tier            string
	ConvictionLevel string
	GapPct          float64
	ConvictionTrace []string
}

// NewPosition opens a position, repairing stop/target levels that violate
// stop < entry < target. Repairs are logged, never silent.
func NewPosition(params NewPositionParams) (Position, error) {
	if params.EntryPrice <= 0 {
		return Position{}, fmt.Errorf("new position %s: entry %.4f: %w",
			params.Ticker, params.EntryPrice, ErrInvalidPriceInput)
	}
	if params.PositionSize <= 0 {
		return Position{}, fmt.Errorf("new position %s: size %.2f must be positive", params.Ticker, params.PositionSize)
	}

	pos := Position{
		Ticker:          strings.ToUpper(strings.TrimSpace(params.Ticker)),
		EntryDate:       truncateDay(params.EntryDate),
		EntryPrice:      params.EntryPrice,
		Shares:          params.PositionSize / params.EntryPrice,
		PositionSize:    params.PositionSize,
		CurrentPrice:    params.EntryPrice,
		StopLoss:        params.StopLoss,
		PriceTarget:     params.PriceTarget,
		Catalyst:        params.Catalyst,
		Tier:            params.Tier,
		ConvictionLevel: params.ConvictionLevel,
		GapPct:          params.GapPct,
		PeakPrice:       params.EntryPrice,
		ConvictionTrace: params.ConvictionTrace,
		UpdatedAt:       params.EntryDate,
	}
	RepairLevels(&pos)
	return pos, nil
}

// RepairLevels fixes a stop at or above entry (or missing) to entry*0.90 and a
// target at or below entry (or missing) to entry*1.10. Returns true if anything changed.
func RepairLevels(pos *Position) bool {
	repaired := false
	if pos.StopLoss <= 0 || pos.StopLoss >= pos.EntryPrice {
		fixed := pos.EntryPrice * RepairStopFactor
		log.Warn().Str("ticker", pos.Ticker).
			Float64("entry", pos.EntryPrice).
			Float64("stop", pos.StopLoss).
			Float64("repaired_stop", fixed).
			Msg("Stop loss inconsistent with entry, repairing")
		pos.StopLoss = fixed
		repaired = true
	}
	if pos.PriceTarget <= 0 || pos.PriceTarget <= pos.EntryPrice {
		fixed := pos.EntryPrice * RepairTargetFactor
		log.Warn().Str("ticker", pos.Ticker).
			Float64("entry", pos.EntryPrice).
			Float64("target", pos.PriceTarget).
			Float64("repaired_target", fixed).
			Msg("Price target inconsistent with entry, repairing")
		pos.PriceTarget = fixed
		repaired = true
	}
	return repaired
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole calendar days from entry to asOf, never negative.
// asOf is read in the entry's zone; DST shifts do not shorten a day.
func DaysBetween(entry, asOf time.Time) int {
	days := int(calendarDay(asOf.In(entry.Location())).Sub(calendarDay(entry)) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

// ExitEvent is the immutable ledger record of a closed position
type ExitEvent struct {
	ID                string          `json:"id" db:"id"`
	TradeID           string          `json:"trade_id" db:"trade_id"`
	Ticker            string          `json:"ticker" db:"ticker"`
	EntryDate         time.Time       `json:"entry_date" db:"entry_date"`
	ExitDate          time.Time       `json:"exit_date" db:"exit_date"`
	EntryPrice        float64         `json:"entry_price" db:"entry_price"`
	ExitPrice         float64         `json:"exit_price" db:"exit_price"`
	Shares            float64         `json:"shares" db:"shares"`
	HoldDays          int             `json:"hold_days" db:"hold_days"`
	ReturnPct         float64         `json:"return_pct" db:"return_pct"`
	ReturnDollars     decimal.Decimal `json:"return_dollars" db:"return_dollars"`
	ExitReason        string          `json:"exit_reason" db:"exit_reason"`
	ExitCode          string          `json:"exit_code" db:"exit_code"`
	PeakReturnPct     float64         `json:"peak_return_pct" db:"peak_return_pct"`
	TrailingActivated bool            `json:"trailing_activated" db:"trailing_activated"`
	ConvictionLevel   string          `json:"conviction_level" db:"conviction_level"`
	Tier              string          `json:"tier" db:"tier"`
	CatalystType      string          `json:"catalyst_type" db:"catalyst_type"`
}

// ExitEventID derives a stable event ID from the trade ID so that replaying
// the same close produces the same ledger key
func ExitEventID(tradeID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("swingrun/exit/"+tradeID)).String()
}

// NewExitEvent builds the ledger record for closing pos at exitPrice.
// Dollar P&L is computed in decimal and rounded to cents.
func NewExitEvent(pos Position, exitPrice float64, exitDate time.Time, code, reason string) ExitEvent {
	entry := decimal.NewFromFloat(pos.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	shares := decimal.NewFromFloat(pos.Shares)
	dollars := exit.Sub(entry).Mul(shares).Round(2)

	return ExitEvent{
		ID:                ExitEventID(pos.TradeID()),
		TradeID:           pos.TradeID(),
		Ticker:            pos.Ticker,
		EntryDate:         pos.EntryDate,
		ExitDate:          exitDate,
		EntryPrice:        pos.EntryPrice,
		ExitPrice:         exitPrice,
		Shares:            pos.Shares,
		HoldDays:          pos.DaysHeld,
		ReturnPct:         pos.ReturnPct(exitPrice),
		ReturnDollars:     dollars,
		ExitReason:        reason,
		ExitCode:          code,
		PeakReturnPct:     pos.PeakReturnPct,
		TrailingActivated: pos.TrailingStopActive,
		ConvictionLevel:   pos.ConvictionLevel,
		Tier:              pos.Tier,
		CatalystType:      pos.Catalyst.Type,
	}
}

// IsWin reports whether the trade closed with a positive return
func (e ExitEvent) IsWin() bool {
	return e.ReturnPct > 0
}
