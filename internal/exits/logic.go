package exits

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/domain/stagnation"
)

// ExitReason represents the reason for exit, in evaluation precedence order
type ExitReason int

const (
	NoExit              ExitReason = iota
	StopLoss                       // price at or below stop, checked first
	TrailingStop                   // target reached, then trailed out
	TimeStop                       // held for the maximum number of days
	CatalystInvalidated            // external signal says the thesis is broken
)

func (er ExitReason) String() string {
	switch er {
	case NoExit:
		return "no_exit"
	case StopLoss:
		return "stop_loss"
	case TrailingStop:
		return "trailing_stop"
	case TimeStop:
		return "time_stop"
	case CatalystInvalidated:
		return "catalyst_invalidated"
	default:
		return "unknown"
	}
}

// Label is the human-readable ledger reason
func (er ExitReason) Label() string {
	switch er {
	case StopLoss:
		return "Stop loss"
	case TrailingStop:
		return "Target reached, trailing stop hit"
	case TimeStop:
		return "Time stop"
	case CatalystInvalidated:
		return "Catalyst invalidated"
	default:
		return "Holding"
	}
}

// MarshalText renders the reason code in JSON
func (er ExitReason) MarshalText() ([]byte, error) {
	return []byte(er.String()), nil
}

// UnmarshalText parses a reason code
func (er *ExitReason) UnmarshalText(text []byte) error {
	for r := NoExit; r <= CatalystInvalidated; r++ {
		if r.String() == string(text) {
			*er = r
			return nil
		}
	}
	return fmt.Errorf("unknown exit reason %q", text)
}

// State is the per-position machine state after a tick
type State string

const (
	StateHolding State = "HOLDING"
	StateClosing State = "CLOSING"
	StateSkipped State = "SKIPPED" // no usable price, nothing changed
)

// ExitInputs is everything observed for one position on one tick
type ExitInputs struct {
	// CurrentPrice of zero, negative or NaN is treated as missing
	CurrentPrice float64   `json:"current_price"`
	DaysHeld     int       `json:"days_held"`
	AsOf         time.Time `json:"as_of"`

	CatalystInvalidated bool               `json:"catalyst_invalidated"`
	Stagnation          *stagnation.Result `json:"stagnation,omitempty"`
}

// ExitResult contains the exit evaluation outcome
type ExitResult struct {
	Ticker        string     `json:"ticker"`
	Timestamp     time.Time  `json:"timestamp"`
	State         State      `json:"state"`
	ShouldExit    bool       `json:"should_exit"`
	ExitReason    ExitReason `json:"exit_reason"`
	ReasonString  string     `json:"reason_string"`
	TriggeredBy   string     `json:"triggered_by"`
	CurrentPrice  float64    `json:"current_price"`
	EntryPrice    float64    `json:"entry_price"`
	ReturnPct     float64    `json:"return_pct"`
	PeakReturnPct float64    `json:"peak_return_pct"`
	DaysHeld      int        `json:"days_held"`

	TrailingActivated bool `json:"trailing_activated"` // armed on this tick
	ReviewFlagged     bool `json:"review_flagged"`     // stagnation exit candidate

	Stagnation *stagnation.Result `json:"stagnation,omitempty"`

	// Position is the updated snapshot; unchanged when the tick was skipped
	Position domain.Position `json:"position"`
	// Event is set only when ShouldExit is true
	Event *domain.ExitEvent `json:"event,omitempty"`
}

// ExitConfig contains exit rule configuration
type ExitConfig struct {
	// Trailing stop
	TrailingFloorPct float64 `yaml:"trailing_floor_pct"` // 8% lock above entry on activation
	TrailPct         float64 `yaml:"trail_pct"`          // 2% below each new peak

	// Time stop
	MaxHoldDays int `yaml:"max_hold_days"` // 21 days default

	// Gap-aware activation: wait this many target touches after a large entry gap
	EnableGapAware bool    `yaml:"enable_gap_aware"`
	GapAwarePct    float64 `yaml:"gap_aware_pct"`  // 5% default
	GapWaitTicks   int     `yaml:"gap_wait_ticks"` // 2 default

	// PriceEpsilon absorbs float noise when comparing price to a level
	PriceEpsilon float64 `yaml:"price_epsilon"`
}

// DefaultExitConfig returns production exit configuration
func DefaultExitConfig() *ExitConfig {
	return &ExitConfig{
		TrailingFloorPct: 8.0,
		TrailPct:         2.0,
		MaxHoldDays:      21,
		EnableGapAware:   true,
		GapAwarePct:      5.0,
		GapWaitTicks:     2,
		PriceEpsilon:     1e-9,
	}
}

// ExitEvaluator runs the per-position exit state machine
type ExitEvaluator struct {
	config *ExitConfig
}

// NewExitEvaluator creates a new exit evaluator
func NewExitEvaluator(config *ExitConfig) *ExitEvaluator {
	if config == nil {
		config = DefaultExitConfig()
	}
	return &ExitEvaluator{config: config}
}

// Config returns the evaluator configuration
func (ee *ExitEvaluator) Config() ExitConfig {
	return *ee.config
}

// EvaluateExit applies one tick to pos. Checks run in precedence order: stop
// loss, trailing stop, time stop, catalyst invalidation. Stagnation only flags.
// The input position is never mutated; the updated snapshot is in the result.
func (ee *ExitEvaluator) EvaluateExit(ctx context.Context, pos domain.Position, inputs ExitInputs) (*ExitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pos.EntryPrice <= 0 {
		return nil, fmt.Errorf("evaluate %s: entry %.4f: %w", pos.Ticker, pos.EntryPrice, domain.ErrInvalidPriceInput)
	}

	result := &ExitResult{
		Ticker:        pos.Ticker,
		Timestamp:     inputs.AsOf,
		State:         StateHolding,
		ExitReason:    NoExit,
		ReasonString:  NoExit.Label(),
		EntryPrice:    pos.EntryPrice,
		PeakReturnPct: pos.PeakReturnPct,
		DaysHeld:      pos.DaysHeld,
		Position:      pos,
		Stagnation:    inputs.Stagnation,
	}

	price := inputs.CurrentPrice
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		result.State = StateSkipped
		result.TriggeredBy = "No usable current price, tick skipped"
		return result, nil
	}

	p := pos
	p.CurrentPrice = price
	if inputs.DaysHeld > p.DaysHeld {
		p.DaysHeld = inputs.DaysHeld
	}
	if !inputs.AsOf.IsZero() {
		p.UpdatedAt = inputs.AsOf
	}

	returnPct := p.ReturnPct(price)
	newPeak := price > p.PeakPrice
	if newPeak {
		p.PeakPrice = price
		p.PeakReturnPct = returnPct
	}

	result.CurrentPrice = price
	result.ReturnPct = returnPct
	result.DaysHeld = p.DaysHeld

	// 1. Stop loss
	if ee.atOrBelow(price, p.StopLoss) {
		ee.close(result, StopLoss, fmt.Sprintf("Price %.4f <= stop %.4f", price, p.StopLoss))
	}

	// 2. Trailing stop, armed on first touch of target
	if !result.ShouldExit {
		switch {
		case p.TrailingStopActive:
			if newPeak {
				p.TrailingStopPrice = math.Max(p.TrailingStopPrice, price*(1-ee.config.TrailPct/100))
			}
			if ee.atOrBelow(price, p.TrailingStopPrice) {
				ee.close(result, TrailingStop, fmt.Sprintf("Price %.4f <= trailing %.4f (peak %.4f, +%.1f%%)",
					price, p.TrailingStopPrice, p.PeakPrice, p.PeakReturnPct))
			}

		case price >= p.PriceTarget:
			if ee.waitForGap(&p) {
				result.TriggeredBy = fmt.Sprintf("Target touched after %.1f%% entry gap, waiting for consolidation (%d/%d)",
					p.GapPct, p.TargetTouches, ee.config.GapWaitTicks)
				break
			}
			p.TrailingStopActive = true
			p.TrailingStopPrice = p.EntryPrice * (1 + ee.config.TrailingFloorPct/100)
			p.PeakPrice = price
			p.PeakReturnPct = returnPct
			result.TrailingActivated = true
			result.TriggeredBy = fmt.Sprintf("Target %.4f reached, trailing stop armed at %.4f",
				p.PriceTarget, p.TrailingStopPrice)
		}
	}

	// 3. Time stop
	if !result.ShouldExit && p.DaysHeld >= ee.config.MaxHoldDays {
		ee.close(result, TimeStop, fmt.Sprintf("Held %d days >= %d day limit", p.DaysHeld, ee.config.MaxHoldDays))
	}

	// 4. Catalyst invalidation
	if !result.ShouldExit && inputs.CatalystInvalidated {
		ee.close(result, CatalystInvalidated, "Catalyst invalidation signal asserted")
	}

	// 5. Stagnation is advisory only
	if !result.ShouldExit && inputs.Stagnation != nil && inputs.Stagnation.State == stagnation.StateExitCandidate {
		p.ReviewFlagged = true
		result.ReviewFlagged = true
		if result.TriggeredBy == "" {
			result.TriggeredBy = fmt.Sprintf("Stagnation score %.3f, flagged for review", inputs.Stagnation.Score)
		}
	}

	result.PeakReturnPct = p.PeakReturnPct
	result.Position = p

	if result.ShouldExit {
		reason := fmt.Sprintf("%s (%+.1f%%)", result.ExitReason.Label(), returnPct)
		switch result.ExitReason {
		case TrailingStop:
			reason = fmt.Sprintf("%s (%+.1f%%, peak %+.1f%%)", result.ExitReason.Label(), returnPct, p.PeakReturnPct)
		case TimeStop:
			reason = fmt.Sprintf("%s (%d days)", result.ExitReason.Label(), p.DaysHeld)
		}
		asOf := inputs.AsOf
		if asOf.IsZero() {
			asOf = time.Now()
		}
		ev := domain.NewExitEvent(p, price, asOf, result.ExitReason.String(), reason)
		result.Event = &ev
	}

	return result, nil
}

func (ee *ExitEvaluator) close(result *ExitResult, reason ExitReason, trigger string) {
	result.ShouldExit = true
	result.State = StateClosing
	result.ExitReason = reason
	result.ReasonString = reason.Label()
	result.TriggeredBy = trigger
}

func (ee *ExitEvaluator) atOrBelow(price, level float64) bool {
	return level > 0 && price <= level+ee.config.PriceEpsilon
}

// waitForGap counts target touches for positions entered on a large gap and
// reports whether activation should still be deferred
func (ee *ExitEvaluator) waitForGap(p *domain.Position) bool {
	if !ee.config.EnableGapAware || p.GapPct < ee.config.GapAwarePct {
		return false
	}
	if p.TargetTouches >= ee.config.GapWaitTicks {
		return false
	}
	p.TargetTouches++
	return true
}

// GetExitSummary returns a concise exit evaluation summary
func (er *ExitResult) GetExitSummary() string {
	switch er.State {
	case StateSkipped:
		return fmt.Sprintf("SKIP %s: %s", er.Ticker, er.TriggeredBy)
	case StateClosing:
		return fmt.Sprintf("EXIT %s: %s (%+.1f%% after %dd)", er.Ticker, er.ReasonString, er.ReturnPct, er.DaysHeld)
	default:
		summary := fmt.Sprintf("HOLD %s: %+.1f%% after %dd", er.Ticker, er.ReturnPct, er.DaysHeld)
		if er.Position.TrailingStopActive {
			summary += fmt.Sprintf(", trailing %.2f", er.Position.TrailingStopPrice)
		}
		if er.ReviewFlagged {
			summary += ", flagged stagnant"
		}
		return summary
	}
}
