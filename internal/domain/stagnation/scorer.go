package stagnation

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/swingrun/internal/domain"
)

// State classifies how stagnant an open position is
type State string

const (
	StateOK            State = "OK"             // moving as expected
	StateWatch         State = "WATCH"          // underperforming, monitor
	StateExitCandidate State = "EXIT_CANDIDATE" // dead capital, recommend review
)

// Action is the recommendation attached to a State
type Action string

const (
	ActionHold Action = "HOLD"
	ActionExit Action = "EXIT"
)

// Config contains stagnation scoring parameters
type Config struct {
	KATR          float64 `yaml:"k_atr"`           // expected move as fraction of ATR, 0.75 default
	RegimeVolMult float64 `yaml:"regime_vol_mult"` // 1.0 default, floored at 0.1

	MinHoldDays float64 `yaml:"min_hold_days"` // 3 default
	MaxHoldDays float64 `yaml:"max_hold_days"` // 10 default

	WatchThreshold float64 `yaml:"watch_threshold"` // 0.50 default
	ExitThreshold  float64 `yaml:"exit_threshold"`  // 0.75 default

	CatalystGraceDays       float64 `yaml:"catalyst_grace_days"`       // 2 default
	CatalystScoreMultiplier float64 `yaml:"catalyst_score_multiplier"` // 0.5 default
}

// DefaultConfig returns the production stagnation parameters
func DefaultConfig() Config {
	return Config{
		KATR:                    0.75,
		RegimeVolMult:           1.0,
		MinHoldDays:             3,
		MaxHoldDays:             10,
		WatchThreshold:          0.50,
		ExitThreshold:           0.75,
		CatalystGraceDays:       2,
		CatalystScoreMultiplier: 0.5,
	}
}

// minVolMult keeps a misconfigured regime multiplier from zeroing expectations
const minVolMult = 0.1

// atrProxyPct is used when no positive ATR is supplied
const atrProxyPct = 0.03

// Inputs describes one position to score
type Inputs struct {
	EntryPrice   float64
	CurrentPrice float64
	EntryDate    time.Time
	ATR          float64

	// DaysHeld overrides the calendar computation when non-nil
	DaysHeld *int

	// RegimeVolMult overrides Config.RegimeVolMult when non-nil
	RegimeVolMult *float64

	// NextCatalyst is the date of a known upcoming catalyst
	NextCatalyst *time.Time

	// AsOf is the evaluation time; zero means time.Now()
	AsOf time.Time
}

// Explain is the numeric breakdown behind a score
type Explain struct {
	DaysInTrade    float64 `json:"days_in_trade"`
	AbsReturnPct   float64 `json:"abs_return_pct"`
	AbsMove        float64 `json:"abs_move"`
	ATR            float64 `json:"atr"`
	ATRIsProxy     bool    `json:"atr_is_proxy"`
	KATR           float64 `json:"k_atr"`
	VolMult        float64 `json:"vol_mult"`
	ExpectedMove   float64 `json:"expected_move"`
	Deficit        float64 `json:"deficit"`
	TimeFactor     float64 `json:"time_factor"`
	CatalystFactor float64 `json:"catalyst_factor"`
	CatalystDays   *int    `json:"catalyst_days"`
	WatchThreshold float64 `json:"watch_threshold"`
	ExitThreshold  float64 `json:"exit_threshold"`
	MinHoldDays    float64 `json:"min_hold_days"`
	MaxHoldDays    float64 `json:"max_hold_days"`
}

// Result is the outcome of scoring one position
type Result struct {
	Score   float64 `json:"stagnation_score"`
	State   State   `json:"state"`
	Action  Action  `json:"action"`
	Explain Explain `json:"explain"`
}

// Scorer computes volatility-adjusted stagnation scores
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer; a zero Config falls back to defaults
func NewScorer(cfg Config) *Scorer {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

// Config returns the scorer configuration
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes deficit * time_factor * catalyst_factor for a position.
// Non-positive prices fail with ErrInvalidPriceInput.
func (s *Scorer) Score(in Inputs) (Result, error) {
	if in.EntryPrice <= 0 {
		return Result{}, fmt.Errorf("stagnation: entry price %.4f: %w", in.EntryPrice, domain.ErrInvalidPriceInput)
	}
	if in.CurrentPrice <= 0 {
		return Result{}, fmt.Errorf("stagnation: current price %.4f: %w", in.CurrentPrice, domain.ErrInvalidPriceInput)
	}

	cfg := s.cfg
	now := in.AsOf
	if now.IsZero() {
		now = time.Now()
	}

	atr := in.ATR
	atrProxy := false
	if atr <= 0 {
		atr = in.EntryPrice * atrProxyPct
		atrProxy = true
	}

	volMult := cfg.RegimeVolMult
	if in.RegimeVolMult != nil {
		volMult = *in.RegimeVolMult
	}
	volMult = math.Max(minVolMult, volMult)

	var days float64
	if in.DaysHeld != nil {
		days = float64(*in.DaysHeld)
	} else {
		days = float64(domain.DaysBetween(in.EntryDate, now))
	}

	absMove := math.Abs(in.CurrentPrice - in.EntryPrice)
	absReturnPct := absMove / in.EntryPrice * 100

	expectedMove := cfg.KATR * atr * volMult
	deficit := clamp01((expectedMove - absMove) / math.Max(expectedMove, 1e-9))

	timeFactor := s.timeFactor(days)

	catalystFactor := 1.0
	var catalystDays *int
	if in.NextCatalyst != nil {
		d := int(math.Floor(in.NextCatalyst.Sub(now).Hours() / 24))
		catalystDays = &d
		if d >= 0 && float64(d) <= cfg.CatalystGraceDays {
			catalystFactor = cfg.CatalystScoreMultiplier
		}
	}

	score := round(clamp01(deficit*timeFactor*catalystFactor), 3)

	result := Result{
		Score:  score,
		State:  StateOK,
		Action: ActionHold,
		Explain: Explain{
			DaysInTrade:    days,
			AbsReturnPct:   round(absReturnPct, 2),
			AbsMove:        round(absMove, 2),
			ATR:            round(atr, 2),
			ATRIsProxy:     atrProxy,
			KATR:           cfg.KATR,
			VolMult:        volMult,
			ExpectedMove:   round(expectedMove, 2),
			Deficit:        round(deficit, 3),
			TimeFactor:     round(timeFactor, 3),
			CatalystFactor: catalystFactor,
			CatalystDays:   catalystDays,
			WatchThreshold: cfg.WatchThreshold,
			ExitThreshold:  cfg.ExitThreshold,
			MinHoldDays:    cfg.MinHoldDays,
			MaxHoldDays:    cfg.MaxHoldDays,
		},
	}

	switch {
	case score >= cfg.ExitThreshold:
		result.State = StateExitCandidate
		result.Action = ActionExit
	case score >= cfg.WatchThreshold:
		result.State = StateWatch
	}

	return result, nil
}

// timeFactor ramps from 0 at min hold to 1 at max hold. A degenerate window
// (max <= min) becomes a step at min hold.
func (s *Scorer) timeFactor(days float64) float64 {
	if s.cfg.MaxHoldDays <= s.cfg.MinHoldDays {
		if days >= s.cfg.MinHoldDays {
			return 1
		}
		return 0
	}
	return clamp01((days - s.cfg.MinHoldDays) / (s.cfg.MaxHoldDays - s.cfg.MinHoldDays))
}

// Describe renders a one-line summary for logs and review queues
func (r Result) Describe(ticker string) string {
	e := r.Explain
	switch r.State {
	case StateOK:
		return fmt.Sprintf("%s: OK (score %.2f) - moving as expected", ticker, r.Score)
	case StateWatch:
		return fmt.Sprintf("%s: WATCH (score %.2f) - moved %.1f%% in %.0f days (expected %.2f move based on ATR)",
			ticker, r.Score, e.AbsReturnPct, e.DaysInTrade, e.ExpectedMove)
	default:
		return fmt.Sprintf("%s: EXIT_CANDIDATE (score %.2f) - only %.1f%% move in %.0f days (expected %.2f based on %.2f ATR)",
			ticker, r.Score, e.AbsReturnPct, e.DaysInTrade, e.ExpectedMove, e.ATR)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
