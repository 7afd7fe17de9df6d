// Package evaluate runs evaluation passes: every open position gets one tick
// of the exit state machine and the results are written under a single
// writer lease.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/domain/indicators"
	"github.com/sawpanic/swingrun/internal/domain/stagnation"
	"github.com/sawpanic/swingrun/internal/exits"
	"github.com/sawpanic/swingrun/internal/infrastructure/async"
	"github.com/sawpanic/swingrun/internal/infrastructure/lease"
	"github.com/sawpanic/swingrun/internal/infrastructure/marketdata"
	logprogress "github.com/sawpanic/swingrun/internal/log"
	"github.com/sawpanic/swingrun/internal/metrics"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/regime"
	"github.com/sawpanic/swingrun/internal/signals"
)

// Pass steps, in order
const (
	StepLoad     = "load"
	StepRegime   = "regime"
	StepPrices   = "prices"
	StepInputs   = "inputs"
	StepEvaluate = "evaluate"
	StepPersist  = "persist"
)

var passSteps = []string{StepLoad, StepRegime, StepPrices, StepInputs, StepEvaluate, StepPersist}

// Config contains configuration for evaluation passes
type Config struct {
	Workers     int           `yaml:"workers"`      // Default: 4
	BarLookback int           `yaml:"bar_lookback"` // Default: 30 daily bars
	LeaseName   string        `yaml:"lease_name"`   // Default: evaluate
	LeaseTTL    time.Duration `yaml:"lease_ttl"`    // Default: 2m
	DryRun      bool          `yaml:"dry_run"`      // evaluate without writing

	Indicators indicators.Config `yaml:"indicators"`
	Exits      exits.ExitConfig  `yaml:"exits"`
	Stagnation stagnation.Config `yaml:"stagnation"`

	Progress logprogress.ProgressConfig `yaml:"-"`
}

// DefaultConfig returns production pass settings
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		BarLookback: 30,
		LeaseName:   "evaluate",
		LeaseTTL:    2 * time.Minute,
		Indicators:  indicators.DefaultConfig(),
		Exits:       *exits.DefaultExitConfig(),
		Stagnation:  stagnation.DefaultConfig(),
		Progress:    logprogress.QuietProgressConfig(),
	}
}

// Dependencies are the ports an engine runs against
type Dependencies struct {
	Repository *persistence.Repository
	Prices     marketdata.Source
	Signals    signals.Source    // nil means no invalidation or catalyst dates
	Detector   *regime.Detector  // nil assumes the default VIX
	Locker     lease.Locker      // nil uses an in-process lease
	Metrics    *metrics.Registry // optional
}

// TickReport is the outcome of one position in a pass
type TickReport struct {
	PassID  string                `json:"pass_id"`
	Ticker  string                `json:"ticker"`
	Outcome string                `json:"outcome"`
	Summary string                `json:"summary"`
	Result  *exits.ExitResult     `json:"result,omitempty"`
	Signals *signals.Snapshot     `json:"signals,omitempty"`
	ATR     *indicators.ATRResult `json:"atr,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// PassError records a per-ticker failure that did not abort the pass
type PassError struct {
	Ticker  string `json:"ticker,omitempty"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// PassReport summarizes one evaluation pass
type PassReport struct {
	PassID        string                   `json:"pass_id"`
	AsOf          time.Time                `json:"as_of"`
	StartedAt     time.Time                `json:"started_at"`
	Duration      time.Duration            `json:"duration"`
	Regime        regime.DetectionResult   `json:"regime"`
	Evaluated     int                      `json:"evaluated"`
	Held          int                      `json:"held"`
	Exited        int                      `json:"exited"`
	Skipped       int                      `json:"skipped"`
	Failed        int                      `json:"failed"`
	Flagged       []string                 `json:"flagged,omitempty"`
	Exits         []domain.ExitEvent       `json:"exits,omitempty"`
	Ticks         []TickReport             `json:"ticks"`
	Errors        []PassError              `json:"errors,omitempty"`
	StepDurations map[string]time.Duration `json:"step_durations"`
	DryRun        bool                     `json:"dry_run"`
}

// TickListener receives every tick of a pass after it has been persisted
type TickListener func(TickReport)

// Engine evaluates all open positions
type Engine struct {
	cfg       Config
	deps      Dependencies
	evaluator *exits.ExitEvaluator
	scorer    *stagnation.Scorer
	pool      *async.WorkerPool

	mu        sync.RWMutex
	listeners []TickListener
	last      *PassReport

	now func() time.Time
}

// NewEngine wires an engine. Repository and Prices are required.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if deps.Repository == nil || deps.Repository.Positions == nil {
		return nil, fmt.Errorf("evaluate: position repository is required")
	}
	if deps.Prices == nil {
		return nil, fmt.Errorf("evaluate: price source is required")
	}
	if deps.Detector == nil {
		deps.Detector = regime.NewDetector(nil, regime.DefaultDetectorConfig())
	}
	if deps.Locker == nil {
		deps.Locker = lease.NewLocal()
	}

	d := DefaultConfig()
	if cfg.BarLookback <= 0 {
		cfg.BarLookback = d.BarLookback
	}
	if cfg.LeaseName == "" {
		cfg.LeaseName = d.LeaseName
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = d.LeaseTTL
	}
	if cfg.Indicators.ATRPeriod <= 0 {
		cfg.Indicators = d.Indicators
	}
	if cfg.Exits.MaxHoldDays <= 0 {
		cfg.Exits = d.Exits
	}

	exitCfg := cfg.Exits
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		evaluator: exits.NewExitEvaluator(&exitCfg),
		scorer:    stagnation.NewScorer(cfg.Stagnation),
		pool:      async.NewWorkerPool(cfg.Workers),
		now:       time.Now,
	}, nil
}

// OnTick registers a listener for tick reports
func (e *Engine) OnTick(fn TickListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// LastPass returns the report of the most recent completed pass
func (e *Engine) LastPass() (PassReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return PassReport{}, false
	}
	return *e.last, true
}

// tickInputs is what gets gathered per position before the pure tick
type tickInputs struct {
	pos   domain.Position
	price float64
	atr   indicators.ATRResult
	snap  *signals.Snapshot
	stag  *stagnation.Result
	errs  []PassError
}

// RunPass evaluates every open position as of now
func (e *Engine) RunPass(ctx context.Context) (*PassReport, error) {
	return e.RunPassAt(ctx, e.now())
}

// RunPassAt evaluates every open position as of asOf. Per-ticker failures are
// logged and recorded in the report; only load and lease failures abort.
func (e *Engine) RunPassAt(ctx context.Context, asOf time.Time) (*PassReport, error) {
	started := e.now()
	report := &PassReport{
		PassID:        uuid.NewString(),
		AsOf:          asOf,
		StartedAt:     started,
		StepDurations: make(map[string]time.Duration),
		DryRun:        e.cfg.DryRun,
	}
	logger := log.With().Str("pass_id", report.PassID).Logger()
	steps := logprogress.NewStepLogger("evaluate", passSteps)

	fail := func(step string, err error) (*PassReport, error) {
		steps.Fail(err.Error())
		logger.Error().Err(err).Str("step", step).Msg("Evaluation pass aborted")
		return report, fmt.Errorf("pass %s %s: %w", report.PassID, step, err)
	}

	// 1. Load open positions
	steps.StartStep(StepLoad)
	timer := e.startStep(report, StepLoad)
	positions, err := e.deps.Repository.Positions.List(ctx)
	if err != nil {
		timer.stop("error")
		return fail(StepLoad, err)
	}
	timer.stop("success")
	report.Evaluated = len(positions)

	// 2. Volatility regime
	steps.StartStep(StepRegime)
	timer = e.startStep(report, StepRegime)
	report.Regime = e.deps.Detector.Detect(ctx)
	if e.deps.Metrics != nil {
		e.deps.Metrics.SetRegime(int(report.Regime.Regime), report.Regime.VIX)
	}
	timer.stop("success")

	if len(positions) == 0 {
		steps.Finish()
		return e.finish(report, started, 0), nil
	}

	// 3. Batch price fetch
	steps.StartStep(StepPrices)
	timer = e.startStep(report, StepPrices)
	tickers := make([]string, len(positions))
	for i, p := range positions {
		tickers[i] = p.Ticker
	}
	prices, err := e.deps.Prices.LatestPrices(ctx, tickers)
	if err != nil {
		if ctx.Err() != nil {
			timer.stop("error")
			return fail(StepPrices, err)
		}
		logger.Warn().Err(err).Int("tickers", len(tickers)).Msg("Price fetch failed, every tick will be skipped")
		report.Errors = append(report.Errors, PassError{Step: StepPrices, Message: err.Error()})
		prices = map[string]float64{}
		timer.stop("error")
	} else {
		timer.stop("success")
	}

	// 4. Bars, ATR, signals and stagnation per position
	steps.StartStep(StepInputs)
	timer = e.startStep(report, StepInputs)
	inputs, err := async.Map(ctx, e.pool, positions, func(ctx context.Context, pos domain.Position) tickInputs {
		return e.gather(ctx, pos, prices[pos.Ticker], asOf, report.Regime)
	})
	if err != nil {
		timer.stop("error")
		return fail(StepInputs, err)
	}
	timer.stop("success")

	// 5. Pure ticks
	steps.StartStep(StepEvaluate)
	timer = e.startStep(report, StepEvaluate)
	progress := logprogress.NewProgressIndicator("evaluate", len(positions), e.cfg.Progress)
	ticks, err := async.Map(ctx, e.pool, inputs, func(ctx context.Context, in tickInputs) TickReport {
		defer progress.Increment()
		return e.tick(ctx, report.PassID, in, asOf)
	})
	if err != nil {
		progress.Fail(err.Error())
		timer.stop("error")
		return fail(StepEvaluate, err)
	}
	progress.FinishWithMessage(fmt.Sprintf("%d positions evaluated", len(ticks)))
	timer.stop("success")
	for _, in := range inputs {
		report.Errors = append(report.Errors, in.errs...)
	}

	// 6. Serialized writes in ticker order
	steps.StartStep(StepPersist)
	timer = e.startStep(report, StepPersist)
	if err := e.persist(ctx, report, ticks); err != nil {
		timer.stop("error")
		return fail(StepPersist, err)
	}
	timer.stop("success")
	steps.Finish()
	report.Ticks = ticks

	for i := range ticks {
		e.publish(ticks[i])
	}
	return e.finish(report, started, report.Held+report.Skipped+report.Failed), nil
}

func (e *Engine) gather(ctx context.Context, pos domain.Position, price float64, asOf time.Time, rd regime.DetectionResult) tickInputs {
	in := tickInputs{pos: pos, price: price}
	logger := log.With().Str("ticker", pos.Ticker).Logger()

	bars, err := e.deps.Prices.DailyBars(ctx, pos.Ticker, e.cfg.BarLookback)
	if err != nil {
		if !errors.Is(err, marketdata.ErrNoData) {
			logger.Warn().Err(err).Msg("Bars unavailable, using ATR proxy")
			in.errs = append(in.errs, PassError{Ticker: pos.Ticker, Step: StepInputs, Message: err.Error()})
		}
		bars = nil
	}
	in.atr = indicators.ATROrProxy(bars, e.cfg.Indicators.ATRPeriod, pos.EntryPrice)

	if e.deps.Signals != nil {
		snap, err := e.deps.Signals.Signals(ctx, pos.Ticker)
		if err != nil {
			logger.Warn().Err(err).Msg("Signals unavailable, assuming catalyst intact")
			in.errs = append(in.errs, PassError{Ticker: pos.Ticker, Step: StepInputs, Message: err.Error()})
		} else {
			in.snap = &snap
		}
	}

	if price > 0 {
		days := domain.DaysBetween(pos.EntryDate, asOf)
		volMult := rd.VolMultiplier
		stagIn := stagnation.Inputs{
			EntryPrice:    pos.EntryPrice,
			CurrentPrice:  price,
			EntryDate:     pos.EntryDate,
			ATR:           in.atr.Value,
			DaysHeld:      &days,
			RegimeVolMult: &volMult,
			AsOf:          asOf,
		}
		if in.snap != nil {
			stagIn.NextCatalyst = in.snap.NextCatalyst
		}
		res, err := e.scorer.Score(stagIn)
		if err != nil {
			logger.Warn().Err(err).Msg("Stagnation score failed")
			in.errs = append(in.errs, PassError{Ticker: pos.Ticker, Step: StepInputs, Message: err.Error()})
		} else {
			in.stag = &res
		}
	}
	return in
}

func (e *Engine) tick(ctx context.Context, passID string, in tickInputs, asOf time.Time) TickReport {
	tr := TickReport{PassID: passID, Ticker: in.pos.Ticker, Signals: in.snap}
	atr := in.atr
	tr.ATR = &atr

	invalidated := in.snap != nil && in.snap.CatalystInvalidated
	res, err := e.evaluator.EvaluateExit(ctx, in.pos, exits.ExitInputs{
		CurrentPrice:        in.price,
		DaysHeld:            domain.DaysBetween(in.pos.EntryDate, asOf),
		AsOf:                asOf,
		CatalystInvalidated: invalidated,
		Stagnation:          in.stag,
	})
	if err != nil {
		tr.Outcome = metrics.OutcomeError
		tr.Error = err.Error()
		tr.Summary = fmt.Sprintf("ERROR %s: %v", in.pos.Ticker, err)
		return tr
	}

	tr.Result = res
	tr.Summary = res.GetExitSummary()
	switch res.State {
	case exits.StateClosing:
		tr.Outcome = metrics.OutcomeExit
	case exits.StateSkipped:
		tr.Outcome = metrics.OutcomeSkipped
	default:
		tr.Outcome = metrics.OutcomeHold
	}
	return tr
}

// persist writes every changed position under the lease. ticks are already in
// ticker order because List returns positions ordered by ticker.
func (e *Engine) persist(ctx context.Context, report *PassReport, ticks []TickReport) error {
	logger := log.With().Str("pass_id", report.PassID).Logger()

	if !e.cfg.DryRun {
		release, err := e.deps.Locker.Acquire(ctx, e.cfg.LeaseName, e.cfg.LeaseTTL)
		if err != nil {
			return err
		}
		defer release()
	}

	for i := range ticks {
		tr := &ticks[i]
		switch tr.Outcome {
		case metrics.OutcomeError:
			report.Failed++
			report.Errors = append(report.Errors, PassError{Ticker: tr.Ticker, Step: StepEvaluate, Message: tr.Error})
			logger.Warn().Str("ticker", tr.Ticker).Str("error", tr.Error).Msg("Tick failed, position left unchanged")

		case metrics.OutcomeSkipped:
			report.Skipped++
			logger.Warn().Str("ticker", tr.Ticker).Msg(tr.Result.TriggeredBy)

		case metrics.OutcomeExit:
			ev := *tr.Result.Event
			if !e.cfg.DryRun {
				if err := e.deps.Repository.Positions.Close(ctx, ev); err != nil {
					e.writeFailed(report, tr, err)
					continue
				}
			}
			report.Exited++
			report.Exits = append(report.Exits, ev)
			logger.Info().
				Str("ticker", tr.Ticker).
				Str("reason", ev.ExitReason).
				Str("code", ev.ExitCode).
				Float64("return_pct", ev.ReturnPct).
				Str("dollars", ev.ReturnDollars.StringFixed(2)).
				Msg("Position closed")
			if e.deps.Metrics != nil {
				e.deps.Metrics.RecordExit(ev.ExitCode)
				e.deps.Metrics.ForgetPosition(tr.Ticker)
			}

		default:
			if !e.cfg.DryRun {
				if err := e.deps.Repository.Positions.Save(ctx, tr.Result.Position); err != nil {
					e.writeFailed(report, tr, err)
					continue
				}
			}
			report.Held++
			if tr.Result.ReviewFlagged {
				report.Flagged = append(report.Flagged, tr.Ticker)
			}
			ev := logger.Debug()
			if tr.Result.TrailingActivated || tr.Result.ReviewFlagged {
				ev = logger.Info()
			}
			ev.Str("ticker", tr.Ticker).
				Float64("return_pct", tr.Result.ReturnPct).
				Msg(tr.Summary)
			if e.deps.Metrics != nil && tr.Result.Stagnation != nil {
				e.deps.Metrics.SetStagnation(tr.Ticker, tr.Result.Stagnation.Score)
			}
		}

		if e.deps.Metrics != nil {
			e.deps.Metrics.RecordTick(tr.Outcome)
		}
	}
	return nil
}

func (e *Engine) writeFailed(report *PassReport, tr *TickReport, err error) {
	log.Error().Err(err).Str("pass_id", report.PassID).Str("ticker", tr.Ticker).Msg("Write failed, position left unchanged")
	tr.Outcome = metrics.OutcomeError
	tr.Error = err.Error()
	report.Failed++
	report.Errors = append(report.Errors, PassError{Ticker: tr.Ticker, Step: StepPersist, Message: err.Error()})
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordTick(metrics.OutcomeError)
	}
}

func (e *Engine) publish(tr TickReport) {
	e.mu.RLock()
	listeners := append([]TickListener(nil), e.listeners...)
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(tr)
	}
}

func (e *Engine) finish(report *PassReport, started time.Time, open int) *PassReport {
	report.Duration = e.now().Sub(started)
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObservePass(report.Duration, open)
	}

	log.Info().
		Str("pass_id", report.PassID).
		Str("regime", report.Regime.Regime.String()).
		Int("evaluated", report.Evaluated).
		Int("held", report.Held).
		Int("exited", report.Exited).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Evaluation pass complete")

	e.mu.Lock()
	r := *report
	e.last = &r
	e.mu.Unlock()
	return report
}

// stepTimer times a pass step in the report and, when wired, in Prometheus
type stepTimer struct {
	engine *Engine
	report *PassReport
	step   string
	start  time.Time
	prom   *metrics.StepTimer
}

func (e *Engine) startStep(report *PassReport, step string) *stepTimer {
	st := &stepTimer{engine: e, report: report, step: step, start: e.now()}
	if e.deps.Metrics != nil {
		st.prom = e.deps.Metrics.StartStepTimer(step)
	}
	return st
}

func (st *stepTimer) stop(result string) {
	if st.prom != nil {
		st.prom.Stop(result)
	}
	st.report.StepDurations[st.step] = st.engine.now().Sub(st.start)
}
