// Package entry turns catalyst candidates into sized, level-checked positions.
package entry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/swingrun/internal/catalyst"
	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/domain/scoring"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/regime"
)

// Stage names where a candidate can be rejected
const (
	StageTier       = "tier"
	StageRegime     = "regime"
	StageConviction = "conviction"
	StageCreate     = "create"
	StageAccepted   = "accepted"
)

// Candidate is one proposed entry
type Candidate struct {
	Ticker     string  `json:"ticker" yaml:"ticker"`
	EntryDate  string  `json:"entry_date" yaml:"entry_date"` // YYYY-MM-DD, empty means today
	EntryPrice float64 `json:"entry_price" yaml:"entry_price"`

	// Proposed levels; zero derives them from the catalyst target plan
	StopLoss    float64 `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
	PriceTarget float64 `json:"price_target,omitempty" yaml:"price_target,omitempty"`
	GapPct      float64 `json:"gap_pct,omitempty" yaml:"gap_pct,omitempty"`

	Catalyst catalyst.Descriptor `json:"catalyst" yaml:"catalyst"`
	Context  catalyst.Context    `json:"context" yaml:"context"`
	Signals  scoring.Signals     `json:"signals" yaml:"signals"`
}

// Config controls sizing and the rule tables consulted per candidate
type Config struct {
	AccountEquity float64             `yaml:"account_equity"` // Default: 100000
	Tiers         catalyst.TierConfig `yaml:"tiers"`
	Conviction    scoring.Config      `yaml:"conviction"`
}

// DefaultConfig returns production entry settings
func DefaultConfig() Config {
	return Config{
		AccountEquity: 100000,
		Tiers:         catalyst.DefaultTierConfig(),
		Conviction:    scoring.DefaultConfig(),
	}
}

// Decision records how far a candidate got and why
type Decision struct {
	Ticker         string                    `json:"ticker"`
	Accepted       bool                      `json:"accepted"`
	Stage          string                    `json:"stage"`
	Reason         string                    `json:"reason"`
	Classification catalyst.Classification   `json:"classification"`
	Conviction     *scoring.ConvictionResult `json:"conviction,omitempty"`
	Target         *catalyst.TargetPlan      `json:"target,omitempty"`
	Regime         regime.DetectionResult    `json:"regime"`
	Position       *domain.Position          `json:"position,omitempty"`
}

// Planner runs candidates through tier, regime and conviction gates
type Planner struct {
	cfg        Config
	classifier *catalyst.Classifier
	detector   *regime.Detector
	positions  persistence.PositionRepo
	now        func() time.Time
}

// NewPlanner creates a planner. positions may be nil for dry runs.
func NewPlanner(cfg Config, detector *regime.Detector, positions persistence.PositionRepo) *Planner {
	if cfg.AccountEquity <= 0 {
		cfg.AccountEquity = DefaultConfig().AccountEquity
	}
	if detector == nil {
		detector = regime.NewDetector(nil, regime.DefaultDetectorConfig())
	}
	return &Planner{
		cfg:        cfg,
		classifier: catalyst.NewClassifier(cfg.Tiers),
		detector:   detector,
		positions:  positions,
		now:        time.Now,
	}
}

// Plan evaluates cand under the given regime without persisting anything
func (p *Planner) Plan(cand Candidate, rd regime.DetectionResult) (Decision, error) {
	ticker := strings.ToUpper(strings.TrimSpace(cand.Ticker))
	dec := Decision{Ticker: ticker, Regime: rd}
	if ticker == "" {
		return dec, fmt.Errorf("candidate has no ticker")
	}
	if cand.EntryPrice <= 0 {
		return dec, fmt.Errorf("candidate %s entry %.4f: %w", ticker, cand.EntryPrice, domain.ErrInvalidPriceInput)
	}
	entryDate, err := p.entryDate(cand.EntryDate)
	if err != nil {
		return dec, fmt.Errorf("candidate %s: %w", ticker, err)
	}

	variant := cand.Catalyst.Variant()
	cls := p.classifier.Classify(variant, cand.Context)
	dec.Classification = cls
	if cls.Tier == catalyst.Tier3 {
		dec.Stage, dec.Reason = StageTier, fmt.Sprintf("%s: %s", cls.Name, cls.Reasoning)
		return dec, nil
	}

	if ok, why := p.detector.AdmitsEntry(rd, string(cls.Tier), cand.Signals.NewsScore); !ok {
		dec.Stage, dec.Reason = StageRegime, why
		return dec, nil
	}

	sig := cand.Signals
	sig.Ticker = ticker
	sig.Kind = cls.Kind
	sig.Tier = cls.Tier
	switch v := variant.(type) {
	case catalyst.Earnings:
		sig.RevenueBeat = sig.RevenueBeat || v.RevenueBeat
	case catalyst.MultiCatalyst:
		sig.MultiCatalyst = true
	}
	if sig.VIX <= 0 {
		sig.VIX = rd.VIX
	}
	conv := scoring.Score(sig, p.cfg.Conviction)
	dec.Conviction = &conv
	if conv.Label == scoring.LabelSkip || conv.PositionSizePct <= 0 {
		dec.Stage, dec.Reason = StageConviction, conv.Reason
		return dec, nil
	}

	plan := catalyst.ProfitTarget(variant, cls)
	dec.Target = &plan
	stop, target := plan.Levels(cand.EntryPrice)
	if cand.StopLoss != 0 {
		stop = cand.StopLoss
	}
	if cand.PriceTarget != 0 {
		target = cand.PriceTarget
	}

	thesis := cand.Catalyst.Thesis
	if thesis == "" {
		thesis = cls.Reasoning
	}
	trace := append([]string{fmt.Sprintf("tier: %s (%s)", cls.Tier, cls.Name)}, conv.Trace...)
	trace = append(trace, "target: "+plan.Rationale)

	pos, err := domain.NewPosition(domain.NewPositionParams{
		Ticker:          ticker,
		EntryDate:       entryDate,
		EntryPrice:      cand.EntryPrice,
		PositionSize:    p.cfg.AccountEquity * conv.PositionSizePct / 100,
		StopLoss:        stop,
		PriceTarget:     target,
		Catalyst:        domain.Catalyst{Type: string(cls.Kind), Thesis: thesis},
		Tier:            string(cls.Tier),
		ConvictionLevel: string(conv.Label),
		GapPct:          cand.GapPct,
		ConvictionTrace: trace,
	})
	if err != nil {
		return dec, err
	}

	dec.Position = &pos
	dec.Accepted = true
	dec.Stage = StageAccepted
	dec.Reason = conv.Reason
	return dec, nil
}

// Open detects the regime, plans cand and creates the position when accepted.
// A ticker that is already open is reported as a rejected decision.
func (p *Planner) Open(ctx context.Context, cand Candidate) (Decision, error) {
	if p.positions == nil {
		return Decision{}, fmt.Errorf("planner has no position repository")
	}
	rd := p.detector.Detect(ctx)

	dec, err := p.Plan(cand, rd)
	if err != nil {
		return dec, err
	}
	if !dec.Accepted {
		logDecision(dec)
		return dec, nil
	}

	if err := p.positions.Create(ctx, *dec.Position); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			dec.Accepted = false
			dec.Stage, dec.Reason = StageCreate, "position already open"
			dec.Position = nil
			logDecision(dec)
			return dec, nil
		}
		return dec, fmt.Errorf("create %s: %w", dec.Ticker, err)
	}

	logDecision(dec)
	return dec, nil
}

// PlanAll plans every candidate under one regime detection. Invalid
// candidates are logged and skipped.
func (p *Planner) PlanAll(ctx context.Context, cands []Candidate) []Decision {
	rd := p.detector.Detect(ctx)
	out := make([]Decision, 0, len(cands))
	for _, cand := range cands {
		dec, err := p.Plan(cand, rd)
		if err != nil {
			log.Warn().Err(err).Str("ticker", cand.Ticker).Msg("Skipping invalid candidate")
			continue
		}
		out = append(out, dec)
	}
	return out
}

func (p *Planner) entryDate(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return p.now(), nil
	}
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("entry date %q: %w", raw, err)
	}
	return t, nil
}

func logDecision(dec Decision) {
	if dec.Accepted {
		log.Info().
			Str("ticker", dec.Ticker).
			Str("tier", string(dec.Classification.Tier)).
			Str("conviction", dec.Position.ConvictionLevel).
			Float64("size", dec.Position.PositionSize).
			Float64("stop", dec.Position.StopLoss).
			Float64("target", dec.Position.PriceTarget).
			Msg("Position opened")
		return
	}
	log.Info().Str("ticker", dec.Ticker).Str("stage", dec.Stage).Str("reason", dec.Reason).Msg("Candidate rejected")
}

type candidateFile struct {
	Candidates []Candidate `yaml:"candidates"`
}

// LoadCandidates reads a YAML file with a top-level candidates list
func LoadCandidates(path string) ([]Candidate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	var f candidateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse candidates %s: %w", path, err)
	}
	return f.Candidates, nil
}
