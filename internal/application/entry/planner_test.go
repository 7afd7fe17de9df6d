package entry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/swingrun/internal/catalyst"
	"github.com/sawpanic/swingrun/internal/domain/scoring"
	"github.com/sawpanic/swingrun/internal/persistence/memory"
	"github.com/sawpanic/swingrun/internal/regime"
)

type fixedVIX float64

func (v fixedVIX) VIX(ctx context.Context) (float64, error) { return float64(v), nil }

func strongCandidate() Candidate {
	return Candidate{
		Ticker:     "nvda",
		EntryDate:  "2024-03-01",
		EntryPrice: 100,
		Catalyst: catalyst.Descriptor{
			Type:           "earnings_beat",
			Thesis:         "Data center beat and raise",
			BeatPct:        12,
			GuidanceRaised: true,
		},
		Context: catalyst.Context{MarketCapBillions: 50, AgeDays: 1},
		Signals: scoring.Signals{
			NewsScore:      16,
			RSPercentile:   95,
			RSvsSector:     4,
			UnusualOptions: true,
			DarkPool:       true,
			RevenueBeat:    true,
		},
	}
}

func newPlanner(vix float64) (*Planner, *memory.Store) {
	store := memory.NewStore()
	detector := regime.NewDetector(fixedVIX(vix), regime.DefaultDetectorConfig())
	return NewPlanner(DefaultConfig(), detector, store.Positions()), store
}

func TestOpenAcceptsStrongCandidate(t *testing.T) {
	planner, store := newPlanner(18)
	ctx := context.Background()

	dec, err := planner.Open(ctx, strongCandidate())
	require.NoError(t, err)
	require.True(t, dec.Accepted, dec.Reason)
	assert.Equal(t, StageAccepted, dec.Stage)
	assert.Equal(t, catalyst.Tier1, dec.Classification.Tier)
	assert.Equal(t, scoring.LabelHigh, dec.Conviction.Label)

	pos := dec.Position
	require.NotNil(t, pos)
	assert.Equal(t, "NVDA", pos.Ticker)
	assert.InDelta(t, 13000, pos.PositionSize, 1e-6)
	assert.InDelta(t, 130, pos.Shares, 1e-9)
	assert.InDelta(t, 93, pos.StopLoss, 1e-9)
	assert.InDelta(t, 110, pos.PriceTarget, 1e-9)
	assert.Equal(t, "HIGH", pos.ConvictionLevel)
	assert.Equal(t, "Data center beat and raise", pos.Catalyst.Thesis)
	assert.Contains(t, pos.ConvictionTrace[0], "Tier1")
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), pos.EntryDate)

	stored, err := store.Positions().Get(ctx, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, pos.StopLoss, stored.StopLoss)

	again, err := planner.Open(ctx, strongCandidate())
	require.NoError(t, err)
	assert.False(t, again.Accepted)
	assert.Equal(t, StageCreate, again.Stage)
}

func TestCatalystDescriptorFeedsConviction(t *testing.T) {
	planner, _ := newPlanner(18)

	plain := strongCandidate()
	plain.Signals.RevenueBeat = false

	beat := plain
	beat.Catalyst.RevenueBeat = true

	multi := plain
	multi.Ticker = "amd"
	multi.Catalyst = catalyst.Descriptor{
		Type:       "multi_catalyst",
		Components: []catalyst.Kind{catalyst.KindEarnings, catalyst.KindUpgrade},
	}

	decisions := planner.PlanAll(context.Background(), []Candidate{plain, beat, multi})
	require.Len(t, decisions, 3)
	for _, d := range decisions {
		require.NotNil(t, d.Conviction, d.Ticker)
	}

	assert.NotContains(t, decisions[0].Conviction.Trace, "catalyst: revenue beat")
	assert.Contains(t, decisions[1].Conviction.Trace, "catalyst: revenue beat")
	assert.Equal(t, decisions[0].Conviction.SupportingFactors+1, decisions[1].Conviction.SupportingFactors)
	assert.Contains(t, decisions[2].Conviction.Trace, "catalyst: multi-catalyst synergy")
}

func TestPlanRejections(t *testing.T) {
	tests := []struct {
		name   string
		vix    float64
		mutate func(c *Candidate)
		stage  string
	}{
		{
			name:   "meme stock is tier 3",
			vix:    18,
			mutate: func(c *Candidate) { c.Catalyst = catalyst.Descriptor{Type: "meme_stock"} },
			stage:  StageTier,
		},
		{
			name:   "small cap veto",
			vix:    18,
			mutate: func(c *Candidate) { c.Context.MarketCapBillions = 0.4 },
			stage:  StageTier,
		},
		{
			name:   "stale catalyst",
			vix:    18,
			mutate: func(c *Candidate) { c.Context.AgeDays = 9 },
			stage:  StageTier,
		},
		{
			name:   "shutdown regime",
			vix:    40,
			mutate: func(c *Candidate) {},
			stage:  StageRegime,
		},
		{
			name: "cautious regime rejects tier 2",
			vix:  32,
			mutate: func(c *Candidate) {
				c.Catalyst = catalyst.Descriptor{Type: "analyst_upgrade", Firm: "Small Shop"}
			},
			stage: StageRegime,
		},
		{
			name: "weak signals skip",
			vix:  18,
			mutate: func(c *Candidate) {
				c.Signals = scoring.Signals{NewsScore: 3, RSPercentile: 50}
			},
			stage: StageConviction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planner, _ := newPlanner(tt.vix)
			cand := strongCandidate()
			tt.mutate(&cand)

			rd := planner.detector.Detect(context.Background())
			dec, err := planner.Plan(cand, rd)
			require.NoError(t, err)
			assert.False(t, dec.Accepted)
			assert.Equal(t, tt.stage, dec.Stage)
			assert.NotEmpty(t, dec.Reason)
			assert.Nil(t, dec.Position)
		})
	}
}

func TestPlanRepairsProposedLevels(t *testing.T) {
	planner, _ := newPlanner(18)
	cand := strongCandidate()
	cand.StopLoss = 105
	cand.PriceTarget = 120

	dec, err := planner.Plan(cand, planner.detector.Classify(18))
	require.NoError(t, err)
	require.True(t, dec.Accepted)
	assert.InDelta(t, 90, dec.Position.StopLoss, 1e-9)
	assert.InDelta(t, 120, dec.Position.PriceTarget, 1e-9)
}

func TestPlanInvalidInput(t *testing.T) {
	planner, _ := newPlanner(18)
	rd := planner.detector.Classify(18)

	cand := strongCandidate()
	cand.EntryPrice = 0
	_, err := planner.Plan(cand, rd)
	assert.Error(t, err)

	cand = strongCandidate()
	cand.EntryDate = "03/01/2024"
	_, err = planner.Plan(cand, rd)
	assert.Error(t, err)

	decisions := planner.PlanAll(context.Background(), []Candidate{cand, strongCandidate()})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Accepted)
}

func TestLoadCandidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidates.yaml")
	content := `candidates:
  - ticker: AMD
    entry_date: "2024-03-04"
    entry_price: 180.5
    catalyst:
      type: analyst_upgrade
      firm: Goldman Sachs
      price_target_increase_pct: 20
    context:
      market_cap_billions: 290
      age_days: 1
    signals:
      news_score: 12
      rs_percentile: 85
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cands, err := LoadCandidates(path)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "AMD", cands[0].Ticker)
	assert.Equal(t, "Goldman Sachs", cands[0].Catalyst.Firm)
	assert.Equal(t, 290.0, cands[0].Context.MarketCapBillions)
	assert.Equal(t, 12.0, cands[0].Signals.NewsScore)
}
