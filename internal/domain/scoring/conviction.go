package scoring

import (
	"fmt"
	"strings"

	"github.com/sawpanic/swingrun/internal/catalyst"
)

// Label is the discrete conviction level that drives position size
type Label string

const (
	LabelHigh       Label = "HIGH"
	LabelMediumHigh Label = "MEDIUM-HIGH"
	LabelMedium     Label = "MEDIUM"
	LabelSkip       Label = "SKIP"
)

// minFactorsForSize is the floor below which no position is ever sized
const minFactorsForSize = 3

// Signals are the weak signals gathered for one entry candidate
type Signals struct {
	Ticker       string        `json:"ticker" yaml:"ticker"`
	Kind         catalyst.Kind `json:"kind" yaml:"kind"`
	Tier         catalyst.Tier `json:"tier" yaml:"tier"`
	NewsScore    float64       `json:"news_score" yaml:"news_score"` // 0-20 headline validation score
	VIX          float64       `json:"vix" yaml:"vix"`
	RSPercentile float64       `json:"rs_percentile" yaml:"rs_percentile"` // 0-100 across the scanned universe
	RSvsSector   float64       `json:"rs_vs_sector" yaml:"rs_vs_sector"`   // % outperformance vs sector
	SectorLeader bool          `json:"sector_leader" yaml:"sector_leader"`

	UnusualOptions bool `json:"unusual_options" yaml:"unusual_options"`
	DarkPool       bool `json:"dark_pool" yaml:"dark_pool"`

	MultiCatalyst bool `json:"multi_catalyst" yaml:"multi_catalyst"`
	RevenueBeat   bool `json:"revenue_beat" yaml:"revenue_beat"`
}

// Config is the conviction rule table. It is passed into every Score call.
type Config struct {
	MomentumCap      int `yaml:"momentum_cap"`      // Default: 3
	InstitutionalCap int `yaml:"institutional_cap"` // Default: 2
	MarketCap        int `yaml:"market_cap"`        // Default: 2

	RSPercentileStrong float64 `yaml:"rs_percentile_strong"` // Default: 90 (+2)
	RSPercentileGood   float64 `yaml:"rs_percentile_good"`   // Default: 80 (+1)
	RSvsSectorMin      float64 `yaml:"rs_vs_sector_min"`     // Default: 3.0

	NewsStrong float64 `yaml:"news_strong"` // Default: 15
	NewsGood   float64 `yaml:"news_good"`   // Default: 10
	NewsMin    float64 `yaml:"news_min"`    // Default: 5

	VolThresholdLow float64 `yaml:"vol_threshold_low"` // Default: 25
	VolThresholdMid float64 `yaml:"vol_threshold_mid"` // Default: 30
	VolShutdown     float64 `yaml:"vol_shutdown"`      // Default: 35

	HighFactors       int `yaml:"high_factors"`        // Default: 7
	MediumHighFactors int `yaml:"medium_high_factors"` // Default: 5
	MediumFactors     int `yaml:"medium_factors"`      // Default: 3

	HighSizePct       float64 `yaml:"high_size_pct"`        // Default: 13
	MediumHighSizePct float64 `yaml:"medium_high_size_pct"` // Default: 11
	MediumSizePct     float64 `yaml:"medium_size_pct"`      // Default: 10

	// ExcludedKinds are catalyst families currently barred from entry
	ExcludedKinds []catalyst.Kind `yaml:"excluded_kinds"`
}

// DefaultConfig returns the production conviction table
func DefaultConfig() Config {
	return Config{
		MomentumCap:        3,
		InstitutionalCap:   2,
		MarketCap:          2,
		RSPercentileStrong: 90,
		RSPercentileGood:   80,
		RSvsSectorMin:      3.0,
		NewsStrong:         15,
		NewsGood:           10,
		NewsMin:            5,
		VolThresholdLow:    25,
		VolThresholdMid:    30,
		VolShutdown:        35,
		HighFactors:        7,
		MediumHighFactors:  5,
		MediumFactors:      3,
		HighSizePct:        13,
		MediumHighSizePct:  11,
		MediumSizePct:      10,
	}
}

// ClusterScore is one signal cluster's contribution
type ClusterScore struct {
	Name  string   `json:"name"`
	Raw   int      `json:"raw"`
	Cap   int      `json:"cap"` // 0 means uncapped
	Score int      `json:"score"`
	Fired []string `json:"fired"`
}

// ConvictionResult is the sizing decision plus its reasoning trace
type ConvictionResult struct {
	Label             Label          `json:"conviction"`
	PositionSizePct   float64        `json:"position_size_pct"`
	SupportingFactors int            `json:"supporting_factors"`
	Clusters          []ClusterScore `json:"clusters"`
	Trace             []string       `json:"trace"`
	Reason            string         `json:"reason"`
}

// Reasoning joins the trace for logs and the ledger
func (r ConvictionResult) Reasoning() string {
	if len(r.Trace) == 0 {
		return "Insufficient factors"
	}
	return strings.Join(r.Trace, ", ")
}

// Score combines the four clusters into a conviction label. It is pure:
// everything it depends on arrives in sig and cfg.
func Score(sig Signals, cfg Config) ConvictionResult {
	clusters := []ClusterScore{
		momentumCluster(sig, cfg),
		institutionalCluster(sig, cfg),
		catalystCluster(sig, cfg),
		marketCluster(sig, cfg),
	}

	result := ConvictionResult{Clusters: clusters, Label: LabelSkip}
	for _, c := range clusters {
		result.SupportingFactors += c.Score
		for _, f := range c.Fired {
			result.Trace = append(result.Trace, fmt.Sprintf("%s: %s", c.Name, f))
		}
	}

	if reason, vetoed := hardVeto(sig, cfg); vetoed {
		result.Reason = reason
		result.Trace = append(result.Trace, "veto: "+reason)
		return result
	}

	factors := result.SupportingFactors
	switch {
	case factors >= cfg.HighFactors && sig.NewsScore >= cfg.NewsStrong && sig.VIX < cfg.VolThresholdLow:
		result.Label, result.PositionSizePct = LabelHigh, cfg.HighSizePct
	case factors >= cfg.MediumHighFactors && sig.NewsScore >= cfg.NewsGood && sig.VIX < cfg.VolThresholdMid:
		result.Label, result.PositionSizePct = LabelMediumHigh, cfg.MediumHighSizePct
	case factors >= cfg.MediumFactors && sig.NewsScore >= cfg.NewsMin && sig.VIX < cfg.VolThresholdMid:
		result.Label, result.PositionSizePct = LabelMedium, cfg.MediumSizePct
	}

	if factors < minFactorsForSize && result.PositionSizePct > 0 {
		result.Label, result.PositionSizePct = LabelSkip, 0
	}

	if result.Label == LabelSkip {
		result.Reason = fmt.Sprintf("%d supporting factors, news %.0f, VIX %.1f below entry thresholds",
			factors, sig.NewsScore, sig.VIX)
	} else {
		result.Reason = fmt.Sprintf("%s conviction from %d supporting factors", result.Label, factors)
	}
	return result
}

func hardVeto(sig Signals, cfg Config) (string, bool) {
	if sig.Tier == catalyst.Tier3 {
		return "Tier3 catalyst", true
	}
	if sig.VIX >= cfg.VolShutdown {
		return fmt.Sprintf("VIX %.1f at or above shutdown %.0f", sig.VIX, cfg.VolShutdown), true
	}
	for _, k := range cfg.ExcludedKinds {
		if k == sig.Kind && k != "" {
			return fmt.Sprintf("catalyst %s excluded", k), true
		}
	}
	return "", false
}

func momentumCluster(sig Signals, cfg Config) ClusterScore {
	c := ClusterScore{Name: "momentum", Cap: cfg.MomentumCap}
	switch {
	case sig.RSPercentile >= cfg.RSPercentileStrong:
		c.add(2, fmt.Sprintf("RS percentile %.0f", sig.RSPercentile))
	case sig.RSPercentile >= cfg.RSPercentileGood:
		c.add(1, fmt.Sprintf("RS percentile %.0f", sig.RSPercentile))
	}
	if sig.RSvsSector >= cfg.RSvsSectorMin {
		c.add(1, fmt.Sprintf("RS vs sector +%.1f%%", sig.RSvsSector))
	}
	if sig.SectorLeader {
		c.add(1, "sector leader")
	}
	return c.capped()
}

func institutionalCluster(sig Signals, cfg Config) ClusterScore {
	c := ClusterScore{Name: "institutional", Cap: cfg.InstitutionalCap}
	if sig.UnusualOptions {
		c.add(1, "unusual options activity")
	}
	if sig.DarkPool {
		c.add(1, "dark pool accumulation")
	}
	return c.capped()
}

func catalystCluster(sig Signals, cfg Config) ClusterScore {
	c := ClusterScore{Name: "catalyst"}
	if sig.Tier == catalyst.Tier1 {
		c.add(1, "Tier 1 catalyst")
	}
	if sig.MultiCatalyst {
		c.add(1, "multi-catalyst synergy")
	}
	if sig.RevenueBeat {
		c.add(1, "revenue beat")
	}
	switch {
	case sig.NewsScore >= cfg.NewsStrong:
		c.add(2, fmt.Sprintf("strong news (%.0f/20)", sig.NewsScore))
	case sig.NewsScore >= cfg.NewsGood:
		c.add(1, fmt.Sprintf("good news (%.0f/20)", sig.NewsScore))
	}
	return c.capped()
}

func marketCluster(sig Signals, cfg Config) ClusterScore {
	c := ClusterScore{Name: "market", Cap: cfg.MarketCap}
	switch {
	case sig.VIX < cfg.VolThresholdLow:
		c.add(2, fmt.Sprintf("low VIX (%.1f)", sig.VIX))
	case sig.VIX < cfg.VolThresholdMid:
		c.add(1, fmt.Sprintf("moderate VIX (%.1f)", sig.VIX))
	}
	return c.capped()
}

func (c *ClusterScore) add(points int, fired string) {
	c.Raw += points
	c.Fired = append(c.Fired, fired)
}

func (c ClusterScore) capped() ClusterScore {
	c.Score = c.Raw
	if c.Cap > 0 {
		c.Score = min(c.Raw, c.Cap)
	}
	return c
}
