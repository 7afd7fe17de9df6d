package catalyst

import (
	"fmt"
	"strings"
)

// Tier is the quality class of a catalyst
type Tier string

const (
	Tier1 Tier = "Tier1" // high conviction
	Tier2 Tier = "Tier2" // conditional
	Tier3 Tier = "Tier3" // auto-reject
)

// TierConfig holds the rule-table thresholds and hard vetoes
type TierConfig struct {
	SmallCapBillions float64 `yaml:"small_cap_billions"` // Default: 1.0

	// Freshness limits in days; older catalysts are vetoed
	EarningsMaxAgeDays float64 `yaml:"earnings_max_age_days"` // Default: 5
	UpgradeMaxAgeDays  float64 `yaml:"upgrade_max_age_days"`  // Default: 2
	BinaryMaxAgeDays   float64 `yaml:"binary_max_age_days"`   // Default: 1 (binary events and contracts)
	DefaultMaxAgeDays  float64 `yaml:"default_max_age_days"`  // Default: 3

	EarningsTier1BeatPct  float64  `yaml:"earnings_tier1_beat_pct"`  // Default: 10
	EarningsTier2BeatPct  float64  `yaml:"earnings_tier2_beat_pct"`  // Default: 5
	UpgradeMinPTIncrease  float64  `yaml:"upgrade_min_pt_increase"`  // Default: 15
	TopTierFirms          []string `yaml:"top_tier_firms"`           // matched case-insensitively as substrings
	SectorMinMovingStocks int      `yaml:"sector_min_moving_stocks"` // Default: 3
	ConfirmVolumeMultiple float64  `yaml:"confirm_volume_multiple"`  // Default: 2.0
	LargeGapRejectPct     float64  `yaml:"large_gap_reject_pct"`     // Default: 15
}

// DefaultTierConfig returns the production rule table thresholds
func DefaultTierConfig() TierConfig {
	return TierConfig{
		SmallCapBillions:      1.0,
		EarningsMaxAgeDays:    5,
		UpgradeMaxAgeDays:     2,
		BinaryMaxAgeDays:      1,
		DefaultMaxAgeDays:     3,
		EarningsTier1BeatPct:  10,
		EarningsTier2BeatPct:  5,
		UpgradeMinPTIncrease:  15,
		TopTierFirms:          []string{"goldman", "morgan stanley", "jpmorgan", "jpm", "bofa", "citi"},
		SectorMinMovingStocks: 3,
		ConfirmVolumeMultiple: 2.0,
		LargeGapRejectPct:     15,
	}
}

// Context carries the attributes that can veto any catalyst
type Context struct {
	// MarketCapBillions of zero means unknown and never vetoes
	MarketCapBillions float64 `json:"market_cap_billions" yaml:"market_cap_billions"`
	AgeDays           float64 `json:"age_days" yaml:"age_days"`
}

// Classification is the classifier output for one catalyst
type Classification struct {
	Kind            Kind    `json:"kind"`
	Tier            Tier    `json:"tier"`
	Name            string  `json:"name"`
	Reasoning       string  `json:"reasoning"`
	PositionSizePct float64 `json:"position_size_pct"`
	HoldWindow      string  `json:"hold_window"` // hint only, never enforced
	TargetPct       float64 `json:"target_pct"`
	Vetoed          bool    `json:"vetoed"`
}

// Classifier maps tagged catalysts onto tiers
type Classifier struct {
	cfg TierConfig
}

// NewClassifier creates a classifier with the given rule table
func NewClassifier(cfg TierConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify applies hard vetoes (freshness, small cap) and then the per-family
// rule table. Vetoes yield Tier3 regardless of catalyst quality.
func (c *Classifier) Classify(cat Catalyst, ctx Context) Classification {
	if cat == nil {
		cat = Unknown{}
	}

	if ok, reason := c.Fresh(cat.Kind(), ctx.AgeDays); !ok {
		return veto(cat.Kind(), "Skip - Stale Catalyst", reason)
	}
	if ctx.MarketCapBillions > 0 && ctx.MarketCapBillions < c.cfg.SmallCapBillions {
		return veto(cat.Kind(), "Skip - Small Cap",
			fmt.Sprintf("Market cap $%.2fB < $%.1fB (illiquid)", ctx.MarketCapBillions, c.cfg.SmallCapBillions))
	}

	cls := c.rule(cat)
	cls.Kind = cat.Kind()
	return cls
}

func (c *Classifier) rule(cat Catalyst) Classification {
	cfg := c.cfg

	switch v := cat.(type) {
	case Earnings:
		switch {
		case v.BeatPct >= cfg.EarningsTier1BeatPct && v.GuidanceRaised:
			return Classification{Tier: Tier1, Name: "High Conviction - Earnings Beat + Guidance",
				Reasoning: fmt.Sprintf("EPS beat %.1f%% with guidance raise", v.BeatPct),
				PositionSizePct: 12, HoldWindow: "3-5 days", TargetPct: 13}
		case v.BeatPct >= cfg.EarningsTier2BeatPct:
			return Classification{Tier: Tier2, Name: "Medium Conviction - Small Earnings Beat",
				Reasoning: fmt.Sprintf("EPS beat %.1f%% without guidance raise", v.BeatPct),
				PositionSizePct: 8, HoldWindow: "2-4 days", TargetPct: 10}
		default:
			return reject("Skip - Weak Earnings", fmt.Sprintf("EPS beat %.1f%% < %.0f%%", v.BeatPct, cfg.EarningsTier2BeatPct))
		}

	case MultiCatalyst:
		return Classification{Tier: Tier1, Name: "High Conviction - Multi-Catalyst Synergy",
			Reasoning:       fmt.Sprintf("%d catalysts present simultaneously", max(len(v.Components), 2)),
			PositionSizePct: 13, HoldWindow: "3-7 days", TargetPct: 14}

	case Upgrade:
		if c.topTierFirm(v.Firm) && v.PriceTargetIncreasePct >= cfg.UpgradeMinPTIncrease {
			return Classification{Tier: Tier1, Name: "High Conviction - Major Analyst Upgrade",
				Reasoning:       fmt.Sprintf("Top-tier firm upgrade with %.0f%% PT increase", v.PriceTargetIncreasePct),
				PositionSizePct: 11, HoldWindow: "2-4 days", TargetPct: 10}
		}
		return Classification{Tier: Tier2, Name: "Medium Conviction - Smaller Firm Upgrade",
			Reasoning:       fmt.Sprintf("Upgrade from %s", orDefault(v.Firm, "smaller firm")),
			PositionSizePct: 8, HoldWindow: "2-3 days", TargetPct: 8}

	case SectorMomentum:
		if v.MovingStocks >= cfg.SectorMinMovingStocks && v.VolumeMultiple >= cfg.ConfirmVolumeMultiple {
			return Classification{Tier: Tier1, Name: "High Conviction - Strong Sector Momentum",
				Reasoning:       fmt.Sprintf("%d stocks moving, %.1fx volume", v.MovingStocks, v.VolumeMultiple),
				PositionSizePct: 10, HoldWindow: "5-10 days", TargetPct: 11}
		}
		return Classification{Tier: Tier2, Name: "Medium Conviction - Weak Sector Momentum",
			Reasoning:       fmt.Sprintf("Only %d stocks, %.1fx volume", v.MovingStocks, v.VolumeMultiple),
			PositionSizePct: 8, HoldWindow: "3-5 days", TargetPct: 9}

	case Breakout:
		if v.VolumeMultiple >= cfg.ConfirmVolumeMultiple {
			return Classification{Tier: Tier1, Name: "High Conviction - Confirmed Breakout",
				Reasoning:       fmt.Sprintf("Breakout with %.1fx volume", v.VolumeMultiple),
				PositionSizePct: 9, HoldWindow: "2-5 days", TargetPct: 10}
		}
		return Classification{Tier: Tier2, Name: "Medium Conviction - Low-Volume Breakout",
			Reasoning:       fmt.Sprintf("Breakout with only %.1fx volume", v.VolumeMultiple),
			PositionSizePct: 8, HoldWindow: "2-3 days", TargetPct: 8}

	case BinaryEvent:
		return Classification{Tier: Tier1, Name: "High Conviction - Binary Event",
			Reasoning:       fmt.Sprintf("%s (enter within 24h)", orDefault(v.Event, "Binary event")),
			PositionSizePct: 10, HoldWindow: "1-3 days", TargetPct: 12}

	case Contract:
		return Classification{Tier: Tier1, Name: "High Conviction - Contract/M&A",
			Reasoning:       "Major contract win or M&A announcement",
			PositionSizePct: 10, HoldWindow: "2-5 days", TargetPct: 11}

	case MemeStock:
		return reject("Skip - Meme Stock", "Sentiment-driven, no fundamental edge")

	case LargeGap:
		if v.GapPct > cfg.LargeGapRejectPct {
			return reject("Skip - Large Gap", fmt.Sprintf("Gap %.1f%% > %.0f%% (high fade probability)", v.GapPct, cfg.LargeGapRejectPct))
		}
		return unknown(string(KindLargeGap))

	case Unknown:
		return unknown(v.Label)

	default:
		return unknown(fmt.Sprintf("%T", cat))
	}
}

// Fresh reports whether a catalyst of kind is young enough to trade
func (c *Classifier) Fresh(kind Kind, ageDays float64) (bool, string) {
	limit, label := c.maxAge(kind)
	if ageDays <= limit {
		return true, fmt.Sprintf("Fresh %s (%.0f days)", label, ageDays)
	}
	return false, fmt.Sprintf("Stale %s (%.0f days > %.0f day limit)", label, ageDays, limit)
}

func (c *Classifier) maxAge(kind Kind) (float64, string) {
	switch kind {
	case KindEarnings:
		return c.cfg.EarningsMaxAgeDays, "earnings"
	case KindUpgrade:
		return c.cfg.UpgradeMaxAgeDays, "upgrade"
	case KindBinaryEvent, KindContract:
		return c.cfg.BinaryMaxAgeDays, "binary event"
	default:
		return c.cfg.DefaultMaxAgeDays, "catalyst"
	}
}

func (c *Classifier) topTierFirm(firm string) bool {
	f := strings.ToLower(firm)
	if f == "" {
		return false
	}
	for _, top := range c.cfg.TopTierFirms {
		if strings.Contains(f, strings.ToLower(top)) {
			return true
		}
	}
	return false
}

func veto(kind Kind, name, reason string) Classification {
	cls := reject(name, reason)
	cls.Kind = kind
	cls.Vetoed = true
	return cls
}

func reject(name, reason string) Classification {
	return Classification{Tier: Tier3, Name: name, Reasoning: reason, HoldWindow: "N/A"}
}

func unknown(label string) Classification {
	return Classification{Tier: Tier2, Name: "Medium Conviction - Unknown Catalyst",
		Reasoning:       fmt.Sprintf("Catalyst type: %s", orDefault(label, "unspecified")),
		PositionSizePct: 8, HoldWindow: "2-5 days", TargetPct: 9}
}
