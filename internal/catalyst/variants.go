package catalyst

import (
	"fmt"
	"strings"
)

// Kind names a catalyst family
type Kind string

const (
	KindEarnings       Kind = "Earnings_Beat"
	KindUpgrade        Kind = "Analyst_Upgrade"
	KindBinaryEvent    Kind = "Binary_Event"
	KindContract       Kind = "Contract_Win"
	KindSectorMomentum Kind = "Sector_Momentum"
	KindBreakout       Kind = "Technical_Breakout"
	KindMultiCatalyst  Kind = "Multi_Catalyst"
	KindMemeStock      Kind = "Meme_Stock"
	KindLargeGap       Kind = "Large_Gap"
	KindUnknown        Kind = "Unknown"
)

// Catalyst is a tagged variant: exactly one of the concrete types below.
// The unexported marker keeps the set closed to this package.
type Catalyst interface {
	Kind() Kind
	isCatalyst()
}

// Earnings is an earnings beat, optionally with raised guidance
type Earnings struct {
	BeatPct        float64 `json:"beat_pct" yaml:"beat_pct"`
	GuidanceRaised bool    `json:"guidance_raised" yaml:"guidance_raised"`
	RevenueBeat    bool    `json:"revenue_beat" yaml:"revenue_beat"`
}

// Upgrade is a sell-side analyst upgrade
type Upgrade struct {
	Firm                   string  `json:"firm" yaml:"firm"`
	PriceTargetIncreasePct float64 `json:"price_target_increase_pct" yaml:"price_target_increase_pct"`
}

// BinaryEvent is an FDA decision or similar yes/no event
type BinaryEvent struct {
	Event string `json:"event" yaml:"event"` // e.g. "FDA approval"
}

// Contract is a major contract win or an M&A announcement
type Contract struct {
	Merger   bool `json:"merger" yaml:"merger"`
	IsTarget bool `json:"is_target" yaml:"is_target"` // company is being acquired
}

// SectorMomentum is a sector-wide move
type SectorMomentum struct {
	MovingStocks   int     `json:"moving_stocks" yaml:"moving_stocks"`
	VolumeMultiple float64 `json:"volume_multiple" yaml:"volume_multiple"`
}

// Breakout is a technical breakout confirmed (or not) by volume
type Breakout struct {
	VolumeMultiple float64 `json:"volume_multiple" yaml:"volume_multiple"`
}

// MultiCatalyst is two or more catalysts firing together
type MultiCatalyst struct {
	Components []Kind `json:"components" yaml:"components"`
}

// MemeStock is a sentiment-driven move with no fundamental edge
type MemeStock struct{}

// LargeGap is a pre-market gap
type LargeGap struct {
	GapPct float64 `json:"gap_pct" yaml:"gap_pct"`
}

// Unknown is any catalyst the classifier has no rule for
type Unknown struct {
	Label string `json:"label" yaml:"label"`
}

func (Earnings) Kind() Kind       { return KindEarnings }
func (Upgrade) Kind() Kind        { return KindUpgrade }
func (BinaryEvent) Kind() Kind    { return KindBinaryEvent }
func (Contract) Kind() Kind       { return KindContract }
func (SectorMomentum) Kind() Kind { return KindSectorMomentum }
func (Breakout) Kind() Kind       { return KindBreakout }
func (MultiCatalyst) Kind() Kind  { return KindMultiCatalyst }
func (MemeStock) Kind() Kind      { return KindMemeStock }
func (LargeGap) Kind() Kind       { return KindLargeGap }
func (Unknown) Kind() Kind        { return KindUnknown }

func (Earnings) isCatalyst()       {}
func (Upgrade) isCatalyst()        {}
func (BinaryEvent) isCatalyst()    {}
func (Contract) isCatalyst()       {}
func (SectorMomentum) isCatalyst() {}
func (Breakout) isCatalyst()       {}
func (MultiCatalyst) isCatalyst()  {}
func (MemeStock) isCatalyst()      {}
func (LargeGap) isCatalyst()       {}
func (Unknown) isCatalyst()        {}

// Descriptor is the flat wire/YAML form of a catalyst as supplied by candidate files
// and the CLI. Variant converts it to the tagged type.
type Descriptor struct {
	Type   string `json:"type" yaml:"type"`
	Thesis string `json:"thesis" yaml:"thesis"`

	BeatPct                float64 `json:"beat_pct,omitempty" yaml:"beat_pct,omitempty"`
	GuidanceRaised         bool    `json:"guidance_raised,omitempty" yaml:"guidance_raised,omitempty"`
	RevenueBeat            bool    `json:"revenue_beat,omitempty" yaml:"revenue_beat,omitempty"`
	Firm                   string  `json:"firm,omitempty" yaml:"firm,omitempty"`
	PriceTargetIncreasePct float64 `json:"price_target_increase_pct,omitempty" yaml:"price_target_increase_pct,omitempty"`
	Event                  string  `json:"event,omitempty" yaml:"event,omitempty"`
	Merger                 bool    `json:"merger,omitempty" yaml:"merger,omitempty"`
	IsTarget               bool    `json:"is_target,omitempty" yaml:"is_target,omitempty"`
	MovingStocks           int     `json:"moving_stocks,omitempty" yaml:"moving_stocks,omitempty"`
	VolumeMultiple         float64 `json:"volume_multiple,omitempty" yaml:"volume_multiple,omitempty"`
	GapPct                 float64 `json:"gap_pct,omitempty" yaml:"gap_pct,omitempty"`
	Components             []Kind  `json:"components,omitempty" yaml:"components,omitempty"`
}

// aliases maps the type labels seen in candidate feeds onto a Kind
var aliases = map[string]Kind{
	"earnings_beat":      KindEarnings,
	"earnings":           KindEarnings,
	"analyst_upgrade":    KindUpgrade,
	"upgrade":            KindUpgrade,
	"fda_approval":       KindBinaryEvent,
	"fda":                KindBinaryEvent,
	"binary_event":       KindBinaryEvent,
	"contract_win":       KindContract,
	"contract":           KindContract,
	"m&a":                KindContract,
	"merger":             KindContract,
	"sector_momentum":    KindSectorMomentum,
	"sector":             KindSectorMomentum,
	"technical_breakout": KindBreakout,
	"breakout":           KindBreakout,
	"multi_catalyst":     KindMultiCatalyst,
	"meme_stock":         KindMemeStock,
	"large_gap":          KindLargeGap,
}

// ParseKind resolves a feed label to a Kind; unrecognised labels are KindUnknown
func ParseKind(label string) Kind {
	if k, ok := aliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return k
	}
	return KindUnknown
}

// Variant converts the flat descriptor into its tagged catalyst
func (s Descriptor) Variant() Catalyst {
	label := strings.ToLower(strings.TrimSpace(s.Type))
	switch ParseKind(s.Type) {
	case KindEarnings:
		return Earnings{BeatPct: s.BeatPct, GuidanceRaised: s.GuidanceRaised, RevenueBeat: s.RevenueBeat}
	case KindUpgrade:
		return Upgrade{Firm: s.Firm, PriceTargetIncreasePct: s.PriceTargetIncreasePct}
	case KindBinaryEvent:
		event := s.Event
		if event == "" {
			event = s.Type
		}
		return BinaryEvent{Event: event}
	case KindContract:
		return Contract{Merger: s.Merger || label == "m&a" || label == "merger", IsTarget: s.IsTarget}
	case KindSectorMomentum:
		return SectorMomentum{MovingStocks: s.MovingStocks, VolumeMultiple: s.VolumeMultiple}
	case KindBreakout:
		return Breakout{VolumeMultiple: s.VolumeMultiple}
	case KindMultiCatalyst:
		return MultiCatalyst{Components: s.Components}
	case KindMemeStock:
		return MemeStock{}
	case KindLargeGap:
		return LargeGap{GapPct: s.GapPct}
	default:
		return Unknown{Label: s.Type}
	}
}

// Describe gives a short human label for a catalyst
func Describe(c Catalyst) string {
	switch v := c.(type) {
	case Earnings:
		if v.GuidanceRaised {
			return fmt.Sprintf("EPS beat %.0f%% + guidance raise", v.BeatPct)
		}
		return fmt.Sprintf("EPS beat %.0f%%", v.BeatPct)
	case Upgrade:
		return fmt.Sprintf("Upgrade by %s (PT +%.0f%%)", orDefault(v.Firm, "unnamed firm"), v.PriceTargetIncreasePct)
	case BinaryEvent:
		return v.Event
	case Contract:
		if v.Merger {
			return "M&A announcement"
		}
		return "Contract win"
	case SectorMomentum:
		return fmt.Sprintf("Sector momentum (%d stocks, %.1fx volume)", v.MovingStocks, v.VolumeMultiple)
	case Breakout:
		return fmt.Sprintf("Breakout on %.1fx volume", v.VolumeMultiple)
	case MultiCatalyst:
		return fmt.Sprintf("Multi-catalyst (%d)", len(v.Components))
	case MemeStock:
		return "Meme stock"
	case LargeGap:
		return fmt.Sprintf("Gap %.1f%%", v.GapPct)
	case Unknown:
		return orDefault(v.Label, "Unknown catalyst")
	default:
		return "Unknown catalyst"
	}
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
