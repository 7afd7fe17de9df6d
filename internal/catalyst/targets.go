package catalyst

import "strings"

// TargetPlan is the catalyst-specific profit objective for a new position
type TargetPlan struct {
	TargetPct  float64  `json:"target_pct"`
	StretchPct *float64 `json:"stretch_pct,omitempty"`
	Rationale  string   `json:"rationale"`
	HoldWindow string   `json:"hold_window"`
}

// DefaultStopPct is the stop distance below entry used when none is proposed
const DefaultStopPct = 7.0

func stretch(v float64) *float64 { return &v }

// ProfitTarget refines the tier's target by catalyst family. Tier1 M&A
// targets, FDA approvals and strong earnings surprises get wider targets.
func ProfitTarget(cat Catalyst, cls Classification) TargetPlan {
	if cls.Tier != Tier1 {
		if cls.Tier == Tier2 {
			return TargetPlan{TargetPct: 8, Rationale: "Tier 2 catalyst", HoldWindow: "3-5 days"}
		}
		return TargetPlan{TargetPct: 10, Rationale: "Standard target", HoldWindow: "5-7 days"}
	}

	switch v := cat.(type) {
	case Contract:
		if v.Merger {
			if v.IsTarget {
				return TargetPlan{TargetPct: 15, StretchPct: stretch(20),
					Rationale: "M&A target, deal premium capture", HoldWindow: "5-10 days"}
			}
			return TargetPlan{TargetPct: 8, Rationale: "M&A acquirer", HoldWindow: "3-5 days"}
		}
		return TargetPlan{TargetPct: 12, Rationale: "Major contract announcement", HoldWindow: "5-7 days"}

	case BinaryEvent:
		if strings.Contains(strings.ToLower(v.Event), "fda") || strings.Contains(strings.ToLower(v.Event), "approval") {
			return TargetPlan{TargetPct: 15, StretchPct: stretch(25),
				Rationale: "FDA approval, major catalyst", HoldWindow: "5-10 days"}
		}
		return TargetPlan{TargetPct: cls.TargetPct, Rationale: "Binary event", HoldWindow: cls.HoldWindow}

	case Earnings:
		if v.BeatPct >= 20 {
			return TargetPlan{TargetPct: 12, StretchPct: stretch(15),
				Rationale: "Large earnings surprise, drift expected", HoldWindow: "5-10 days"}
		}
		return TargetPlan{TargetPct: 10, Rationale: "Earnings beat", HoldWindow: "5-7 days"}

	case Upgrade:
		return TargetPlan{TargetPct: 12, Rationale: "Top-tier analyst upgrade", HoldWindow: "5-7 days"}

	default:
		return TargetPlan{TargetPct: cls.TargetPct, Rationale: cls.Name, HoldWindow: cls.HoldWindow}
	}
}

// Levels derives stop and target prices for an entry
func (p TargetPlan) Levels(entry float64) (stop, target float64) {
	return entry * (1 - DefaultStopPct/100), entry * (1 + p.TargetPct/100)
}
