// Package report builds the exit quality report from the exit ledger:
// trailing stop effectiveness, giveback distribution and per-group outcomes.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/persistence"
)

// CaptureTargetPct is the share of peak profit a healthy trailing stop keeps
const CaptureTargetPct = 80.0

// Percentiles summarizes a distribution of percentages
type Percentiles struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
}

// GroupStats are the outcomes of one group of closed trades
type GroupStats struct {
	Key             string          `json:"key"`
	Count           int             `json:"count"`             // Closed trades
	Wins            int             `json:"wins"`              // Trades with positive return
	WinRatePct      float64         `json:"win_rate_pct"`      // Wins / count
	AvgReturnPct    float64         `json:"avg_return_pct"`    // Mean return
	MedianReturnPct float64         `json:"median_return_pct"` // Median return
	AvgHoldDays     float64         `json:"avg_hold_days"`     // Mean days held
	TotalDollars    decimal.Decimal `json:"total_dollars"`     // Realized P&L
}

// TrailingAnalysis measures how well the trailing stop kept profits
type TrailingAnalysis struct {
	Activated         int          `json:"activated"`
	NotActivated      int          `json:"not_activated"`
	ActivationRatePct float64      `json:"activation_rate_pct"`
	PeakReturns       *Percentiles `json:"peak_returns,omitempty"`
	ExitReturns       *Percentiles `json:"exit_returns,omitempty"`
	Givebacks         *Percentiles `json:"givebacks,omitempty"` // peak minus exit return
	CaptureRatePct    float64      `json:"capture_rate_pct"`    // mean exit/peak
}

// ExitQuality is the full report
type ExitQuality struct {
	GeneratedAt    time.Time        `json:"generated_at"`
	From           time.Time        `json:"from,omitempty"`
	To             time.Time        `json:"to,omitempty"`
	TradesAnalyzed int              `json:"trades_analyzed"`
	Overall        GroupStats       `json:"overall"`
	Trailing       TrailingAnalysis `json:"trailing"`
	ByExitType     []GroupStats     `json:"by_exit_type"`
	ByConviction   []GroupStats     `json:"by_conviction"`
	ByTier         []GroupStats     `json:"by_tier"`
}

// Generate reads the ledger for tr and builds the report
func Generate(ctx context.Context, ledger persistence.ExitLedger, tr persistence.TimeRange, now time.Time) (*ExitQuality, error) {
	events, err := ledger.List(ctx, tr, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load exit ledger: %w", err)
	}
	q := Build(events, now)
	q.From, q.To = tr.From, tr.To
	return q, nil
}

// Build computes the report from closed trades
func Build(events []domain.ExitEvent, now time.Time) *ExitQuality {
	q := &ExitQuality{
		GeneratedAt:    now,
		TradesAnalyzed: len(events),
		Overall:        groupStats("all", events),
		Trailing:       trailing(events),
	}
	q.ByExitType = groupBy(events, func(e domain.ExitEvent) string { return e.ExitCode })
	q.ByConviction = groupBy(events, func(e domain.ExitEvent) string { return e.ConvictionLevel })
	q.ByTier = groupBy(events, func(e domain.ExitEvent) string { return e.Tier })
	return q
}

func trailing(events []domain.ExitEvent) TrailingAnalysis {
	var ta TrailingAnalysis
	var peaks, exits, givebacks, captures []float64

	for _, e := range events {
		if !e.TrailingActivated {
			ta.NotActivated++
			continue
		}
		ta.Activated++
		// only profitable round trips say anything about giveback
		if e.PeakReturnPct > 0 && e.ReturnPct > 0 {
			peaks = append(peaks, e.PeakReturnPct)
			exits = append(exits, e.ReturnPct)
			givebacks = append(givebacks, e.PeakReturnPct-e.ReturnPct)
			captures = append(captures, e.ReturnPct/e.PeakReturnPct*100)
		}
	}

	if len(events) > 0 {
		ta.ActivationRatePct = round1(float64(ta.Activated) / float64(len(events)) * 100)
	}
	ta.PeakReturns = percentiles(peaks)
	ta.ExitReturns = percentiles(exits)
	ta.Givebacks = percentiles(givebacks)
	if len(captures) > 0 {
		ta.CaptureRatePct = round1(mean(captures))
	}
	return ta
}

func groupBy(events []domain.ExitEvent, key func(domain.ExitEvent) string) []GroupStats {
	groups := make(map[string][]domain.ExitEvent)
	for _, e := range events {
		k := key(e)
		if k == "" {
			k = "unknown"
		}
		groups[k] = append(groups[k], e)
	}

	out := make([]GroupStats, 0, len(groups))
	for k, evs := range groups {
		out = append(out, groupStats(k, evs))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func groupStats(key string, events []domain.ExitEvent) GroupStats {
	gs := GroupStats{Key: key, Count: len(events), TotalDollars: decimal.Zero}
	if len(events) == 0 {
		return gs
	}

	returns := make([]float64, len(events))
	hold := 0
	for i, e := range events {
		returns[i] = e.ReturnPct
		if e.IsWin() {
			gs.Wins++
		}
		hold += e.HoldDays
		gs.TotalDollars = gs.TotalDollars.Add(e.ReturnDollars)
	}

	gs.WinRatePct = round1(float64(gs.Wins) / float64(gs.Count) * 100)
	gs.AvgReturnPct = round2(mean(returns))
	gs.MedianReturnPct = round2(median(returns))
	gs.AvgHoldDays = round1(float64(hold) / float64(gs.Count))
	return gs
}

// percentiles uses nearest-rank on the sorted values; nil for no data
func percentiles(values []float64) *Percentiles {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	return &Percentiles{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   mean(sorted),
		Median: median(sorted),
		P25:    sorted[int(float64(n)*0.25)],
		P75:    sorted[int(float64(n)*0.75)],
		P90:    sorted[int(float64(n)*0.9)],
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// WriteJSON writes the report as indented JSON
func (q *ExitQuality) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(q)
}

// WriteMarkdown renders the report for humans
func (q *ExitQuality) WriteMarkdown(w io.Writer) error {
	var err error
	printf := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("# Exit Quality Report\n")
	printf("**Generated**: %s\n\n", q.GeneratedAt.Format(time.RFC3339))
	if q.TradesAnalyzed == 0 {
		printf("No closed trades in range.\n")
		return err
	}

	o := q.Overall
	printf("## Summary\n\n")
	printf("- **Trades**: %d\n", q.TradesAnalyzed)
	printf("- **Win Rate**: %.1f%%\n", o.WinRatePct)
	printf("- **Average Return**: %+.2f%%\n", o.AvgReturnPct)
	printf("- **Median Return**: %+.2f%%\n", o.MedianReturnPct)
	printf("- **Average Hold**: %.1f days\n", o.AvgHoldDays)
	printf("- **Realized P&L**: $%s\n\n", o.TotalDollars.StringFixed(2))

	t := q.Trailing
	printf("## Trailing Stop\n\n")
	printf("- **Activated**: %d of %d (%.1f%%)\n", t.Activated, q.TradesAnalyzed, t.ActivationRatePct)
	if t.Givebacks != nil {
		status := "below target"
		if t.CaptureRatePct >= CaptureTargetPct {
			status = "on target"
		}
		printf("- **Capture Rate**: %.1f%% (target %.0f%%+, %s)\n", t.CaptureRatePct, CaptureTargetPct, status)
		printf("- **Peak Return**: median %+.1f%%, P90 %+.1f%%\n", t.PeakReturns.Median, t.PeakReturns.P90)
		printf("- **Giveback**: median %.1f%%, P25 %.1f%%, P75 %.1f%%, P90 %.1f%%\n",
			t.Givebacks.Median, t.Givebacks.P25, t.Givebacks.P75, t.Givebacks.P90)
	}
	printf("\n")

	for _, section := range []struct {
		title  string
		groups []GroupStats
	}{
		{"By Exit Type", q.ByExitType},
		{"By Conviction", q.ByConviction},
		{"By Tier", q.ByTier},
	} {
		printf("## %s\n\n", section.title)
		printf("| Group | Trades | Win Rate | Avg Return | Median Return | P&L |\n")
		printf("|---|---:|---:|---:|---:|---:|\n")
		for _, g := range section.groups {
			printf("| %s | %d | %.1f%% | %+.2f%% | %+.2f%% | $%s |\n",
				g.Key, g.Count, g.WinRatePct, g.AvgReturnPct, g.MedianReturnPct, g.TotalDollars.StringFixed(2))
		}
		printf("\n")
	}
	return err
}

// WriteCSV writes one row per group, prefixed by the grouping dimension
func (q *ExitQuality) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	header := []string{"dimension", "group", "trades", "wins", "win_rate_pct", "avg_return_pct", "median_return_pct", "avg_hold_days", "total_dollars"}
	if err := writer.Write(header); err != nil {
		return err
	}

	rows := []struct {
		dim    string
		groups []GroupStats
	}{
		{"overall", []GroupStats{q.Overall}},
		{"exit_type", q.ByExitType},
		{"conviction", q.ByConviction},
		{"tier", q.ByTier},
	}
	for _, r := range rows {
		for _, g := range r.groups {
			record := []string{
				r.dim,
				g.Key,
				strconv.Itoa(g.Count),
				strconv.Itoa(g.Wins),
				strconv.FormatFloat(g.WinRatePct, 'f', 1, 64),
				strconv.FormatFloat(g.AvgReturnPct, 'f', 2, 64),
				strconv.FormatFloat(g.MedianReturnPct, 'f', 2, 64),
				strconv.FormatFloat(g.AvgHoldDays, 'f', 1, 64),
				g.TotalDollars.StringFixed(2),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
