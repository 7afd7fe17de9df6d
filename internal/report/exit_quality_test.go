package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/persistence/memory"
)

var generated = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func event(ticker, code string, ret, peak float64, trailing bool, conviction, tier string, dollars float64, hold int) domain.ExitEvent {
	exitDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, hold)
	return domain.ExitEvent{
		TradeID:           ticker + "-trade",
		Ticker:            ticker,
		ExitDate:          exitDate,
		HoldDays:          hold,
		ReturnPct:         ret,
		ReturnDollars:     decimal.NewFromFloat(dollars),
		ExitCode:          code,
		PeakReturnPct:     peak,
		TrailingActivated: trailing,
		ConvictionLevel:   conviction,
		Tier:              tier,
	}
}

func sampleEvents() []domain.ExitEvent {
	return []domain.ExitEvent{
		event("AAA", "trailing_stop", 9.76, 12, true, "HIGH", "Tier1", 97.6, 6),
		event("BBB", "stop_loss", -7, 2, false, "MEDIUM", "Tier1", -70, 3),
		event("CCC", "trailing_stop", 5, 10, true, "HIGH", "Tier2", 50, 10),
		event("DDD", "time_stop", 1, 3, false, "MEDIUM", "Tier2", 10, 20),
	}
}

func TestBuildOverall(t *testing.T) {
	q := Build(sampleEvents(), generated)

	assert.Equal(t, 4, q.TradesAnalyzed)
	o := q.Overall
	assert.Equal(t, 3, o.Wins)
	assert.Equal(t, 75.0, o.WinRatePct)
	assert.InDelta(t, 2.19, o.AvgReturnPct, 1e-9)
	assert.InDelta(t, 3.0, o.MedianReturnPct, 1e-9)
	assert.InDelta(t, 9.8, o.AvgHoldDays, 1e-9)
	assert.Equal(t, "87.60", o.TotalDollars.StringFixed(2))
}

func TestBuildTrailingAnalysis(t *testing.T) {
	ta := Build(sampleEvents(), generated).Trailing

	assert.Equal(t, 2, ta.Activated)
	assert.Equal(t, 2, ta.NotActivated)
	assert.Equal(t, 50.0, ta.ActivationRatePct)
	assert.InDelta(t, 65.7, ta.CaptureRatePct, 1e-9)

	require.NotNil(t, ta.Givebacks)
	assert.Equal(t, 2, ta.Givebacks.Count)
	assert.InDelta(t, 2.24, ta.Givebacks.Min, 1e-9)
	assert.InDelta(t, 5, ta.Givebacks.Max, 1e-9)
	assert.InDelta(t, 3.62, ta.Givebacks.Median, 1e-9)
	assert.InDelta(t, 2.24, ta.Givebacks.P25, 1e-9)
	assert.InDelta(t, 5, ta.Givebacks.P90, 1e-9)
	assert.InDelta(t, 11, ta.PeakReturns.Mean, 1e-9)
}

func TestTrailingIgnoresLosingActivations(t *testing.T) {
	ta := Build([]domain.ExitEvent{
		event("AAA", "trailing_stop", -1, 9, true, "HIGH", "Tier1", -10, 5),
	}, generated).Trailing

	assert.Equal(t, 100.0, ta.ActivationRatePct)
	assert.Nil(t, ta.Givebacks)
	assert.Zero(t, ta.CaptureRatePct)
}

func TestBuildGroups(t *testing.T) {
	q := Build(sampleEvents(), generated)

	require.Len(t, q.ByExitType, 3)
	assert.Equal(t, "trailing_stop", q.ByExitType[0].Key)
	assert.Equal(t, 2, q.ByExitType[0].Count)
	assert.InDelta(t, 7.38, q.ByExitType[0].AvgReturnPct, 1e-9)
	assert.Equal(t, "stop_loss", q.ByExitType[1].Key)
	assert.Equal(t, "time_stop", q.ByExitType[2].Key)

	require.Len(t, q.ByConviction, 2)
	assert.Equal(t, "HIGH", q.ByConviction[0].Key)
	assert.Equal(t, 100.0, q.ByConviction[0].WinRatePct)
	assert.Equal(t, "MEDIUM", q.ByConviction[1].Key)
	assert.Equal(t, 50.0, q.ByConviction[1].WinRatePct)

	require.Len(t, q.ByTier, 2)
}

func TestBuildEmpty(t *testing.T) {
	q := Build(nil, generated)
	assert.Zero(t, q.TradesAnalyzed)
	assert.Empty(t, q.ByExitType)

	var buf bytes.Buffer
	require.NoError(t, q.WriteMarkdown(&buf))
	assert.Contains(t, buf.String(), "No closed trades")
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build(sampleEvents(), generated).WriteMarkdown(&buf))

	out := buf.String()
	assert.Contains(t, out, "# Exit Quality Report")
	assert.Contains(t, out, "**Win Rate**: 75.0%")
	assert.Contains(t, out, "**Capture Rate**: 65.7% (target 80%+, below target)")
	assert.Contains(t, out, "| trailing_stop | 2 | 100.0% | +7.38% |")
	assert.Contains(t, out, "## By Conviction")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build(sampleEvents(), generated).WriteCSV(&buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	// header + overall + 3 exit types + 2 convictions + 2 tiers
	require.Len(t, records, 9)
	assert.Equal(t, []string{"overall", "all", "4", "3", "75.0", "2.19", "3.00", "9.8", "87.60"}, records[1])
}

func TestGenerateFromLedger(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for _, ev := range sampleEvents() {
		require.NoError(t, store.Ledger().Append(ctx, ev))
	}

	tr := persistence.TimeRange{
		From: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
	}
	q, err := Generate(ctx, store.Ledger(), tr, generated)
	require.NoError(t, err)
	// AAA exits 03-07, CCC exits 03-11
	assert.Equal(t, 2, q.TradesAnalyzed)
	assert.Equal(t, tr.From, q.From)
}
