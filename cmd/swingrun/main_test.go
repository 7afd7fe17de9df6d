package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/swingrun/internal/application/entry"
	"github.com/sawpanic/swingrun/internal/config"
	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/domain/scoring"
	applog "github.com/sawpanic/swingrun/internal/log"
)

func TestParseDateRange(t *testing.T) {
	tr, err := parseDateRange("2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), tr.From)
	assert.True(t, tr.Contains(time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC)))
	assert.False(t, tr.Contains(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))

	tr, err = parseDateRange("", "")
	require.NoError(t, err)
	assert.True(t, tr.From.IsZero())
	assert.True(t, tr.To.IsZero())

	_, err = parseDateRange("03/01/2024", "")
	assert.Error(t, err)
	_, err = parseDateRange("2024-03-10", "2024-03-01")
	assert.Error(t, err)
}

func TestWriteDecisions(t *testing.T) {
	decisions := []entry.Decision{
		{
			Ticker:     "NVDA",
			Accepted:   true,
			Stage:      entry.StageAccepted,
			Reason:     "7 supporting factors",
			Conviction: &scoring.ConvictionResult{Label: scoring.LabelHigh},
			Position:   &domain.Position{Ticker: "NVDA", PositionSize: 13000, StopLoss: 113.27, PriceTarget: 140.07},
		},
		{Ticker: "GME", Stage: entry.StageConviction, Reason: "meme stocks excluded"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeDecisions(&buf, "table", decisions))
	out := buf.String()
	assert.Contains(t, out, "NVDA")
	assert.Contains(t, out, "ACCEPT")
	assert.Contains(t, out, "$13000")
	assert.Contains(t, out, "REJECT")
	assert.Contains(t, out, "1 of 2 candidates accepted")

	buf.Reset()
	require.NoError(t, writeDecisions(&buf, "json", decisions))
	assert.Contains(t, buf.String(), `"accepted": true`)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"evaluate", "plan", "open", "report", "backtest", "monitor"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestApplyLogFlags(t *testing.T) {
	root := newRootCmd()
	require.NoError(t, root.PersistentFlags().Parse([]string{"--log-level", "debug"}))

	cfg := config.Default()
	applyLogFlags(cfg, root.PersistentFlags())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, applog.FormatAuto, cfg.Log.Format)
}

func TestNewSignalSourceLoadsCalendar(t *testing.T) {
	dir := t.TempDir()
	next := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	calendar := filepath.Join(dir, "calendar.yaml")
	require.NoError(t, os.WriteFile(calendar, []byte(fmt.Sprintf(`events:
  - id: nvda-er
    ticker: NVDA
    kind: Earnings_Beat
    event_time: %s
`, next.Format(time.RFC3339))), 0o644))

	cfg := config.Default().Signals
	cfg.EventsFile = calendar

	for _, source := range []string{config.SignalsPolygon, config.SignalsNone} {
		cfg.Source = source
		src, err := newSignalSource(cfg)
		require.NoError(t, err, source)
		require.NotNil(t, src, source)

		snap, err := src.Signals(context.Background(), "nvda")
		require.NoError(t, err, source)
		require.NotNil(t, snap.NextCatalyst, source)
		assert.True(t, snap.NextCatalyst.Equal(next), source)
	}

	cfg.Source = config.SignalsNone
	cfg.EventsFile = ""
	src, err := newSignalSource(cfg)
	require.NoError(t, err)
	assert.Nil(t, src)

	cfg.EventsFile = filepath.Join(dir, "missing.yaml")
	_, err = newSignalSource(cfg)
	assert.Error(t, err)
}
