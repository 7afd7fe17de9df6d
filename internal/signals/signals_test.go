package signals

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/swingrun/internal/catalyst"
)

var now = time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC)

func TestScoreInvalidation(t *testing.T) {
	tests := []struct {
		name     string
		article  Article
		score    int
		decision Decision
		exit     bool
	}{
		{
			name: "critical_breaking",
			article: Article{
				Title:       "Company announces $4.9B impairment charge, shares plunge 12%",
				Publisher:   "Reuters",
				PublishedAt: now.Add(-30 * time.Minute),
			},
			score:    150,
			decision: DecisionCritical,
			exit:     true,
		},
		{
			name: "strong_downgrade",
			article: Article{
				Title:       "Analyst downgrade on guidance warning",
				Publisher:   "Bloomberg",
				PublishedAt: now.Add(-6 * time.Hour),
			},
			score:    80,
			decision: DecisionStrong,
			exit:     true,
		},
		{
			name: "mild_low_credibility",
			article: Article{
				Title:       "Chipmaker faces competitive headwinds",
				Publisher:   "Benzinga",
				PublishedAt: now.Add(-10 * time.Hour),
			},
			score:    10,
			decision: DecisionNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ScoreInvalidation([]Article{tt.article}, now)
			assert.Equal(t, tt.score, res.Score)
			assert.Equal(t, tt.decision, res.Decision)
			assert.Equal(t, tt.exit, res.ShouldExit)
			assert.Equal(t, 1, res.ArticlesAnalyzed)
		})
	}
}

func TestScoreInvalidationEmpty(t *testing.T) {
	res := ScoreInvalidation(nil, now)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, DecisionNormal, res.Decision)
	assert.False(t, res.ShouldExit)
	assert.Empty(t, res.Triggering)
}

func TestScoreInvalidationKeepsWorstThree(t *testing.T) {
	var articles []Article
	for i := 0; i < 5; i++ {
		articles = append(articles, Article{
			Title:       fmt.Sprintf("Lawsuit filed number %d", i),
			Publisher:   "Reuters",
			PublishedAt: now.Add(-12 * time.Hour),
		})
	}
	res := ScoreInvalidation(articles, now)
	assert.Len(t, res.Triggering, 3)
	assert.Equal(t, 40, res.Score)
}

func TestStaticSource(t *testing.T) {
	src := NewStatic(
		Snapshot{Ticker: "nvda", InvalidationScore: 72},
		Snapshot{Ticker: "AMD", InvalidationScore: 40},
	)

	snap, err := src.Signals(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.True(t, snap.CatalystInvalidated)

	snap, err = src.Signals(context.Background(), "amd")
	require.NoError(t, err)
	assert.False(t, snap.CatalystInvalidated)

	snap, err = src.Signals(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, "TSLA", snap.Ticker)
	assert.False(t, snap.CatalystInvalidated)
	assert.Nil(t, snap.NextCatalyst)
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.yaml")
	content := `
signals:
  - ticker: NVDA
    invalidation_score: 85
  - ticker: AMD
    catalyst_invalidated: true
  - ticker: MSFT
    next_catalyst: 2024-03-12T00:00:00Z
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src, err := LoadStatic(path)
	require.NoError(t, err)

	snap, _ := src.Signals(context.Background(), "NVDA")
	assert.True(t, snap.CatalystInvalidated)
	snap, _ = src.Signals(context.Background(), "AMD")
	assert.True(t, snap.CatalystInvalidated)
	snap, _ = src.Signals(context.Background(), "MSFT")
	require.NotNil(t, snap.NextCatalyst)
	assert.Equal(t, 12, snap.NextCatalyst.Day())

	_, err = LoadStatic(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPolygonNewsSignals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/reference/news", r.URL.Path)
		assert.Equal(t, "NVDA", r.URL.Query().Get("ticker"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"OK","results":[
			{"title":"Company announces $4.9B impairment charge, shares plunge 12%%","description":"",
			 "published_utc":%q,"publisher":{"name":"Reuters"}},
			{"title":"Quiet day","description":"","published_utc":%q,"publisher":{"name":"Yahoo"}}
		]}`, now.Add(-30*time.Minute).Format(time.RFC3339), now.Add(-20*time.Hour).Format(time.RFC3339))
	}))
	defer server.Close()

	registry := catalyst.NewEventRegistry(catalyst.DefaultRegistryConfig()).WithClock(func() time.Time { return now })
	require.NoError(t, registry.AddEvent(catalyst.CatalystEvent{
		ID: "nvda-er", Ticker: "NVDA", Title: "Q1 earnings", Kind: catalyst.KindEarnings,
		EventTime: now.AddDate(0, 0, 5), Source: "calendar",
	}))

	src := NewPolygonNews(NewsConfig{BaseURL: server.URL, APIKey: "test-key"}, registry)
	src.now = func() time.Time { return now }

	snap, err := src.Signals(context.Background(), "nvda")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", snap.Ticker)
	assert.True(t, snap.CatalystInvalidated)
	assert.Equal(t, DecisionCritical, snap.Decision)
	assert.Equal(t, 150.0, snap.InvalidationScore)
	require.Len(t, snap.Headlines, 1)
	require.NotNil(t, snap.NextCatalyst)
	assert.True(t, snap.NextCatalyst.Equal(now.AddDate(0, 0, 5)))
}

func TestPolygonNewsErrorsAndMissingKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	src := NewPolygonNews(NewsConfig{BaseURL: server.URL, APIKey: "k"}, nil)
	_, err := src.Signals(context.Background(), "NVDA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	noKey := NewPolygonNews(NewsConfig{BaseURL: server.URL}, nil)
	snap, err := noKey.Signals(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.False(t, snap.CatalystInvalidated)
}

func TestCalendarFillsMissingCatalyst(t *testing.T) {
	registry := catalyst.NewEventRegistry(catalyst.DefaultRegistryConfig()).WithClock(func() time.Time { return now })
	require.NoError(t, registry.AddEvent(catalyst.CatalystEvent{
		ID: "amd-er", Ticker: "AMD", Kind: catalyst.KindEarnings, EventTime: now.AddDate(0, 0, 2),
	}))

	own := now.AddDate(0, 0, 9)
	static := NewStatic(Snapshot{Ticker: "MSFT", NextCatalyst: &own})
	src := WithCalendar(static, registry)

	snap, err := src.Signals(context.Background(), "amd")
	require.NoError(t, err)
	require.NotNil(t, snap.NextCatalyst)
	assert.True(t, snap.NextCatalyst.Equal(now.AddDate(0, 0, 2)))

	snap, err = src.Signals(context.Background(), "MSFT")
	require.NoError(t, err)
	require.NotNil(t, snap.NextCatalyst)
	assert.True(t, snap.NextCatalyst.Equal(own), "source date wins over the calendar")

	snap, err = src.Signals(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Nil(t, snap.NextCatalyst)
}
