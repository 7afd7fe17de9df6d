package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/swingrun/internal/catalyst"
)

// NewsConfig configures the Polygon headline source
type NewsConfig struct {
	BaseURL  string        `yaml:"base_url"` // Default: https://api.polygon.io
	APIKey   string        `yaml:"api_key"`  // Default: $POLYGON_API_KEY
	Lookback time.Duration `yaml:"lookback"` // Default: 48h
	Limit    int           `yaml:"limit"`    // Default: 15
	Timeout  time.Duration `yaml:"timeout"`  // Default: 15s
}

// DefaultNewsConfig returns the production headline settings
func DefaultNewsConfig() NewsConfig {
	return NewsConfig{
		BaseURL:  "https://api.polygon.io",
		Lookback: 48 * time.Hour,
		Limit:    15,
		Timeout:  15 * time.Second,
	}
}

// PolygonNews scores recent Polygon headlines for invalidation and looks up
// the next scheduled catalyst in an optional event registry, as of the
// registry's clock
type PolygonNews struct {
	client   *resty.Client
	config   NewsConfig
	registry *catalyst.EventRegistry
	now      func() time.Time
}

// NewPolygonNews creates a headline-backed signal source. registry may be nil.
func NewPolygonNews(config NewsConfig, registry *catalyst.EventRegistry) *PolygonNews {
	d := DefaultNewsConfig()
	if config.BaseURL == "" {
		config.BaseURL = d.BaseURL
	}
	if config.Lookback <= 0 {
		config.Lookback = d.Lookback
	}
	if config.Limit <= 0 {
		config.Limit = d.Limit
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)

	return &PolygonNews{
		client:   client,
		config:   config,
		registry: registry,
		now:      time.Now,
	}
}

type polygonNewsResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		PublishedUTC string `json:"published_utc"`
		Publisher    struct {
			Name string `json:"name"`
		} `json:"publisher"`
	} `json:"results"`
}

// Signals fetches headlines and scores them. Without an API key the
// invalidation score is zero, never an error.
func (p *PolygonNews) Signals(ctx context.Context, ticker string) (Snapshot, error) {
	now := p.now()
	snap := Snapshot{Ticker: strings.ToUpper(ticker), Decision: DecisionNormal}

	if p.registry != nil {
		if ev, ok := p.registry.Upcoming(ticker); ok {
			at := ev.EventTime
			snap.NextCatalyst = &at
		}
	}

	if p.config.APIKey == "" {
		log.Debug().Str("ticker", snap.Ticker).Msg("No Polygon API key, skipping headline invalidation")
		return snap, nil
	}

	articles, err := p.fetch(ctx, snap.Ticker, now)
	if err != nil {
		return snap, err
	}

	res := ScoreInvalidation(articles, now)
	snap.InvalidationScore = float64(res.Score)
	snap.CatalystInvalidated = Asserted(snap.InvalidationScore)
	snap.Decision = res.Decision
	for _, a := range res.Triggering {
		snap.Headlines = append(snap.Headlines, a.Title)
	}
	return snap, nil
}

func (p *PolygonNews) fetch(ctx context.Context, ticker string, now time.Time) ([]Article, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ticker":            ticker,
			"published_utc.gte": now.Add(-p.config.Lookback).Format("2006-01-02"),
			"order":             "desc",
			"sort":              "published_utc",
			"limit":             strconv.Itoa(p.config.Limit),
			"apiKey":            p.config.APIKey,
		}).
		Get("/v2/reference/news")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news for %s: %w", ticker, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("polygon news API error %d for %s", resp.StatusCode(), ticker)
	}

	var body polygonNewsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to parse news response: %w", err)
	}

	articles := make([]Article, 0, len(body.Results))
	for _, r := range body.Results {
		published, err := time.Parse(time.RFC3339, r.PublishedUTC)
		if err != nil {
			log.Debug().Str("ticker", ticker).Str("published_utc", r.PublishedUTC).Msg("Unparsable article timestamp")
		}
		articles = append(articles, Article{
			Title:       r.Title,
			Description: r.Description,
			Publisher:   r.Publisher.Name,
			PublishedAt: published,
		})
	}
	return articles, nil
}
