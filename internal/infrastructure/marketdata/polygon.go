package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/swingrun/internal/domain/indicators"
)

// PolygonConfig configures the Polygon aggregates adapter
type PolygonConfig struct {
	BaseURL string        `yaml:"base_url"` // Default: https://api.polygon.io
	APIKey  string        `yaml:"api_key"`  // Default: $POLYGON_API_KEY
	Timeout time.Duration `yaml:"timeout"`  // Default: 15s
}

// DefaultPolygonConfig returns the production endpoint settings
func DefaultPolygonConfig() PolygonConfig {
	return PolygonConfig{
		BaseURL: "https://api.polygon.io",
		Timeout: 15 * time.Second,
	}
}

// RateLimitError reports an HTTP 429 with the server's requested delay
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// StatusError reports a non-2xx response other than 429
type StatusError struct {
	Provider string
	Code     int
	Path     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d for %s", e.Provider, e.Code, e.Path)
}

// Permanent reports a client error that a retry cannot fix
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests && e.Code != http.StatusRequestTimeout
}

// Polygon reads previous-close prices and daily aggregates over REST
type Polygon struct {
	client *resty.Client
	config PolygonConfig
	now    func() time.Time
}

// NewPolygon creates the Polygon adapter
func NewPolygon(config PolygonConfig) *Polygon {
	d := DefaultPolygonConfig()
	if config.BaseURL == "" {
		config.BaseURL = d.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)

	return &Polygon{client: client, config: config, now: time.Now}
}

type polygonAggsResponse struct {
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
		Time   int64   `json:"t"` // unix millis
	} `json:"results"`
}

// LatestPrices implements Source with the previous session close per ticker.
// A failing ticker is omitted; the call only fails when every ticker failed.
func (p *Polygon) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	symbols := normalizeTickers(tickers)
	out := make(map[string]float64, len(symbols))

	var lastErr error
	for _, t := range symbols {
		body, err := p.get(ctx, fmt.Sprintf("/v2/aggs/ticker/%s/prev", t), map[string]string{"adjusted": "true"})
		if err != nil {
			var rl *RateLimitError
			if errors.As(err, &rl) || ctx.Err() != nil {
				return out, err
			}
			log.Warn().Err(err).Str("ticker", t).Msg("Polygon price unavailable")
			lastErr = err
			continue
		}
		if len(body.Results) == 0 || body.Results[0].Close <= 0 {
			continue
		}
		out[t] = body.Results[0].Close
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// DailyBars implements Source from day aggregates
func (p *Polygon) DailyBars(ctx context.Context, ticker string, lookback int) ([]indicators.PriceBar, error) {
	if lookback <= 0 {
		lookback = 60
	}
	ticker = strings.ToUpper(ticker)
	end := p.now().UTC()
	start := end.AddDate(0, 0, -(lookback*7/5 + 10))

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s", ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))
	body, err := p.get(ctx, path, map[string]string{
		"adjusted": "true",
		"sort":     "asc",
		"limit":    "5000",
	})
	if err != nil {
		return nil, err
	}

	bars := make([]indicators.PriceBar, 0, len(body.Results))
	for _, r := range body.Results {
		bars = append(bars, indicators.PriceBar{
			Date:   time.UnixMilli(r.Time).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: int64(r.Volume),
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("polygon bars %s: %w", ticker, ErrNoData)
	}
	return lastN(bars, lookback), nil
}

func (p *Polygon) get(ctx context.Context, path string, params map[string]string) (*polygonAggsResponse, error) {
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("polygon: no API key configured")
	}
	params["apiKey"] = p.config.APIKey

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("polygon request %s: %w", path, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		retry := time.Minute
		if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
			retry = time.Duration(secs) * time.Second
		}
		return nil, &RateLimitError{Provider: "polygon", RetryAfter: retry}
	default:
		return nil, &StatusError{Provider: "polygon", Code: resp.StatusCode(), Path: path}
	}

	var body polygonAggsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to parse polygon response: %w", err)
	}
	return &body, nil
}
