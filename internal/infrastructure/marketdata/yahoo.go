package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/swingrun/internal/domain/indicators"
)

// VIXSymbol is the Yahoo symbol of the CBOE volatility index
const VIXSymbol = "^VIX"

// Yahoo reads quotes and daily charts through finance-go. The finance-go
// client does not take a context, so cancellation is checked between calls.
type Yahoo struct {
	quotes func(symbols []string) (map[string]float64, error)
	chart  func(symbol string, start, end time.Time) ([]indicators.PriceBar, error)
	now    func() time.Time
}

// NewYahoo creates the Yahoo Finance adapter
func NewYahoo() *Yahoo {
	return &Yahoo{
		quotes: yahooQuotes,
		chart:  yahooChart,
		now:    time.Now,
	}
}

// LatestPrices implements Source using the regular market price
func (y *Yahoo) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbols := normalizeTickers(tickers)
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	prices, err := y.quotes(symbols)
	if err != nil {
		return nil, fmt.Errorf("yahoo quotes: %w", err)
	}
	return prices, nil
}

// DailyBars implements Source. The calendar window is widened to cover
// weekends and holidays, then trimmed to lookback sessions.
func (y *Yahoo) DailyBars(ctx context.Context, ticker string, lookback int) ([]indicators.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lookback <= 0 {
		lookback = 60
	}
	end := y.now()
	start := end.AddDate(0, 0, -(lookback*7/5 + 10))

	bars, err := y.chart(strings.ToUpper(ticker), start, end)
	if err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", ticker, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: %w", ticker, ErrNoData)
	}
	return lastN(bars, lookback), nil
}

// VIX implements regime.VIXSource
func (y *Yahoo) VIX(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prices, err := y.quotes([]string{VIXSymbol})
	if err != nil {
		return 0, fmt.Errorf("yahoo VIX: %w", err)
	}
	v, ok := prices[VIXSymbol]
	if !ok || v <= 0 {
		return 0, fmt.Errorf("yahoo VIX: %w", ErrNoData)
	}
	return v, nil
}

func yahooQuotes(symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	iter := quote.List(symbols)
	for iter.Next() {
		q := iter.Quote()
		if q == nil || q.RegularMarketPrice <= 0 {
			continue
		}
		out[strings.ToUpper(q.Symbol)] = q.RegularMarketPrice
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func yahooChart(symbol string, start, end time.Time) ([]indicators.PriceBar, error) {
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)
	var bars []indicators.PriceBar
	for iter.Next() {
		bar := iter.Bar()
		pb := indicators.PriceBar{
			Date:   time.Unix(int64(bar.Timestamp), 0).UTC(),
			Open:   toFloat(bar.Open),
			High:   toFloat(bar.High),
			Low:    toFloat(bar.Low),
			Close:  toFloat(bar.Close),
			Volume: int64(bar.Volume),
		}
		if pb.Close <= 0 {
			continue
		}
		bars = append(bars, pb)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
