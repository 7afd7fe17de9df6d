package indicators

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/swingrun/internal/domain"
)

// PriceBar represents one daily OHLCV bar. Series are ordered by ascending date.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Default periods used across the engine
const (
	DefaultADXPeriod = 14
	DefaultRSIPeriod = 14
	DefaultATRPeriod = 14

	// ATRProxyPct is the fraction of entry price used when no ATR can be computed
	ATRProxyPct = 0.03
)

// Config controls optional indicator behaviour
type Config struct {
	ADXPeriod int `yaml:"adx_period"` // 14 default
	RSIPeriod int `yaml:"rsi_period"` // 14 default
	ATRPeriod int `yaml:"atr_period"` // 14 default

	// SmoothADX averages the DX series with Wilder smoothing instead of
	// returning the final DX as the ADX value.
	SmoothADX bool `yaml:"smooth_adx"`
}

// DefaultConfig returns the standard 14-period configuration
func DefaultConfig() Config {
	return Config{
		ADXPeriod: DefaultADXPeriod,
		RSIPeriod: DefaultRSIPeriod,
		ATRPeriod: DefaultATRPeriod,
	}
}

func insufficient(name string, have, need int) error {
	return fmt.Errorf("%s: have %d bars, need %d: %w", name, have, need, domain.ErrInsufficientData)
}

// SMA returns the arithmetic mean of the last n closes
func SMA(bars []PriceBar, n int) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("sma: period must be positive, got %d", n)
	}
	if len(bars) < n {
		return 0, insufficient("sma", len(bars), n)
	}

	sum := 0.0
	for _, bar := range bars[len(bars)-n:] {
		sum += bar.Close
	}
	return sum / float64(n), nil
}

// EMA returns the exponential moving average of closes. The average is seeded
// with the SMA of the first n closes and then rolled forward with k = 2/(n+1).
func EMA(bars []PriceBar, n int) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("ema: period must be positive, got %d", n)
	}
	if len(bars) < n {
		return 0, insufficient("ema", len(bars), n)
	}

	ema := 0.0
	for _, bar := range bars[:n] {
		ema += bar.Close
	}
	ema /= float64(n)

	k := 2.0 / float64(n+1)
	for _, bar := range bars[n:] {
		ema = bar.Close*k + ema*(1-k)
	}
	return ema, nil
}

// trueRange = max(high-low, |high-prevClose|, |low-prevClose|)
func trueRange(cur PriceBar, prevClose float64) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prevClose)
	lc := math.Abs(cur.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// ATRResult represents the result of ATR calculation
type ATRResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsProxy   bool    `json:"is_proxy"` // true when the 3% entry-price proxy was used
	DataCount int     `json:"data_count"`
}

// ATR returns the mean true range over the trailing n days
func ATR(bars []PriceBar, n int) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("atr: period must be positive, got %d", n)
	}
	if len(bars) < n+1 {
		return 0, insufficient("atr", len(bars), n+1)
	}

	sum := 0.0
	for i := len(bars) - n; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(n), nil
}

// ATROrProxy computes ATR and falls back to entryPrice*3% when the history
// is too short or the computed range is zero. The fallback is flagged.
func ATROrProxy(bars []PriceBar, n int, entryPrice float64) ATRResult {
	value, err := ATR(bars, n)
	if err != nil || value <= 0 {
		return ATRResult{
			Value:     entryPrice * ATRProxyPct,
			Period:    n,
			IsProxy:   true,
			DataCount: len(bars),
		}
	}
	return ATRResult{Value: value, Period: n, DataCount: len(bars)}
}

// RSIResult represents the result of RSI calculation
type RSIResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// RSI calculates the Relative Strength Index with Wilder averaging. With fewer
// than n+1 bars it reports a neutral 50 and IsValid=false.
func RSI(bars []PriceBar, n int) RSIResult {
	if n <= 0 || len(bars) < n+1 {
		return RSIResult{
			Value:     50.0,
			Period:    n,
			IsValid:   false,
			DataCount: len(bars),
		}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= n; i++ {
		gain, loss := splitChange(bars[i].Close - bars[i-1].Close)
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)

	for i := n + 1; i < len(bars); i++ {
		gain, loss := splitChange(bars[i].Close - bars[i-1].Close)
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
	}

	result := RSIResult{Period: n, IsValid: true, DataCount: len(bars)}
	if avgLoss == 0 {
		result.Value = 100.0
		return result
	}

	rs := avgGain / avgLoss
	result.Value = clamp(100.0-(100.0/(1.0+rs)), 0, 100)
	return result
}

func splitChange(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

// ADXResult represents the result of ADX calculation
type ADXResult struct {
	ADX       float64 `json:"adx"`
	PDI       float64 `json:"pdi"` // +DI
	MDI       float64 `json:"mdi"` // -DI
	Period    int     `json:"period"`
	Smoothed  bool    `json:"smoothed"`
	DataCount int     `json:"data_count"`
}

// ADX calculates the Average Directional Index. TR, +DM and -DM are seeded
// with a simple average over the first n moves and Wilder-smoothed after.
// The DX of the final directional indicators is reported as ADX.
func ADX(bars []PriceBar, n int) (ADXResult, error) {
	return adx(bars, n, false)
}

// ADXSmoothed is ADX with the DX series itself Wilder-smoothed over n values.
// It needs 2n bars; with less history it degrades to the single-pass value.
func ADXSmoothed(bars []PriceBar, n int) (ADXResult, error) {
	return adx(bars, n, true)
}

// ADXWithConfig dispatches on cfg.SmoothADX
func ADXWithConfig(bars []PriceBar, cfg Config) (ADXResult, error) {
	return adx(bars, cfg.ADXPeriod, cfg.SmoothADX)
}

func adx(bars []PriceBar, n int, smooth bool) (ADXResult, error) {
	if n <= 0 {
		return ADXResult{}, fmt.Errorf("adx: period must be positive, got %d", n)
	}
	if len(bars) < n+1 {
		return ADXResult{}, insufficient("adx", len(bars), n+1)
	}

	moves := len(bars) - 1
	tr := make([]float64, moves)
	plusDM := make([]float64, moves)
	minusDM := make([]float64, moves)
	for i := 1; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		tr[i-1] = trueRange(cur, prev.Close)

		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	avgTR, avgPlus, avgMinus := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		avgTR += tr[i]
		avgPlus += plusDM[i]
		avgMinus += minusDM[i]
	}
	avgTR /= float64(n)
	avgPlus /= float64(n)
	avgMinus /= float64(n)

	dxSeries := []float64{}
	pdi, mdi, dx := directional(avgTR, avgPlus, avgMinus)
	dxSeries = append(dxSeries, dx)

	for i := n; i < moves; i++ {
		avgTR = (avgTR*float64(n-1) + tr[i]) / float64(n)
		avgPlus = (avgPlus*float64(n-1) + plusDM[i]) / float64(n)
		avgMinus = (avgMinus*float64(n-1) + minusDM[i]) / float64(n)
		pdi, mdi, dx = directional(avgTR, avgPlus, avgMinus)
		dxSeries = append(dxSeries, dx)
	}

	result := ADXResult{
		ADX:       dx,
		PDI:       pdi,
		MDI:       mdi,
		Period:    n,
		DataCount: len(bars),
	}

	if smooth && len(dxSeries) >= n {
		value := 0.0
		for _, v := range dxSeries[:n] {
			value += v
		}
		value /= float64(n)
		for _, v := range dxSeries[n:] {
			value = (value*float64(n-1) + v) / float64(n)
		}
		result.ADX = clamp(value, 0, 100)
		result.Smoothed = true
	}

	return result, nil
}

func directional(avgTR, avgPlus, avgMinus float64) (pdi, mdi, dx float64) {
	if avgTR == 0 {
		return 0, 0, 0
	}
	pdi = 100 * avgPlus / avgTR
	mdi = 100 * avgMinus / avgTR
	if pdi+mdi == 0 {
		return pdi, mdi, 0
	}
	dx = clamp(100*math.Abs(pdi-mdi)/(pdi+mdi), 0, 100)
	return pdi, mdi, dx
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Snapshot aggregates the indicators computed for one ticker per pass
type Snapshot struct {
	Ticker string     `json:"ticker"`
	ATR    ATRResult  `json:"atr"`
	RSI    RSIResult  `json:"rsi"`
	ADX    *ADXResult `json:"adx,omitempty"`
	SMA20  *float64   `json:"sma20,omitempty"`
	EMA20  *float64   `json:"ema20,omitempty"`
}

// Compute builds a Snapshot, leaving optional indicators nil when history is short
func Compute(ticker string, bars []PriceBar, entryPrice float64, cfg Config) Snapshot {
	snap := Snapshot{
		Ticker: ticker,
		ATR:    ATROrProxy(bars, cfg.ATRPeriod, entryPrice),
		RSI:    RSI(bars, cfg.RSIPeriod),
	}
	if res, err := ADXWithConfig(bars, cfg); err == nil {
		snap.ADX = &res
	}
	if v, err := SMA(bars, 20); err == nil {
		snap.SMA20 = &v
	}
	if v, err := EMA(bars, 20); err == nil {
		snap.EMA20 = &v
	}
	return snap
}
