package indicators

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/swingrun/internal/domain"
)

var sampleBars = []PriceBar{
	{High: 48.70, Low: 47.79, Close: 48.16},
	{High: 48.72, Low: 48.14, Close: 48.61},
	{High: 48.90, Low: 48.39, Close: 48.75},
	{High: 48.87, Low: 48.37, Close: 48.63},
	{High: 48.82, Low: 48.24, Close: 48.74},
	{High: 49.05, Low: 48.64, Close: 49.03},
	{High: 49.20, Low: 48.94, Close: 49.07},
	{High: 49.35, Low: 48.86, Close: 49.32},
	{High: 49.92, Low: 49.50, Close: 49.91},
	{High: 50.19, Low: 49.87, Close: 50.13},
	{High: 50.12, Low: 49.20, Close: 49.53},
	{High: 49.66, Low: 48.90, Close: 49.50},
	{High: 49.88, Low: 49.43, Close: 49.75},
	{High: 50.19, Low: 49.73, Close: 50.03},
	{High: 50.36, Low: 49.26, Close: 50.31},
	{High: 50.57, Low: 50.09, Close: 50.52},
	{High: 50.65, Low: 50.30, Close: 50.41},
	{High: 50.43, Low: 49.21, Close: 49.34},
	{High: 49.63, Low: 48.98, Close: 49.37},
	{High: 50.33, Low: 49.61, Close: 50.23},
	{High: 50.29, Low: 49.20, Close: 49.24},
	{High: 50.17, Low: 49.43, Close: 49.93},
	{High: 49.32, Low: 48.08, Close: 48.43},
	{High: 48.50, Low: 47.64, Close: 48.18},
	{High: 48.32, Low: 41.55, Close: 46.57},
	{High: 46.80, Low: 44.28, Close: 45.41},
	{High: 47.80, Low: 47.31, Close: 47.77},
	{High: 48.39, Low: 47.20, Close: 47.72},
	{High: 48.66, Low: 47.90, Close: 48.62},
	{High: 48.79, Low: 47.73, Close: 47.85},
}

func closes(values ...float64) []PriceBar {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]PriceBar, len(values))
	for i, v := range values {
		bars[i] = PriceBar{Date: start.AddDate(0, 0, i), Open: v, High: v, Low: v, Close: v}
	}
	return bars
}

func TestSMA(t *testing.T) {
	bars := closes(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	got, err := SMA(bars, 5)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, got, 1e-12)

	// Cross-check against a direct sum of the trailing window
	n := 14
	sum := 0.0
	for _, b := range sampleBars[len(sampleBars)-n:] {
		sum += b.Close
	}
	got, err = SMA(sampleBars, n)
	require.NoError(t, err)
	assert.InDelta(t, sum/float64(n), got, 1e-9)
}

func TestSMAInsufficientData(t *testing.T) {
	_, err := SMA(closes(1, 2, 3), 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestEMA(t *testing.T) {
	// seed = mean(1,2,3) = 2, k = 0.5 -> 3 -> 4
	got, err := EMA(closes(1, 2, 3, 4, 5), 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-12)

	// exactly n bars yields the seed
	got, err = EMA(closes(2, 4, 6), 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-12)

	_, err = EMA(closes(1, 2), 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestEMADeterministic(t *testing.T) {
	first, err := EMA(sampleBars, 10)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := EMA(sampleBars, 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestATR(t *testing.T) {
	bars := make([]PriceBar, 20)
	for i := range bars {
		bars[i] = PriceBar{High: 101, Low: 99, Close: 100}
	}

	got, err := ATR(bars, 14)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-12)

	got, err = ATR(sampleBars, 14)
	require.NoError(t, err)
	assert.Greater(t, got, 0.0)

	_, err = ATR(sampleBars[:14], 14)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestATROrProxy(t *testing.T) {
	res := ATROrProxy(sampleBars[:5], 14, 200)
	assert.True(t, res.IsProxy)
	assert.InDelta(t, 6.0, res.Value, 1e-12)

	res = ATROrProxy(sampleBars, 14, 200)
	assert.False(t, res.IsProxy)
	assert.Greater(t, res.Value, 0.0)

	// flat bars have zero range and fall back to the proxy
	res = ATROrProxy(closes(10, 10, 10, 10, 10), 3, 100)
	assert.True(t, res.IsProxy)
	assert.InDelta(t, 3.0, res.Value, 1e-12)
}

func TestRSI(t *testing.T) {
	res := RSI(sampleBars, 14)
	assert.True(t, res.IsValid)
	assert.Equal(t, 14, res.Period)
	assert.GreaterOrEqual(t, res.Value, 0.0)
	assert.LessOrEqual(t, res.Value, 100.0)

	short := RSI(sampleBars[:3], 14)
	assert.False(t, short.IsValid)
	assert.Equal(t, 50.0, short.Value)
	assert.Equal(t, 3, short.DataCount)
}

func TestRSINoLosses(t *testing.T) {
	res := RSI(closes(1, 2, 3, 4, 5, 6, 7), 5)
	assert.True(t, res.IsValid)
	assert.Equal(t, 100.0, res.Value)
}

func TestRSIOnlyLosses(t *testing.T) {
	res := RSI(closes(7, 6, 5, 4, 3, 2, 1), 5)
	assert.True(t, res.IsValid)
	assert.InDelta(t, 0.0, res.Value, 1e-12)
}

func TestADXBounds(t *testing.T) {
	for _, smooth := range []bool{false, true} {
		res, err := adx(sampleBars, 14, smooth)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.ADX, 0.0)
		assert.LessOrEqual(t, res.ADX, 100.0)
		assert.GreaterOrEqual(t, res.PDI, 0.0)
		assert.GreaterOrEqual(t, res.MDI, 0.0)
	}
}

func TestADXStrongUptrend(t *testing.T) {
	bars := make([]PriceBar, 20)
	for i := range bars {
		base := 100 + float64(i)
		bars[i] = PriceBar{High: base + 1, Low: base - 1, Close: base}
	}

	res, err := ADX(bars, 14)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.ADX, 1e-9)
	assert.Greater(t, res.PDI, res.MDI)
	assert.Equal(t, 0.0, res.MDI)
	assert.False(t, res.Smoothed)
}

func TestADXInsufficientData(t *testing.T) {
	_, err := ADX(sampleBars[:14], 14)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)

	_, err = ADX(sampleBars[:15], 14)
	assert.NoError(t, err)
}

func TestADXSmoothedNeedsHistory(t *testing.T) {
	// 20 bars = 19 moves = 6 DX values, not enough to smooth over 14
	res, err := ADXSmoothed(sampleBars[:20], 14)
	require.NoError(t, err)
	assert.False(t, res.Smoothed)

	res, err = ADXSmoothed(sampleBars, 8)
	require.NoError(t, err)
	assert.True(t, res.Smoothed)
}

func TestCompute(t *testing.T) {
	snap := Compute("AAPL", sampleBars, 48, DefaultConfig())
	assert.Equal(t, "AAPL", snap.Ticker)
	assert.False(t, snap.ATR.IsProxy)
	assert.NotNil(t, snap.ADX)
	assert.NotNil(t, snap.SMA20)
	assert.NotNil(t, snap.EMA20)

	snap = Compute("AAPL", sampleBars[:5], 48, DefaultConfig())
	assert.True(t, snap.ATR.IsProxy)
	assert.Nil(t, snap.ADX)
	assert.Nil(t, snap.SMA20)
}
