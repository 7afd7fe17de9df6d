package regime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVIX struct {
	values []float64
	err    error
	calls  int
}

func (s *stubVIX) VIX(ctx context.Context) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	v := s.values[s.calls%len(s.values)]
	s.calls++
	return v, nil
}

func TestClassify(t *testing.T) {
	d := NewDetector(nil, DefaultDetectorConfig())

	tests := []struct {
		vix  float64
		want Regime
		mult float64
	}{
		{12, Normal, 0.8},
		{18, Normal, 1.0},
		{27, Normal, 1.2},
		{30, Cautious, 1.2},
		{34.9, Cautious, 1.2},
		{35, Shutdown, 1.2},
		{60, Shutdown, 1.2},
	}

	for _, tt := range tests {
		got := d.Classify(tt.vix)
		assert.Equal(t, tt.want, got.Regime, "vix %.1f", tt.vix)
		assert.Equal(t, tt.mult, got.VolMultiplier, "vix %.1f", tt.vix)
		assert.NotEmpty(t, got.Message)
	}
}

func TestDetectFallsBackWhenUnavailable(t *testing.T) {
	d := NewDetector(&stubVIX{err: errors.New("timeout")}, DefaultDetectorConfig())

	res := d.Detect(context.Background())
	assert.True(t, res.Assumed)
	assert.Equal(t, 20.0, res.VIX)
	assert.Equal(t, Normal, res.Regime)

	res = NewDetector(nil, DefaultDetectorConfig()).Detect(context.Background())
	assert.True(t, res.Assumed)
}

func TestDetectTracksChanges(t *testing.T) {
	d := NewDetector(&stubVIX{values: []float64{18, 32, 40, 40}}, DefaultDetectorConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d.Detect(ctx)
	}

	history := d.History()
	require.Len(t, history, 2)
	assert.Equal(t, Normal, history[0].FromRegime)
	assert.Equal(t, Cautious, history[0].ToRegime)
	assert.Equal(t, Shutdown, history[1].ToRegime)

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, Shutdown, last.Regime)
	assert.False(t, last.Assumed)
}

func TestAdmitsEntry(t *testing.T) {
	d := NewDetector(nil, DefaultDetectorConfig())

	ok, _ := d.AdmitsEntry(d.Classify(20), "Tier2", 0)
	assert.True(t, ok)

	ok, reason := d.AdmitsEntry(d.Classify(32), "Tier2", 18)
	assert.False(t, ok)
	assert.Contains(t, reason, "Tier1")

	ok, _ = d.AdmitsEntry(d.Classify(32), "Tier1", 15)
	assert.True(t, ok)

	ok, _ = d.AdmitsEntry(d.Classify(36), "Tier1", 20)
	assert.False(t, ok)
}

func TestRegimeJSON(t *testing.T) {
	raw, err := json.Marshal(DetectionResult{Regime: Cautious})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"regime":"CAUTIOUS"`)
}
