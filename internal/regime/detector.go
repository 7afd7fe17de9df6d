package regime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Regime represents the market volatility regime derived from VIX
type Regime int

const (
	Normal   Regime = iota // VIX below the cautious threshold
	Cautious               // Only top-quality entries admitted
	Shutdown               // No new entries
)

func (r Regime) String() string {
	switch r {
	case Normal:
		return "NORMAL"
	case Cautious:
		return "CAUTIOUS"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the regime by name in JSON and YAML
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a regime name
func (r *Regime) UnmarshalText(text []byte) error {
	for _, candidate := range []Regime{Normal, Cautious, Shutdown} {
		if candidate.String() == string(text) {
			*r = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown regime %q", text)
}

// VIXSource supplies the current VIX level
type VIXSource interface {
	VIX(ctx context.Context) (float64, error)
}

// DetectorConfig holds configuration for the volatility regime detector
type DetectorConfig struct {
	CautiousVIX float64 `yaml:"cautious_vix"` // Default: 30
	ShutdownVIX float64 `yaml:"shutdown_vix"` // Default: 35
	AssumedVIX  float64 `yaml:"assumed_vix"`  // Default: 20, used when VIX is unavailable

	// Stagnation volatility multiplier bands
	LowVolVIX         float64 `yaml:"low_vol_vix"`         // Default: 15
	HighVolVIX        float64 `yaml:"high_vol_vix"`        // Default: 25
	LowVolMultiplier  float64 `yaml:"low_vol_multiplier"`  // Default: 0.8
	HighVolMultiplier float64 `yaml:"high_vol_multiplier"` // Default: 1.2

	// Cautious regime admission
	CautiousMinNewsScore float64 `yaml:"cautious_min_news_score"` // Default: 15
}

// DefaultDetectorConfig returns the production thresholds
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		CautiousVIX:          30,
		ShutdownVIX:          35,
		AssumedVIX:           20,
		LowVolVIX:            15,
		HighVolVIX:           25,
		LowVolMultiplier:     0.8,
		HighVolMultiplier:    1.2,
		CautiousMinNewsScore: 15,
	}
}

// DetectionResult contains the regime classification result
type DetectionResult struct {
	Regime        Regime    `json:"regime"`
	VIX           float64   `json:"vix"`
	Assumed       bool      `json:"assumed"` // VIX unavailable, AssumedVIX used
	VolMultiplier float64   `json:"vol_multiplier"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// RegimeChange tracks regime transitions
type RegimeChange struct {
	Timestamp  time.Time `json:"timestamp"`
	FromRegime Regime    `json:"from_regime"`
	ToRegime   Regime    `json:"to_regime"`
	VIX        float64   `json:"vix"`
}

// Detector classifies VIX into a trading regime and remembers transitions
type Detector struct {
	config DetectorConfig
	inputs VIXSource

	mu            sync.Mutex
	lastResult    *DetectionResult
	changeHistory []RegimeChange
}

// NewDetector creates a detector. inputs may be nil for pure classification.
func NewDetector(inputs VIXSource, config DetectorConfig) *Detector {
	return &Detector{
		config:        config,
		inputs:        inputs,
		changeHistory: make([]RegimeChange, 0),
	}
}

// Classify maps a VIX level to a regime without any I/O
func (d *Detector) Classify(vix float64) DetectionResult {
	result := DetectionResult{
		VIX:           vix,
		VolMultiplier: d.VolMultiplier(vix),
	}

	switch {
	case vix >= d.config.ShutdownVIX:
		result.Regime = Shutdown
		result.Message = fmt.Sprintf("VIX %.1f >= %.0f: no new entries", vix, d.config.ShutdownVIX)
	case vix >= d.config.CautiousVIX:
		result.Regime = Cautious
		result.Message = fmt.Sprintf("VIX %.1f (%.0f-%.0f): highest conviction only",
			vix, d.config.CautiousVIX, d.config.ShutdownVIX)
	default:
		result.Regime = Normal
		result.Message = fmt.Sprintf("VIX %.1f < %.0f: normal operations", vix, d.config.CautiousVIX)
	}
	return result
}

// VolMultiplier scales the stagnation expected move for the volatility backdrop
func (d *Detector) VolMultiplier(vix float64) float64 {
	switch {
	case vix <= 0:
		return 1.0
	case vix < d.config.LowVolVIX:
		return d.config.LowVolMultiplier
	case vix >= d.config.HighVolVIX:
		return d.config.HighVolMultiplier
	default:
		return 1.0
	}
}

// Detect fetches VIX and classifies it. An unavailable VIX falls back to
// AssumedVIX rather than blocking the pass.
func (d *Detector) Detect(ctx context.Context) DetectionResult {
	vix := d.config.AssumedVIX
	assumed := true

	if d.inputs != nil {
		v, err := d.inputs.VIX(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Float64("assumed_vix", vix).Msg("VIX unavailable, assuming normal regime")
		case v <= 0:
			log.Warn().Float64("vix", v).Msg("VIX non-positive, assuming normal regime")
		default:
			vix = v
			assumed = false
		}
	}

	result := d.Classify(vix)
	result.Assumed = assumed
	result.Timestamp = time.Now()
	d.record(result)
	return result
}

func (d *Detector) record(result DetectionResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastResult != nil && d.lastResult.Regime != result.Regime {
		d.changeHistory = append(d.changeHistory, RegimeChange{
			Timestamp:  result.Timestamp,
			FromRegime: d.lastResult.Regime,
			ToRegime:   result.Regime,
			VIX:        result.VIX,
		})
		log.Info().Str("from", d.lastResult.Regime.String()).
			Str("to", result.Regime.String()).
			Float64("vix", result.VIX).
			Msg("Volatility regime changed")
	}
	r := result
	d.lastResult = &r
}

// Last returns the most recent detection, if any
func (d *Detector) Last() (DetectionResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastResult == nil {
		return DetectionResult{}, false
	}
	return *d.lastResult, true
}

// History returns a copy of the regime change history
func (d *Detector) History() []RegimeChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RegimeChange, len(d.changeHistory))
	copy(out, d.changeHistory)
	return out
}

// AdmitsEntry reports whether a new position may be opened under this regime.
// Cautious admits only Tier1 catalysts with a strong news score.
func (d *Detector) AdmitsEntry(result DetectionResult, tier string, newsScore float64) (bool, string) {
	switch result.Regime {
	case Shutdown:
		return false, result.Message
	case Cautious:
		if tier != "Tier1" || newsScore < d.config.CautiousMinNewsScore {
			return false, fmt.Sprintf("VIX %.1f requires Tier1 + news >= %.0f", result.VIX, d.config.CautiousMinNewsScore)
		}
	}
	return true, ""
}
