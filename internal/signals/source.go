// Package signals supplies the external trust inputs the exit engine
// consumes: catalyst invalidation and the next scheduled catalyst.
package signals

import (
	"context"
	"time"
)

// InvalidationThreshold is the news invalidation score at which the
// catalyst is considered broken
const InvalidationThreshold = 70

// Snapshot is what the engine needs from signal analysis for one ticker
type Snapshot struct {
	Ticker              string     `json:"ticker" yaml:"ticker"`
	CatalystInvalidated bool       `json:"catalyst_invalidated" yaml:"catalyst_invalidated"`
	InvalidationScore   float64    `json:"invalidation_score" yaml:"invalidation_score"`
	Decision            Decision   `json:"decision" yaml:"decision"`
	NextCatalyst        *time.Time `json:"next_catalyst,omitempty" yaml:"next_catalyst"`
	Headlines           []string   `json:"headlines,omitempty" yaml:"headlines"`
}

// Source provides signal snapshots per ticker
type Source interface {
	Signals(ctx context.Context, ticker string) (Snapshot, error)
}

// Asserted applies the threshold to a raw score
func Asserted(score float64) bool {
	return score >= InvalidationThreshold
}
