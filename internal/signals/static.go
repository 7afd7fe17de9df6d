package signals

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static serves fixed snapshots, for offline runs, backtests and tests.
// Tickers without an entry get an empty snapshot.
type Static struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewStatic builds a source from snapshots. The invalidation flag is derived
// from the score when the score reaches the threshold.
func NewStatic(snapshots ...Snapshot) *Static {
	s := &Static{snapshots: make(map[string]Snapshot)}
	for _, snap := range snapshots {
		s.Set(snap)
	}
	return s
}

type staticFile struct {
	Signals []Snapshot `yaml:"signals"`
}

// LoadStatic reads snapshots from a YAML file with a top-level signals list
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signals file %s: %w", path, err)
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse signals file %s: %w", path, err)
	}
	return NewStatic(f.Signals...), nil
}

// Set replaces the snapshot for a ticker
func (s *Static) Set(snap Snapshot) {
	snap.Ticker = strings.ToUpper(snap.Ticker)
	if Asserted(snap.InvalidationScore) {
		snap.CatalystInvalidated = true
	}
	if snap.Decision == "" {
		snap.Decision = DecisionNormal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Ticker] = snap
}

// Signals implements Source
func (s *Static) Signals(ctx context.Context, ticker string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := strings.ToUpper(ticker)
	if snap, ok := s.snapshots[key]; ok {
		return snap, nil
	}
	return Snapshot{Ticker: key, Decision: DecisionNormal}, nil
}
