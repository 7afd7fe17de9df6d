package signals

import (
	"context"

	"github.com/sawpanic/swingrun/internal/catalyst"
)

// Calendar fills NextCatalyst from an event registry when the wrapped
// source has no date of its own
type Calendar struct {
	source   Source
	registry *catalyst.EventRegistry
}

// WithCalendar wraps source with registry lookups
func WithCalendar(source Source, registry *catalyst.EventRegistry) *Calendar {
	return &Calendar{source: source, registry: registry}
}

// Signals implements Source
func (c *Calendar) Signals(ctx context.Context, ticker string) (Snapshot, error) {
	snap, err := c.source.Signals(ctx, ticker)
	if err != nil {
		return snap, err
	}
	if snap.NextCatalyst == nil {
		if ev, ok := c.registry.Upcoming(ticker); ok {
			at := ev.EventTime
			snap.NextCatalyst = &at
		}
	}
	return snap, nil
}
