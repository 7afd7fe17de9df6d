package catalyst

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalystEvent is a scheduled or past event for a ticker (earnings date,
// PDUFA date, shareholder vote)
type CatalystEvent struct {
	ID        string    `json:"id" yaml:"id"`
	Ticker    string    `json:"ticker" yaml:"ticker"`
	Title     string    `json:"title" yaml:"title"`
	Kind      Kind      `json:"kind" yaml:"kind"`
	EventTime time.Time `json:"event_time" yaml:"event_time"`
	Source    string    `json:"source" yaml:"source"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// RegistryConfig holds configuration for the event registry
type RegistryConfig struct {
	MaxLookAhead       time.Duration `yaml:"max_look_ahead"`        // Default: 90 days
	MaxLookBehind      time.Duration `yaml:"max_look_behind"`       // Default: 30 days, older events are dropped on insert
	MaxEventsPerTicker int           `yaml:"max_events_per_ticker"` // Default: 50
}

// DefaultRegistryConfig returns sensible defaults
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxLookAhead:       90 * 24 * time.Hour,
		MaxLookBehind:      30 * 24 * time.Hour,
		MaxEventsPerTicker: 50,
	}
}

// EventRegistry keeps upcoming catalyst dates per ticker. The stagnation
// scorer uses NextEvent to grant a grace window before known catalysts.
type EventRegistry struct {
	mu     sync.RWMutex
	events map[string][]CatalystEvent
	config RegistryConfig
	now    func() time.Time
}

// NewEventRegistry creates a new catalyst event registry
func NewEventRegistry(config RegistryConfig) *EventRegistry {
	return &EventRegistry{
		events: make(map[string][]CatalystEvent),
		config: config,
		now:    time.Now,
	}
}

// WithClock replaces the pruning clock, used when replaying history
func (er *EventRegistry) WithClock(now func() time.Time) *EventRegistry {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.now = now
	return er
}

// AddEvent validates and stores an event, keeping the ticker's list sorted
func (er *EventRegistry) AddEvent(event CatalystEvent) error {
	if err := validateEvent(event); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	event.Ticker = strings.ToUpper(event.Ticker)

	er.mu.Lock()
	defer er.mu.Unlock()

	event.CreatedAt = er.now()
	list := append(er.events[event.Ticker], event)
	sort.SliceStable(list, func(i, j int) bool { return list[i].EventTime.Before(list[j].EventTime) })
	er.events[event.Ticker] = er.prune(list, event.CreatedAt)
	return nil
}

// AddEvents stores every event, stopping at the first invalid one
func (er *EventRegistry) AddEvents(events []CatalystEvent) error {
	for i, ev := range events {
		if err := er.AddEvent(ev); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, ev.ID, err)
		}
	}
	return nil
}

// Len returns the number of stored events
func (er *EventRegistry) Len() int {
	er.mu.RLock()
	defer er.mu.RUnlock()
	n := 0
	for _, list := range er.events {
		n += len(list)
	}
	return n
}

// NextEvent returns the earliest event at or after at, within MaxLookAhead
func (er *EventRegistry) NextEvent(ticker string, at time.Time) (CatalystEvent, bool) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	for _, ev := range er.events[strings.ToUpper(ticker)] {
		if ev.EventTime.Before(at) {
			continue
		}
		if ev.EventTime.Sub(at) > er.config.MaxLookAhead {
			break
		}
		return ev, true
	}
	return CatalystEvent{}, false
}

// Upcoming returns the next event as of the registry clock
func (er *EventRegistry) Upcoming(ticker string) (CatalystEvent, bool) {
	er.mu.RLock()
	now := er.now
	er.mu.RUnlock()
	return er.NextEvent(ticker, now())
}

// prune drops events older than MaxLookBehind and caps the list at the
// latest events. Future events are kept until they become due.
func (er *EventRegistry) prune(list []CatalystEvent, now time.Time) []CatalystEvent {
	kept := list[:0]
	for _, ev := range list {
		if er.config.MaxLookBehind > 0 && now.Sub(ev.EventTime) > er.config.MaxLookBehind {
			continue
		}
		kept = append(kept, ev)
	}
	if er.config.MaxEventsPerTicker > 0 && len(kept) > er.config.MaxEventsPerTicker {
		kept = kept[len(kept)-er.config.MaxEventsPerTicker:]
	}
	return kept
}

// EventCalendar is the YAML form of a catalyst calendar file
type EventCalendar struct {
	Events []CatalystEvent `yaml:"events"`
}

// LoadEventCalendar reads a calendar file. event_time accepts YAML
// timestamps, either a date or RFC3339.
func LoadEventCalendar(path string) ([]CatalystEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalyst calendar %s: %w", path, err)
	}
	var cal EventCalendar
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("failed to parse catalyst calendar %s: %w", path, err)
	}
	return cal.Events, nil
}

func validateEvent(event CatalystEvent) error {
	if event.ID == "" {
		return fmt.Errorf("event ID cannot be empty")
	}
	if event.Ticker == "" {
		return fmt.Errorf("event ticker cannot be empty")
	}
	if event.EventTime.IsZero() {
		return fmt.Errorf("event time cannot be zero")
	}
	return nil
}
