// Package memory keeps positions and the exit ledger in process memory.
// Used for offline runs, backtests and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sawpanic/swingrun/internal/domain"
	"github.com/sawpanic/swingrun/internal/persistence"
)

// Store backs both repositories with one lock so Close is atomic
type Store struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
	events    []domain.ExitEvent
	byTrade   map[string]int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		positions: make(map[string]domain.Position),
		byTrade:   make(map[string]int),
	}
}

// NewRepository returns a repository whose positions and ledger share one store
func NewRepository() *persistence.Repository {
	s := NewStore()
	return &persistence.Repository{
		Positions: s.Positions(),
		Exits:     s.Ledger(),
	}
}

// Positions returns the open-position view of the store
func (s *Store) Positions() persistence.PositionRepo {
	return &positionRepo{s: s}
}

// Ledger returns the exit-ledger view of the store
func (s *Store) Ledger() persistence.ExitLedger {
	return &exitLedger{s: s}
}

type positionRepo struct {
	s *Store
}

func (r *positionRepo) List(ctx context.Context) ([]domain.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]domain.Position, 0, len(r.s.positions))
	for _, p := range r.s.positions {
		out = append(out, clonePosition(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (r *positionRepo) Get(ctx context.Context, ticker string) (*domain.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.positions[key(ticker)]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", ticker, persistence.ErrNotFound)
	}
	cp := clonePosition(p)
	return &cp, nil
}

func (r *positionRepo) Create(ctx context.Context, pos domain.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := key(pos.Ticker)
	if _, ok := r.s.positions[k]; ok {
		return fmt.Errorf("position %s: %w", pos.Ticker, persistence.ErrDuplicate)
	}
	r.s.positions[k] = clonePosition(pos)
	return nil
}

func (r *positionRepo) Save(ctx context.Context, pos domain.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := key(pos.Ticker)
	if _, ok := r.s.positions[k]; !ok {
		return fmt.Errorf("position %s: %w", pos.Ticker, persistence.ErrNotFound)
	}
	r.s.positions[k] = clonePosition(pos)
	return nil
}

func (r *positionRepo) Close(ctx context.Context, ev domain.ExitEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.append(ev)
	k := key(ev.Ticker)
	if p, ok := r.s.positions[k]; ok && p.TradeID() == ev.TradeID {
		delete(r.s.positions, k)
	}
	return nil
}

type exitLedger struct {
	s *Store
}

func (l *exitLedger) Append(ctx context.Context, ev domain.ExitEvent) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.append(ev)
	return nil
}

func (l *exitLedger) List(ctx context.Context, tr persistence.TimeRange, limit int) ([]domain.ExitEvent, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var out []domain.ExitEvent
	for _, ev := range l.s.events {
		if tr.Contains(ev.ExitDate) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExitDate.After(out[j].ExitDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// append must be called with the write lock held
func (s *Store) append(ev domain.ExitEvent) {
	if _, ok := s.byTrade[ev.TradeID]; ok {
		return
	}
	s.byTrade[ev.TradeID] = len(s.events)
	s.events = append(s.events, ev)
}

func key(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func clonePosition(p domain.Position) domain.Position {
	if p.ConvictionTrace != nil {
		p.ConvictionTrace = append([]string(nil), p.ConvictionTrace...)
	}
	return p
}
