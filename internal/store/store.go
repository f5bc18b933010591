package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"elena/agent/internal/types"
)

var (
	ErrOverlap    = errors.New("booking overlaps an active booking")
	ErrNotFound   = errors.New("booking not found")
	ErrTransition = errors.New("estado transition not allowed")
)

// Store persists bookings. Insert must be an atomic check-then-insert: two
// overlapping active bookings can never both be written.
type Store interface {
	Insert(ctx context.Context, b types.Booking) error
	ActiveOn(ctx context.Context, fecha string) ([]types.Booking, error)
	Get(ctx context.Context, id string) (types.Booking, error)
	Transition(ctx context.Context, id string, to types.Estado) (types.Booking, error)
	SetExternalRef(ctx context.Context, id, ref string) error
}

// AllowedFrom lists the states a booking may move to `to` from.
func AllowedFrom(to types.Estado) []types.Estado {
	switch to {
	case types.EstadoConfirmed:
		return []types.Estado{types.EstadoPending}
	case types.EstadoCancelled:
		return []types.Estado{types.EstadoPending, types.EstadoConfirmed}
	}
	return nil
}

func canTransition(from, to types.Estado) bool {
	for _, f := range AllowedFrom(to) {
		if f == from {
			return true
		}
	}
	return false
}

// Memory is the single-process store. One mutex covers the overlap check and
// the insert.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*types.Booking
	byFecha map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*types.Booking),
		byFecha: make(map[string][]string),
	}
}

func (m *Memory) Insert(_ context.Context, b types.Booking) error {
	start, end, err := b.Span()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.byFecha[b.Fecha] {
		other := m.byID[id]
		if !other.Estado.Active() {
			continue
		}
		ostart, oend, err := other.Span()
		if err != nil {
			continue
		}
		if start < oend && ostart < end {
			return ErrOverlap
		}
	}
	cp := b
	m.byID[b.ID] = &cp
	m.byFecha[b.Fecha] = append(m.byFecha[b.Fecha], b.ID)
	return nil
}

func (m *Memory) ActiveOn(_ context.Context, fecha string) ([]types.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Booking, 0, len(m.byFecha[fecha]))
	for _, id := range m.byFecha[fecha] {
		if b := m.byID[id]; b.Estado.Active() {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hora < out[j].Hora })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (types.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byID[id]
	if !ok {
		return types.Booking{}, ErrNotFound
	}
	return *b, nil
}

func (m *Memory) Transition(_ context.Context, id string, to types.Estado) (types.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return types.Booking{}, ErrNotFound
	}
	if !canTransition(b.Estado, to) {
		return *b, ErrTransition
	}
	b.Estado = to
	return *b, nil
}

func (m *Memory) SetExternalRef(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	b.ExternalRef = ref
	return nil
}
