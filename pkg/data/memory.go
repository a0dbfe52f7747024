package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"naming_events/pkg/event"
)

// MemoryRepository keeps encoded records in a map. It backs tests and the
// "memory" driver; nothing survives a restart.
type MemoryRepository struct {
	mu           sync.RWMutex
	events       map[string][]byte
	destinations map[string]Destination
	locks        *tenantLocks
	closed       bool
}

// Ensure MemoryRepository implements the Repository interface
var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events:       make(map[string][]byte),
		destinations: make(map[string]Destination),
		locks:        newTenantLocks(),
	}
}

func (m *MemoryRepository) GetEvent(ctx context.Context, tenantID string) (*event.TenantEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	raw, ok := m.events[tenantID]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return nil, event.NewPersistence("get event", ErrClosed)
	}
	if !ok {
		return event.NewIdle(tenantID), nil
	}
	ev, err := event.Unmarshal(tenantID, raw)
	if err != nil {
		return nil, event.NewPersistence("get event", err)
	}
	return ev, nil
}

func (m *MemoryRepository) SaveEvent(ctx context.Context, ev *event.TenantEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.locks.lock(ev.TenantID)
	defer unlock()

	ev.UpdatedAt = time.Now().UTC()
	raw, err := event.Marshal(ev)
	if err != nil {
		return event.NewPersistence("save event", err)
	}
	return m.put(ev.TenantID, raw)
}

func (m *MemoryRepository) UpdateEvent(ctx context.Context, tenantID string, fn UpdateFunc) (*event.TenantEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.locks.lock(tenantID)
	defer unlock()

	m.mu.RLock()
	raw := m.events[tenantID]
	m.mu.RUnlock()

	ev, encoded, err := runUpdate(tenantID, raw, fn)
	if err != nil {
		return nil, err
	}
	if err := m.put(tenantID, encoded); err != nil {
		return nil, err
	}
	return ev, nil
}

func (m *MemoryRepository) put(tenantID string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return event.NewPersistence("save event", ErrClosed)
	}
	m.events[tenantID] = raw
	return nil
}

func (m *MemoryRepository) ListActiveEvents(ctx context.Context) ([]*event.TenantEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, event.NewPersistence("list events", ErrClosed)
	}

	var out []*event.TenantEvent
	for tenantID, raw := range m.events {
		ev, err := event.Unmarshal(tenantID, raw)
		if err != nil {
			return nil, event.NewPersistence("list events", err)
		}
		if !ev.IsIdle() {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (m *MemoryRepository) GetDestination(ctx context.Context, tenantID string) (*Destination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.destinations[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) SaveDestination(ctx context.Context, dest *Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return event.NewPersistence("save destination", ErrClosed)
	}
	d := *dest
	d.UpdatedAt = time.Now().UTC()
	m.destinations[dest.TenantID] = d
	return nil
}

func (m *MemoryRepository) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
