package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NicolasHaas/openchat/pkg/model"
)

// MemoryJournal provides an in-memory Journal for tests.
// It mirrors SQLJournal behavior for validation and ordering.
type MemoryJournal struct {
	mu     sync.RWMutex
	now    func() time.Time
	nextID int64
	events []model.PresenceEvent
}

// NewMemory creates a MemoryJournal using time.Now().UTC().
func NewMemory() *MemoryJournal {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryJournal with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryJournal {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryJournal{now: now, nextID: 1}
}

// Close is a no-op for MemoryJournal.
func (m *MemoryJournal) Close() error {
	return nil
}

// RecordEvent stores a copy of ev.
func (m *MemoryJournal) RecordEvent(_ context.Context, ev *model.PresenceEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("datastore: event failed validation: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC().Truncate(time.Second)
	ev.ID = m.nextID
	m.nextID++
	m.events = append(m.events, *ev)
	return nil
}

// ListEvents returns matching events, newest first.
func (m *MemoryJournal) ListEvents(_ context.Context, filters model.PresenceEventFilters) ([]model.PresenceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := int64(defaultListLimit)
	if filters.Limit != nil {
		limit = *filters.Limit
	}

	var result []model.PresenceEvent
	for i := len(m.events) - 1; i >= 0 && int64(len(result)) < limit; i-- {
		ev := m.events[i]
		if filters.Username != nil && ev.Username != *filters.Username {
			continue
		}
		if filters.Kind != nil && ev.Kind != *filters.Kind {
			continue
		}
		result = append(result, ev)
	}
	return result, nil
}
