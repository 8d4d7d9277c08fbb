package datastore

import (
	"context"

	"github.com/NicolasHaas/openchat/pkg/model"
)

// Journal records presence changes: who joined, left, expired or was pruned,
// over which transport and from where. Chat messages are never stored.
// Implementations include the default SQLite journal and an in-memory one
// for tests.
type Journal interface {
	JournalReadProvider
	JournalWriteProvider

	// Close closes the underlying storage connection.
	Close() error
}

type JournalReadProvider interface {
	// ListEvents returns events newest first.
	ListEvents(ctx context.Context, filters model.PresenceEventFilters) ([]model.PresenceEvent, error)
}

type JournalWriteProvider interface {
	// RecordEvent validates and stores ev, setting its ID (and CreatedAt when zero).
	RecordEvent(ctx context.Context, ev *model.PresenceEvent) error
}

// Compile-time checks.
var (
	_ Journal = (*SQLJournal)(nil)
	_ Journal = (*MemoryJournal)(nil)
)
