// Package datastore persists the presence journal.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/openchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// defaultListLimit caps ListEvents when no limit filter is given.
const defaultListLimit = 100

// SQLJournal stores presence events in SQLite.
type SQLJournal struct {
	DB *sql.DB
}

// NewSQLJournal opens (or creates) a SQLite database and runs migrations.
func NewSQLJournal(dbPath string) (*SQLJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	j := &SQLJournal{DB: db}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *SQLJournal) Close() error {
	return j.DB.Close()
}

func (j *SQLJournal) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS presence_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT    NOT NULL CHECK(length(username) > 0),
		kind       INTEGER NOT NULL CHECK(kind >= 0 AND kind <= 3),
		transport  INTEGER NOT NULL DEFAULT 0,
		remote     TEXT    NOT NULL DEFAULT '',
		session    TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	if err := j.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := j.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_presence_events_username ON presence_events (username)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := j.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := j.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (j *SQLJournal) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := j.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := j.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := j.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (j *SQLJournal) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := j.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (j *SQLJournal) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := j.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// RecordEvent stores one presence change.
func (j *SQLJournal) RecordEvent(ctx context.Context, ev *model.PresenceEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("datastore: event failed validation: %w", err)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC().Truncate(time.Second)

	res, err := j.DB.ExecContext(ctx,
		"INSERT INTO presence_events (username, kind, transport, remote, session, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		ev.Username, int(ev.Kind), int(ev.Transport), ev.Remote, ev.Session, formatDBTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: record event: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

// ListEvents returns matching events, newest first.
func (j *SQLJournal) ListEvents(ctx context.Context, filters model.PresenceEventFilters) ([]model.PresenceEvent, error) {
	query := `
		SELECT id, username, kind, transport, remote, session, created_at
		FROM presence_events
		WHERE (? IS NULL OR username = ?)
		AND (? IS NULL OR kind = ?)
		ORDER BY id DESC
		LIMIT COALESCE(?, ?)
	`

	var kind *int
	if filters.Kind != nil {
		k := int(*filters.Kind)
		kind = &k
	}

	rows, err := j.DB.QueryContext(ctx, query,
		filters.Username, filters.Username,
		kind, kind,
		filters.Limit, defaultListLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.PresenceEvent
	for rows.Next() {
		var ev model.PresenceEvent
		var kindVal, transportVal int
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Username, &kindVal, &transportVal, &ev.Remote, &ev.Session, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan event: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan event time: %w", err)
		}
		ev.Kind = model.PresenceEventKind(kindVal)
		ev.Transport = model.Transport(transportVal)
		ev.CreatedAt = parsed
		events = append(events, ev)
	}
	return events, rows.Err()
}
