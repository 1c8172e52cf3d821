// Package outbox implements a transactional outbox for atomic
// state-change-plus-publish. An event staged in the same database
// transaction as the business write either commits with it or rolls back
// with it; a background relay then drains committed rows into the
// pipeline. This closes the dual-write gap of publishing directly from
// application code: a crash between commit and publish loses nothing,
// because the staged row survives and is picked up on the next drain.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/relayworks/relay/pkg/relay/event"
)

// Entry is one staged event awaiting publication.
type Entry struct {
	// ID is the monotonically increasing stage order.
	ID int64

	// Event is the staged domain event.
	Event event.DomainEvent

	// CreatedAt is when the row was staged.
	CreatedAt time.Time

	// PublishedAt is set once the relay has handed the event to the
	// pipeline. Nil while pending.
	PublishedAt *time.Time
}

// Store persists staged events in SQLite alongside the application's own
// tables. Stage participates in the caller's transaction; the remaining
// methods run on the store's own connection.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewStore opens (or creates) the outbox at path. Pass the path of the
// application database so staged events share its transactions; use
// ":memory:" for testing.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers anyway, and a single connection keeps
	// ":memory:" databases from fragmenting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			event BLOB NOT NULL,
			created_at TEXT NOT NULL,
			published_at TEXT
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox(id) WHERE published_at IS NULL
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle so the application can open
// transactions that span its own tables and the outbox.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Stage inserts the event into the outbox inside the given transaction.
// The event becomes visible to the relay only when tx commits.
func (s *Store) Stage(ctx context.Context, tx *sql.Tx, evt event.DomainEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (event_id, event, created_at, published_at)
		VALUES (?, ?, ?, NULL)
	`, evt.ID, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("stage event: %w", err)
	}
	return nil
}

// Pending returns up to limit unpublished entries in stage order.
func (s *Store) Pending(ctx context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("outbox store is closed")
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event, created_at, published_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps the entry so the relay never hands it out again.
func (s *Store) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("outbox store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = ? WHERE id = ?
	`, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox entry %d not found", id)
	}
	return nil
}

// Purge deletes published entries older than the cutoff and returns how
// many were removed.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("outbox store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox
		WHERE published_at IS NOT NULL AND published_at < ?
	`, before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanEntry reads one row via the given scan function.
func scanEntry(scan func(dest ...any) error) (*Entry, error) {
	var id int64
	var data []byte
	var created string
	var published sql.NullString
	if err := scan(&id, &data, &created, &published); err != nil {
		return nil, err
	}

	var evt event.DomainEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	entry := &Entry{ID: id, Event: evt}
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if published.Valid {
		t, err := time.Parse(time.RFC3339Nano, published.String)
		if err == nil {
			entry.PublishedAt = &t
		}
	}
	return entry, nil
}
