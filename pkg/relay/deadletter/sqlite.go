package deadletter

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

// SQLiteStore persists dead letter records to SQLite. It is suitable for
// single-process production use; the envelope is stored as JSON alongside
// the queryable columns an operator needs.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the store at path. Use ":memory:" for
// testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers anyway, and a single connection keeps
	// ":memory:" databases from fragmenting across the pool.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			envelope BLOB NOT NULL,
			failure_reason TEXT NOT NULL,
			original_sink TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			first_failed_at TEXT NOT NULL,
			final_attempt_at TEXT NOT NULL,
			replayed_at TEXT
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_final_attempt
		ON dead_letters(final_attempt_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	envData, err := json.Marshal(rec.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			event_id, event_type, aggregate_id, envelope, failure_reason,
			original_sink, attempt, first_failed_at, final_attempt_at, replayed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(event_id) DO UPDATE SET
			envelope = excluded.envelope,
			failure_reason = excluded.failure_reason,
			attempt = excluded.attempt,
			final_attempt_at = excluded.final_attempt_at,
			replayed_at = NULL
	`,
		rec.EventID(),
		rec.Envelope.Event.Type,
		rec.Envelope.Event.AggregateID,
		envData,
		rec.FailureReason,
		rec.OriginalSink,
		rec.Envelope.Attempt,
		rec.FirstFailedAt.UTC().Format(time.RFC3339Nano),
		rec.FinalAttemptAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append dead letter: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Record, error) {
	return s.query(ctx, limit, false)
}

// Pending implements Store.
func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]*Record, error) {
	return s.query(ctx, limit, true)
}

func (s *SQLiteStore) query(ctx context.Context, limit int, pendingOnly bool) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	q := `
		SELECT envelope, failure_reason, original_sink,
		       first_failed_at, final_attempt_at, replayed_at
		FROM dead_letters
	`
	if pendingOnly {
		q += " WHERE replayed_at IS NULL"
	}
	q += " ORDER BY final_attempt_at LIMIT ?"

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return records, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, eventID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT envelope, failure_reason, original_sink,
		       first_failed_at, final_attempt_at, replayed_at
		FROM dead_letters
		WHERE event_id = ?
	`, eventID)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// MarkReplayed implements Store.
func (s *SQLiteStore) MarkReplayed(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letters SET replayed_at = ? WHERE event_id = ?
	`, at.UTC().Format(time.RFC3339Nano), eventID)
	if err != nil {
		return fmt.Errorf("mark replayed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dead_letters WHERE event_id = ?
	`, eventID)
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanRecord reads one row via the given scan function.
func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var envData []byte
	var reason, sink, first, final string
	var replayed sql.NullString
	if err := scan(&envData, &reason, &sink, &first, &final, &replayed); err != nil {
		return nil, err
	}

	var env event.Envelope
	if err := json.Unmarshal(envData, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	rec := &Record{
		Envelope:      env,
		FailureReason: reason,
		OriginalSink:  sink,
	}
	rec.FirstFailedAt, _ = time.Parse(time.RFC3339Nano, first)
	rec.FinalAttemptAt, _ = time.Parse(time.RFC3339Nano, final)
	if replayed.Valid {
		t, err := time.Parse(time.RFC3339Nano, replayed.String)
		if err == nil {
			rec.ReplayedAt = &t
		}
	}
	return rec, nil
}
