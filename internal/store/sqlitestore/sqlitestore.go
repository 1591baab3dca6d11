// Package sqlitestore is the durable Store implementation: a local
// relational engine with write-ahead journaling (spec §1, §6), backed by
// database/sql and the pure-Go modernc.org/sqlite driver.
//
// Grounded on the database/sql + repository-struct shape of the pack's
// webhook-ingestion-service/internal/store/postgres package (transaction
// handling, sql.ErrNoRows translation, migration-on-open), adapted from
// Postgres's FOR UPDATE SKIP LOCKED multi-worker claim pattern to SQLite's
// single-writer WAL model — one *sql.DB, journal_mode=WAL, no row-locking
// primitive needed because there is exactly one process writing.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	dlq_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);

CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// Store is the sqlite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path, applies
// the schema, and enables WAL journaling for file-backed databases. path
// may be ":memory:" for a process-local, non-durable instance (WAL is
// skipped in that case — an in-memory database has nothing to journal to).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // one writer; avoids SQLITE_BUSY under concurrent dispatches

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL journaling: %w", err)
		}
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) InsertEvent(ctx context.Context, e *domain.Event) error {
	metaJSON, err := encodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, payload, status, retry_count, last_error, metadata, created_at, updated_at, dlq_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Type, string(e.Payload), string(e.Status), e.RetryCount,
		store.EncodeErrorHistory(e.LastError), metaJSON,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), formatNullableTime(e.DLQAt))
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, payload, status, retry_count, last_error, metadata, created_at, updated_at, dlq_at
		FROM events WHERE id = ?
	`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return checkRowsAffected(res, "update status", id)
}

func (s *Store) UpdateRetry(ctx context.Context, id string, retryCount int, lastErrorJSON string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET retry_count = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, retryCount, lastErrorJSON, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating retry: %w", err)
	}
	return checkRowsAffected(res, "update retry", id)
}

func (s *Store) MoveToDLQ(ctx context.Context, id string, lastErrorJSON string) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, last_error = ?, dlq_at = ?, updated_at = ? WHERE id = ?
	`, string(domain.StatusDLQ), lastErrorJSON, now, now, id)
	if err != nil {
		return fmt.Errorf("moving event to dlq: %w", err)
	}
	return checkRowsAffected(res, "move to dlq", id)
}

func (s *Store) EventsByStatus(ctx context.Context, status domain.Status) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, status, retry_count, last_error, metadata, created_at, updated_at, dlq_at
		FROM events WHERE status = ? ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("querying events by status: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) InsertSubscription(ctx context.Context, sub domain.SubscriptionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, event_type, created_at) VALUES (?, ?, ?)
	`, sub.ID, sub.Pattern, formatTime(sub.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]domain.SubscriptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, event_type, created_at FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.SubscriptionRecord
	for rows.Next() {
		var sub domain.SubscriptionRecord
		var createdAt string
		if err := rows.Scan(&sub.ID, &sub.Pattern, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// List, Count, ResetDLQEvent, and PurgeDLQ implement store.DLQReader.

func (s *Store) List(ctx context.Context, offset, limit int) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, status, retry_count, last_error, metadata, created_at, updated_at, dlq_at
		FROM events WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, string(domain.StatusDLQ), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing dlq events: %w", err)
	}
	defer rows.Close()

	events := []*domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dlq event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE status = ?`, string(domain.StatusDLQ)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting dlq events: %w", err)
	}
	return n, nil
}

func (s *Store) ResetDLQEvent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM events WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reset dlq event %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking event status: %w", err)
	}
	if domain.Status(status) != domain.StatusDLQ {
		return fmt.Errorf("reset dlq event %s: %w", id, domain.ErrNotInDLQ)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE events SET status = ?, retry_count = 0, last_error = NULL, dlq_at = NULL, updated_at = ?
		WHERE id = ?
	`, string(domain.StatusPending), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("resetting dlq event: %w", err)
	}

	return tx.Commit()
}

func (s *Store) PurgeDLQ(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE status = ? AND created_at <= ?
	`, string(domain.StatusDLQ), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purging dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged rows: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*domain.Event, error) {
	var (
		e                         domain.Event
		status                    string
		payload, lastError, meta sql.NullString
		createdAt, updatedAt     string
		dlqAt                    sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Type, &payload, &status, &e.RetryCount, &lastError, &meta, &createdAt, &updatedAt, &dlqAt); err != nil {
		return nil, err
	}
	e.Status = domain.Status(status)
	e.Payload = []byte(payload.String)
	e.LastError = store.DecodeErrorHistory(lastError.String)
	e.Metadata = decodeMetadata(meta.String)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if dlqAt.Valid && dlqAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, dlqAt.String)
		if err == nil {
			e.DLQAt = &t
		}
	}
	return &e, nil
}

func checkRowsAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMetadata(text string) map[string]string {
	if text == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil
	}
	return m
}

// timeLayout keeps all nine fractional digits so stored timestamps have a
// fixed width and compare correctly as text in ORDER BY and <= filters.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}
