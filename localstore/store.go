package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the embedded SQLite database holding queued actions and
// buffered analytics events.
//
// All methods are safe for concurrent use and never return an error to the
// caller: failures are logged and degrade to no-op successes (fail-open).
type Store struct {
	path   string
	logger *logrus.Entry

	initOnce sync.Once
	conn     *sql.DB
}

// New creates a Store for the database file at path. No I/O happens here;
// the database is opened lazily by the first operation (or by Ready).
//
// If logger is nil, a default logger writing to stderr is used.
func New(path string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		path:   path,
		logger: logger.WithField("component", "localstore"),
	}
}

// Ready reports whether the database is open and usable. The first call
// performs the one-time initialization; concurrent callers share it.
func (s *Store) Ready() bool {
	return s.db() != nil
}

// db returns the open connection, or nil if storage is unavailable.
func (s *Store) db() *sql.DB {
	s.initOnce.Do(s.open)
	return s.conn
}

func (s *Store) open() {
	conn, err := openDatabase(s.path)
	if err != nil {
		// Fail-open: the rest of the system keeps working without
		// durability. Nothing is retried until the process restarts.
		s.logger.WithError(err).Warn("storage unavailable, continuing without durability")
		return
	}
	s.conn = conn
}

// openDatabase opens the SQLite file, applies pragmas, and creates the
// schema if needed. Safe to call on an existing database.
func openDatabase(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := initSchema(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// initSchema creates tables and indexes. Idempotent.
func initSchema(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS offline_queue (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT,
		enqueued_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT NOT NULL DEFAULT '',
		rev INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON offline_queue(status);
	CREATE INDEX IF NOT EXISTS idx_queue_enqueued ON offline_queue(enqueued_at);
	CREATE INDEX IF NOT EXISTS idx_queue_type ON offline_queue(type);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		category TEXT NOT NULL,
		pet_id TEXT NOT NULL DEFAULT '',
		ong_id TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		session_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		captured_offline INTEGER NOT NULL DEFAULT 0,
		sent INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_events_sent ON analytics_events(sent);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON analytics_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type ON analytics_events(type);
	`

	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database. The connection stays
// set so concurrent callers see closed-database errors, which are absorbed
// like any other storage failure.
func (s *Store) Close() error {
	s.initOnce.Do(func() {}) // don't open just to close
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.WithError(err).Warn("failed to checkpoint WAL")
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Timestamps are stored as fixed-width RFC 3339 with a full nanosecond
// fraction. Fixed width matters: ORDER BY and range scans compare these
// columns as strings, and time.RFC3339Nano trims trailing zeros, which
// breaks lexicographic ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ===== Queued actions =====

// PutAction inserts or replaces an action row.
func (s *Store) PutAction(ctx context.Context, a *QueuedAction) {
	conn := s.db()
	if conn == nil {
		return
	}
	if err := a.Validate(); err != nil {
		s.logger.WithError(err).Warn("dropping invalid action")
		return
	}

	query := `
	INSERT INTO offline_queue (id, type, payload, enqueued_at, retry_count, status, last_error, rev)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		payload = excluded.payload,
		retry_count = excluded.retry_count,
		status = excluded.status,
		last_error = excluded.last_error,
		rev = excluded.rev
	`

	_, err := conn.ExecContext(ctx, query,
		a.ID,
		a.Type,
		string(a.Payload),
		a.EnqueuedAt.UTC().Format(timeFormat),
		a.RetryCount,
		a.Status,
		a.LastError,
		a.Rev,
	)
	if err != nil {
		s.logger.WithError(err).WithField("action_id", a.ID).Warn("failed to persist action")
	}
}

// UpdateAction writes retry_count, status, and last_error for the action,
// but only if the row still carries the rev the caller read. Returns true
// and bumps a.Rev on success; false means a concurrent writer won (or
// storage is unavailable) and the caller should skip the record.
func (s *Store) UpdateAction(ctx context.Context, a *QueuedAction) bool {
	conn := s.db()
	if conn == nil {
		return false
	}

	query := `
	UPDATE offline_queue
	SET retry_count = ?, status = ?, last_error = ?, rev = rev + 1
	WHERE id = ? AND rev = ?
	`

	res, err := conn.ExecContext(ctx, query, a.RetryCount, a.Status, a.LastError, a.ID, a.Rev)
	if err != nil {
		s.logger.WithError(err).WithField("action_id", a.ID).Warn("failed to update action")
		return false
	}

	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false
	}
	a.Rev++
	return true
}

// DeleteAction removes an action row. Idempotent.
func (s *Store) DeleteAction(ctx context.Context, id string) {
	conn := s.db()
	if conn == nil {
		return
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM offline_queue WHERE id = ?`, id); err != nil {
		s.logger.WithError(err).WithField("action_id", id).Warn("failed to delete action")
	}
}

// RecoverStaleActions returns every action stuck in processing to pending
// and reports how many were recovered. Only one replay pass runs at a
// time, so a processing row observed at pass start belongs to a pass that
// was interrupted before it could record an outcome.
func (s *Store) RecoverStaleActions(ctx context.Context) int {
	conn := s.db()
	if conn == nil {
		return 0
	}

	res, err := conn.ExecContext(ctx,
		`UPDATE offline_queue SET status = ?, rev = rev + 1 WHERE status = ?`,
		StatusPending, StatusProcessing,
	)
	if err != nil {
		s.logger.WithError(err).Warn("failed to recover stale actions")
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// PendingActions returns all actions with status pending, oldest first.
func (s *Store) PendingActions(ctx context.Context) []*QueuedAction {
	return s.actionsWhere(ctx, "status = ?", StatusPending)
}

// AllActions returns every action row, oldest first.
func (s *Store) AllActions(ctx context.Context) []*QueuedAction {
	return s.actionsWhere(ctx, "1 = 1")
}

func (s *Store) actionsWhere(ctx context.Context, cond string, args ...any) []*QueuedAction {
	conn := s.db()
	if conn == nil {
		return nil
	}

	query := `
	SELECT id, type, payload, enqueued_at, retry_count, status, last_error, rev
	FROM offline_queue
	WHERE ` + cond + `
	ORDER BY enqueued_at ASC
	`

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.WithError(err).Warn("failed to query actions")
		return nil
	}
	defer rows.Close()

	var actions []*QueuedAction
	for rows.Next() {
		var a QueuedAction
		var payload, enqueuedAt string
		if err := rows.Scan(&a.ID, &a.Type, &payload, &enqueuedAt, &a.RetryCount, &a.Status, &a.LastError, &a.Rev); err != nil {
			s.logger.WithError(err).Warn("failed to scan action")
			return actions
		}
		if payload != "" {
			a.Payload = json.RawMessage(payload)
		}
		if t, err := time.Parse(timeFormat, enqueuedAt); err == nil {
			a.EnqueuedAt = t
		}
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		s.logger.WithError(err).Warn("error iterating actions")
	}
	return actions
}

// PendingActionCount returns how many actions await replay. This feeds the
// "N actions pending" badge.
func (s *Store) PendingActionCount(ctx context.Context) int {
	return s.count(ctx, `SELECT COUNT(*) FROM offline_queue WHERE status = ?`, StatusPending)
}

// ===== Analytics events =====

// PutEvent inserts or replaces an event row.
func (s *Store) PutEvent(ctx context.Context, e *AnalyticsEvent) {
	conn := s.db()
	if conn == nil {
		return
	}
	if err := e.Validate(); err != nil {
		s.logger.WithError(err).Warn("dropping invalid event")
		return
	}

	var metadata string
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			s.logger.WithError(err).WithField("event_id", e.ID).Warn("failed to marshal event metadata")
		} else {
			metadata = string(data)
		}
	}

	query := `
	INSERT INTO analytics_events (id, type, category, pet_id, ong_id, metadata, session_id, timestamp, captured_offline, sent)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		category = excluded.category,
		metadata = excluded.metadata,
		sent = MAX(sent, excluded.sent)
	`

	_, err := conn.ExecContext(ctx, query,
		e.ID,
		e.Type,
		e.Category,
		e.PetID,
		e.OngID,
		metadata,
		e.SessionID,
		e.Timestamp.UTC().Format(timeFormat),
		boolToInt(e.CapturedOffline),
		boolToInt(e.Sent),
	)
	if err != nil {
		s.logger.WithError(err).WithField("event_id", e.ID).Warn("failed to persist event")
	}
}

// MarkEventSent flips sent to true for the event. There is deliberately no
// way to flip it back.
func (s *Store) MarkEventSent(ctx context.Context, id string) {
	conn := s.db()
	if conn == nil {
		return
	}
	if _, err := conn.ExecContext(ctx, `UPDATE analytics_events SET sent = 1 WHERE id = ?`, id); err != nil {
		s.logger.WithError(err).WithField("event_id", id).Warn("failed to mark event sent")
	}
}

// UnsentEvents returns all events not yet delivered, oldest first.
func (s *Store) UnsentEvents(ctx context.Context) []*AnalyticsEvent {
	return s.eventsWhere(ctx, "sent = 0")
}

// AllEvents returns every event row, oldest first.
func (s *Store) AllEvents(ctx context.Context) []*AnalyticsEvent {
	return s.eventsWhere(ctx, "1 = 1")
}

func (s *Store) eventsWhere(ctx context.Context, cond string, args ...any) []*AnalyticsEvent {
	conn := s.db()
	if conn == nil {
		return nil
	}

	query := `
	SELECT id, type, category, pet_id, ong_id, metadata, session_id, timestamp, captured_offline, sent
	FROM analytics_events
	WHERE ` + cond + `
	ORDER BY timestamp ASC
	`

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.WithError(err).Warn("failed to query events")
		return nil
	}
	defer rows.Close()

	var events []*AnalyticsEvent
	for rows.Next() {
		var e AnalyticsEvent
		var metadata, timestamp string
		var capturedOffline, sent int
		if err := rows.Scan(&e.ID, &e.Type, &e.Category, &e.PetID, &e.OngID, &metadata, &e.SessionID, &timestamp, &capturedOffline, &sent); err != nil {
			s.logger.WithError(err).Warn("failed to scan event")
			return events
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				s.logger.WithError(err).WithField("event_id", e.ID).Warn("failed to unmarshal event metadata")
			}
		}
		if t, err := time.Parse(timeFormat, timestamp); err == nil {
			e.Timestamp = t
		}
		e.CapturedOffline = capturedOffline != 0
		e.Sent = sent != 0
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		s.logger.WithError(err).Warn("error iterating events")
	}
	return events
}

// DeleteSentEventsBefore removes delivered events with a timestamp older
// than cutoff and returns how many rows were removed.
func (s *Store) DeleteSentEventsBefore(ctx context.Context, cutoff time.Time) int {
	conn := s.db()
	if conn == nil {
		return 0
	}

	res, err := conn.ExecContext(ctx,
		`DELETE FROM analytics_events WHERE sent = 1 AND timestamp < ?`,
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		s.logger.WithError(err).Warn("failed to sweep delivered events")
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// EventCount returns the total number of event rows.
func (s *Store) EventCount(ctx context.Context) int {
	return s.count(ctx, `SELECT COUNT(*) FROM analytics_events`)
}

// UnsentEventCount returns how many events await delivery.
func (s *Store) UnsentEventCount(ctx context.Context) int {
	return s.count(ctx, `SELECT COUNT(*) FROM analytics_events WHERE sent = 0`)
}

func (s *Store) count(ctx context.Context, query string, args ...any) int {
	conn := s.db()
	if conn == nil {
		return 0
	}
	var n int
	if err := conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		s.logger.WithError(err).Warn("failed to count rows")
		return 0
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
