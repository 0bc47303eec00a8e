// Package history persists an append-only log of settled conversions in
// SQLite. Recording is best-effort: a write failure is logged and swallowed
// so the conversion path never blocks on the history store.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkfold/inkfold/dbopen"
	"github.com/inkfold/inkfold/idgen"
)

// Schema is the DDL for the conversion log. Applied by Open, or embed it in
// your own schema management via dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS conversion_log (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    job_id TEXT,
    name TEXT NOT NULL,
    class TEXT NOT NULL,
    status TEXT NOT NULL,
    duration_ms INTEGER,
    size_bytes INTEGER,
    error_message TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_conversion_log_timestamp
    ON conversion_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_conversion_log_status
    ON conversion_log(status);
`

// Entry is one settled conversion.
type Entry struct {
	ID         string
	Timestamp  time.Time
	JobID      string
	Name       string
	Class      string
	Status     string // completed, failed, cancelled, unsupported
	DurationMs int64
	SizeBytes  int64
	Error      string
}

// Config holds Log dependencies.
type Config struct {
	DB     *sql.DB // required
	IDs    idgen.Generator
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("log_", idgen.UUIDv7())
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Log is the append-only conversion log. Safe for concurrent use.
type Log struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// New wraps an already-opened database. The caller is responsible for
// having applied Schema.
func New(cfg Config) *Log {
	cfg.defaults()
	return &Log{db: cfg.DB, newID: cfg.IDs, logger: cfg.Logger}
}

// Open opens (creating if needed) a conversion log at path.
func Open(path string, cfg Config) (*Log, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	cfg.DB = db
	return New(cfg), nil
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Record appends one entry, retrying on SQLITE_BUSY.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO conversion_log
		    (entry_id, timestamp, job_id, name, class, status, duration_ms, size_bytes, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Unix(), e.JobID, e.Name, e.Class, e.Status,
		e.DurationMs, e.SizeBytes, e.Error)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Observe records an entry, logging and swallowing any failure. This is the
// call sites' default: history must never fail a conversion.
func (l *Log) Observe(ctx context.Context, e Entry) {
	if err := l.Record(ctx, e); err != nil {
		l.logger.Warn("history: record failed", "name", e.Name, "error", err)
	}
}

// Recent returns the newest n entries, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := dbopen.Query(ctx, l.db, `
		SELECT entry_id, timestamp, job_id, name, class, status, duration_ms, size_bytes, error_message
		FROM conversion_log
		ORDER BY timestamp DESC, entry_id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.JobID, &e.Name, &e.Class, &e.Status,
			&e.DurationMs, &e.SizeBytes, &e.Error); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge deletes entries older than the cutoff and reports how many went.
func (l *Log) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, l.db,
		`DELETE FROM conversion_log WHERE timestamp < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("history: purge: %w", err)
	}
	return res.RowsAffected()
}
