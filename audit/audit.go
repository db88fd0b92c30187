// Package audit provides an asynchronous, SQLite-backed audit trail for
// data-modifying operations. Writes are buffered through a channel and
// never block the caller; a full buffer drops the entry with a warning
// rather than applying backpressure.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/radar/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    audit_id   TEXT PRIMARY KEY,
    action     TEXT NOT NULL,
    shop_id    TEXT NOT NULL DEFAULT '',
    parameters TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`

// Entry is one audit record.
type Entry struct {
	Action     string
	ShopID     string
	Parameters string // optional JSON
}

// Logger is the audit sink consumed by services.
type Logger interface {
	LogAsync(e *Entry)
}

// SQLiteLogger writes audit entries to a SQLite table via a background
// goroutine.
type SQLiteLogger struct {
	db      *sql.DB
	newID   idgen.Generator
	entries chan *Entry
	done    chan struct{}
	once    sync.Once
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator sets a custom ID generator for audit IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// WithBufferSize sets the channel buffer size. Default: 256.
func WithBufferSize(n int) Option {
	return func(l *SQLiteLogger) { l.entries = make(chan *Entry, n) }
}

// NewSQLiteLogger creates a logger backed by db. Call Init before use.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:      db,
		newID:   idgen.Prefixed("aud_", idgen.Default),
		entries: make(chan *Entry, 256),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Init applies the audit schema and starts the writer goroutine.
func (l *SQLiteLogger) Init() error {
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	go l.writeLoop()
	return nil
}

// LogAsync queues an entry for persistence. Non-blocking: if the buffer
// is full the entry is dropped and a warning logged.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	select {
	case l.entries <- e:
	default:
		slog.Warn("audit: buffer full, entry dropped", "action", e.Action)
	}
}

// Close stops the writer goroutine after draining pending entries.
func (l *SQLiteLogger) Close() error {
	l.once.Do(func() { close(l.entries) })
	<-l.done
	return nil
}

func (l *SQLiteLogger) writeLoop() {
	defer close(l.done)
	for e := range l.entries {
		l.write(e)
	}
}

func (l *SQLiteLogger) write(e *Entry) {
	_, err := l.db.Exec(`
		INSERT INTO audit_log (audit_id, action, shop_id, parameters, created_at)
		VALUES (?,?,?,?,?)`,
		l.newID(), e.Action, e.ShopID, e.Parameters, time.Now().Unix())
	if err != nil {
		slog.Error("audit: write failed", "action", e.Action, "error", err)
	}
}

// Recent returns the most recent entries, newest first.
func (l *SQLiteLogger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT action, shop_id, parameters FROM audit_log
		ORDER BY created_at DESC, audit_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Action, &e.ShopID, &e.Parameters); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
