package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	priority           INTEGER NOT NULL,
	item_count         INTEGER NOT NULL,
	progress           INTEGER NOT NULL,
	context_json       TEXT NOT NULL,
	plan_json          TEXT,
	optimizations_json TEXT,
	error              TEXT,
	processing_ms      BIGINT,
	created_at         BIGINT NOT NULL,
	started_at         BIGINT,
	finished_at        BIGINT,
	updated_at         BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS job_events (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL,
	at          BIGINT NOT NULL,
	from_status TEXT,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL,
	meta_json   TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events (job_id, at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status, created_at);
`

// SQLite only differs in how the event id is generated
var sqliteSchema = strings.Replace(postgresSchema, "BIGSERIAL PRIMARY KEY", "INTEGER PRIMARY KEY AUTOINCREMENT", 1)

// DB is the archive connection. Queries are written with $n placeholders and
// rewritten for SQLite.
type DB struct {
	conn   *sql.DB
	driver string
	lock   *flock.Flock
}

// NewDB opens the archive and creates its schema. For a SQLite file the
// process takes an exclusive lock on <path>.lock so only one server writes it.
func NewDB(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	case "sqlite3":
		driver = DriverSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db := &DB{driver: driver}
	if driver == DriverSQLite {
		if path := sqlitePath(dsn); path != "" {
			db.lock = flock.New(path + ".lock")
			ok, err := db.lock.TryLock()
			if err != nil {
				return nil, fmt.Errorf("acquire archive lock: %w", err)
			}
			if !ok {
				return nil, fmt.Errorf("archive %s is in use by another process", path)
			}
		}
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		db.unlock()
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	db.conn = conn

	schema := postgresSchema
	if driver == DriverSQLite {
		// A single connection serialises writers; WAL keeps readers unblocked
		conn.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := conn.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
		schema = sqliteSchema
	}

	if err := conn.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := conn.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return db, nil
}

// sqlitePath returns the file behind a SQLite DSN, or "" for in-memory databases
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	return path
}

// Driver returns the driver name the archive was opened with
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the connection and releases the file lock
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	var err error
	if db.conn != nil {
		err = db.conn.Close()
	}
	db.unlock()
	return err
}

func (db *DB) unlock() {
	if db.lock != nil {
		_ = db.lock.Unlock()
	}
}

// rebind rewrites $n placeholders to ?n for SQLite
func (db *DB) rebind(query string) string {
	if db.driver != DriverSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			c = '?'
		}
		b.WriteByte(c)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) exec(ctx context.Context, e execer, query string, args ...any) error {
	query = db.rebind(query)
	return db.retryOnBusy(ctx, func() error {
		_, err := e.ExecContext(ctx, query, args...)
		return err
	})
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.rebind(query), args...)
}

// withTx runs fn inside a transaction, committing when it returns nil
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (db *DB) retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if db.driver != DriverSQLite || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// placeholder returns the n-th positional placeholder
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
