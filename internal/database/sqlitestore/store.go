// Package sqlitestore provides the SQLite-backed implementation of
// database.Store: messages, users, per-account annotations, following
// relationships and attachment download rows.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"andstatus/internal/database"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

// Store implements database.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Ensure Store implements the interface at compile time.
var _ database.Store = (*Store)(nil)

// Options configures the SQLite store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// BusyTimeout is how long a statement waits for a lock.
	// If zero, a default of 5 seconds is used.
	BusyTimeout time.Duration
}

// DefaultOptions returns sensible defaults for development.
func DefaultOptions() Options {
	return Options{
		Path:        "andstatus.sqlite",
		BusyTimeout: 5 * time.Second,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS origin (
		_id         INTEGER PRIMARY KEY,
		origin_name TEXT NOT NULL UNIQUE,
		origin_url  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS msg (
		_id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		origin_id           INTEGER NOT NULL DEFAULT 0,
		msg_oid             TEXT    NOT NULL DEFAULT '',
		msg_status          INTEGER NOT NULL DEFAULT 0,
		sender_id           INTEGER NOT NULL DEFAULT 0,
		author_id           INTEGER NOT NULL DEFAULT 0,
		recipient_id        INTEGER NOT NULL DEFAULT 0,
		in_reply_to_msg_id  INTEGER NOT NULL DEFAULT 0,
		in_reply_to_user_id INTEGER NOT NULL DEFAULT 0,
		body                TEXT    NOT NULL DEFAULT '',
		via                 TEXT    NOT NULL DEFAULT '',
		url                 TEXT    NOT NULL DEFAULT '',
		public              INTEGER NOT NULL DEFAULT 0,
		created_date        INTEGER NOT NULL DEFAULT 0,
		sent_date           INTEGER NOT NULL DEFAULT 0,
		ins_date            INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_msg_origin_oid ON msg (origin_id, msg_oid) WHERE msg_oid <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_msg_sent_date ON msg (sent_date)`,
	`CREATE INDEX IF NOT EXISTS idx_msg_sender ON msg (sender_id)`,
	`CREATE TABLE IF NOT EXISTS msgofuser (
		msg_id     INTEGER NOT NULL,
		user_id    INTEGER NOT NULL,
		subscribed INTEGER NOT NULL DEFAULT 0,
		favorited  INTEGER NOT NULL DEFAULT 0,
		reblogged  INTEGER NOT NULL DEFAULT 0,
		reblog_oid TEXT    NOT NULL DEFAULT '',
		mentioned  INTEGER NOT NULL DEFAULT 0,
		replied    INTEGER NOT NULL DEFAULT 0,
		directed   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (msg_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user (
		_id           INTEGER PRIMARY KEY AUTOINCREMENT,
		origin_id     INTEGER NOT NULL DEFAULT 0,
		user_oid      TEXT    NOT NULL DEFAULT '',
		username      TEXT    NOT NULL DEFAULT '',
		webfinger_id  TEXT    NOT NULL DEFAULT '',
		real_name     TEXT    NOT NULL DEFAULT '',
		avatar_url    TEXT    NOT NULL DEFAULT '',
		description   TEXT    NOT NULL DEFAULT '',
		homepage      TEXT    NOT NULL DEFAULT '',
		url           TEXT    NOT NULL DEFAULT '',
		created_date  INTEGER NOT NULL DEFAULT 0,
		user_msg_id   INTEGER NOT NULL DEFAULT 0,
		user_msg_date INTEGER NOT NULL DEFAULT 0,
		ins_date      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_origin_oid ON user (origin_id, user_oid) WHERE user_oid <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_user_username ON user (origin_id, username)`,
	`CREATE TABLE IF NOT EXISTS followinguser (
		user_id           INTEGER NOT NULL,
		following_user_id INTEGER NOT NULL,
		user_followed     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, following_user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS download (
		_id             INTEGER PRIMARY KEY AUTOINCREMENT,
		msg_id          INTEGER NOT NULL,
		uri             TEXT    NOT NULL,
		content_type    TEXT    NOT NULL DEFAULT 'unknown',
		download_status INTEGER NOT NULL DEFAULT 0,
		loaded_date     INTEGER NOT NULL DEFAULT 0,
		UNIQUE (msg_id, uri)
	)`,
}

// Open creates or opens an SQLite database at the specified path and applies
// the schema. Statements are traced through otelsql.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "andstatus.sqlite"
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := otelsql.Open("sqlite", opts.Path,
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The upsert pipeline assumes a single writer; one connection also keeps
	// the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)

	if err := initSchema(db, opts.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB, busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureOrigin registers an origin under a fixed id if it is not known yet.
func (s *Store) EnsureOrigin(ctx context.Context, id int64, name, url string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO origin (_id, origin_name, origin_url) VALUES (?, ?, ?)
		ON CONFLICT(_id) DO UPDATE SET
			origin_name = excluded.origin_name,
			origin_url  = CASE WHEN excluded.origin_url <> '' THEN excluded.origin_url ELSE origin.origin_url END
	`, id, name, url)
	if err != nil {
		return fmt.Errorf("ensure origin: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, rolling back when it fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// columns collects the column names and arguments of a partial write.
type columns struct {
	names []string
	args  []any
}

func (c *columns) add(name string, value any) {
	c.names = append(c.names, name)
	c.args = append(c.args, value)
}

func (c *columns) empty() bool {
	return len(c.names) == 0
}

func (c *columns) insertSQL(table string) string {
	q := "INSERT INTO " + table + " ("
	p := ""
	for i, n := range c.names {
		if i > 0 {
			q += ", "
			p += ", "
		}
		q += n
		p += "?"
	}
	return q + ") VALUES (" + p + ")"
}

func (c *columns) setSQL() string {
	q := ""
	for i, n := range c.names {
		if i > 0 {
			q += ", "
		}
		q += n + " = ?"
	}
	return q
}

func (c *columns) upsertSetSQL(skip int) string {
	q := ""
	for i, n := range c.names[skip:] {
		if i > 0 {
			q += ", "
		}
		q += n + " = excluded." + n
	}
	return q
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
