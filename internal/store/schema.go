// Package store provides the SQLite-backed persistence store for accounts,
// posts and media records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/jmtorr3/blog/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS posts (
	id           TEXT PRIMARY KEY,
	author_id    TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	title        TEXT NOT NULL DEFAULT '',
	slug         TEXT NOT NULL UNIQUE,
	description  TEXT NOT NULL DEFAULT '',
	cover_image  TEXT NOT NULL DEFAULT '',
	custom_css   TEXT NOT NULL DEFAULT '',
	blocks       TEXT NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL DEFAULT 'draft',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	published_at DATETIME
);

CREATE TABLE IF NOT EXISTS media (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	post_id     TEXT REFERENCES posts(id) ON DELETE CASCADE,
	stored_path TEXT NOT NULL,
	kind        TEXT NOT NULL,
	filename    TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	alt_text    TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_media_owner ON media(owner_id);
CREATE INDEX IF NOT EXISTS idx_media_post ON media(post_id);
DROP INDEX IF EXISTS idx_media_stored_path;
CREATE UNIQUE INDEX IF NOT EXISTS uq_media_stored_path ON media(stored_path);
`

// DB wraps a sql.DB with store-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// mapErr translates driver errors into the apperr taxonomy.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("store: %s: %w", op, apperr.ErrConflict)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
