// Package store holds the sqlite-backed repositories: will records, the
// guardian email directory, the watcher cursor, processed transitions and
// execution records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps one sqlite database holding every repository table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite is not safe for concurrent writers over multiple conns.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS wills (
		id               TEXT PRIMARY KEY,
		subject          TEXT NOT NULL,
		target_url       TEXT NOT NULL,
		username         TEXT NOT NULL,
		encrypted_secret TEXT NOT NULL,
		secret_hash      TEXT NOT NULL,
		instruction      TEXT NOT NULL,
		totp_secret      TEXT NOT NULL DEFAULT '',
		created_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS wills_subject ON wills(subject);

	CREATE TABLE IF NOT EXISTS guardian_emails (
		guardian TEXT PRIMARY KEY,
		email    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS watcher_cursor (
		id     INTEGER PRIMARY KEY CHECK (id = 1),
		height INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS processed_transitions (
		subject      TEXT NOT NULL,
		new_status   INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		processed_at DATETIME NOT NULL,
		PRIMARY KEY (subject, new_status)
	);

	CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		will_id      TEXT NOT NULL DEFAULT '',
		subject      TEXT NOT NULL DEFAULT '',
		success      INTEGER NOT NULL,
		output       TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		attempts     INTEGER NOT NULL,
		artifacts    JSON,
		recorded_at  DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
