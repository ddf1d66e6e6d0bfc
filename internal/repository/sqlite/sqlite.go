// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// SQLite is the default backend: the database is a single file next to the
// binary, and ":memory:" gives tests a throwaway database. The driver is
// modernc.org/sqlite, a pure Go translation of SQLite (no cgo).
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB: a connection pool, not a single connection
//   - sql.Row: a single result row
//   - sql.Result: RowsAffected tells a write whether it matched anything
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/matcha.db"  → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests; lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" is its own empty database, so the
	// pool is pinned to one connection.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	// Concurrent writers wait for the lock instead of failing with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /health.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// migrate creates or upgrades the schema. Every step is idempotent.
//
// Email and username are unique among live rows only: the unique indexes are
// partial (WHERE deleted_at IS NULL), so a soft-deleted identity frees its
// email and username for a new registration.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                TEXT PRIMARY KEY,
			email             TEXT NOT NULL,
			username          TEXT NOT NULL,
			password_hash     TEXT NOT NULL,
			email_verified_at DATETIME,
			account_status    TEXT NOT NULL DEFAULT 'active'
			                  CHECK (account_status IN ('active', 'suspended', 'banned')),
			created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at        DATETIME
		);
		CREATE UNIQUE INDEX IF NOT EXISTS ux_users_email
			ON users(email) WHERE deleted_at IS NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS ux_users_username
			ON users(username) WHERE deleted_at IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// v2: per-identity session version, bumped on password change.
	if err := db.addColumnIfNotExists("users", "session_version", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding session_version to users: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
