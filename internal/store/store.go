package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// connParams are go-sqlite3 DSN options applied to every connection.
// busy_timeout is in milliseconds.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"1"},
}

// migrations upgrade journals written by older builds. migrations[i]
// moves a database from user_version i to i+1; schema.sql always
// describes the newest layout, so a fresh database runs them as no-ops.
var migrations = []func(*sql.Tx) error{
	addSessionColumn,
	addStreamEventIndex,
}

// Store is the durable command journal and ledger event log. It holds a
// single connection: the node is the only writer and SQLite serialises
// writers anyway.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal, which the scenario harness uses.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal %s: %w", path, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare journal %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate creates missing tables, then runs every migration above the
// stored user_version in one transaction.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for v := version; v < len(migrations); v++ {
		if err := migrations[v](tx); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// addSessionColumn adds commands.session to journals written before
// commands were stamped with the writing process's session id.
func addSessionColumn(tx *sql.Tx) error {
	var n int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('commands') WHERE name = 'session'",
	).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = tx.Exec("ALTER TABLE commands ADD COLUMN session TEXT NOT NULL DEFAULT ''")
	return err
}

// addStreamEventIndex adds the index behind per-stream history reads.
func addStreamEventIndex(tx *sql.Tx) error {
	_, err := tx.Exec(
		"CREATE INDEX IF NOT EXISTS idx_ledger_events_stream ON ledger_events(stream_id, id)",
	)
	return err
}

// verifyPragma reports whether PRAGMA name currently reads expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
