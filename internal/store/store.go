package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version. A fresh library is
// stamped with it; a library with a higher version was written by a newer
// codetape and is refused rather than silently misread.
const schemaVersion = 1

var (
	// ErrNewerLibrary is returned by Open for a library whose schema is
	// newer than this build understands.
	ErrNewerLibrary = errors.New("library schema is newer than supported")

	// ErrNotLibrary is returned by Open for an existing SQLite database
	// that codetape did not create.
	ErrNotLibrary = errors.New("not a codetape library")
)

// Store is a library of recorded sessions in one SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens the library at path, creating it if the file does not exist.
//
// Every connection runs in WAL mode with synchronous=NORMAL, a 5 second
// busy timeout and foreign keys on; event and blob rows of a session go
// away with it through ON DELETE CASCADE.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}

	// One connection: SQLite has a single writer, and the pragmas below
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection. Calling it again is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection for tests and ad hoc inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// initSchema creates the tables of a new library, or checks the version of
// an existing one.
func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	switch {
	case version > schemaVersion:
		return fmt.Errorf("%w: version %d, supported %d", ErrNewerLibrary, version, schemaVersion)
	case version == schemaVersion:
		return nil
	}

	var tables int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table'`).Scan(&tables); err != nil {
		return fmt.Errorf("inspect database: %w", err)
	}
	if tables > 0 {
		return fmt.Errorf("%w: database has %d tables and no schema version", ErrNotLibrary, tables)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// verifyPragma reports an error unless PRAGMA name reads expected.
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
