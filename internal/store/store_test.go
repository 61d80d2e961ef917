package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create database
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	// Reopen database
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	// Verify we can query it
	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	// Final open should work
	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	// Verify schema is intact
	tables := []string{"sessions", "events", "blobs", "session_blobs"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// First close should succeed
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	// We just verify it doesn't panic
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	db := s.DB()
	if db == nil {
		t.Error("DB() returned nil")
	}

	// Verify it's usable
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

// Schema table tests

func TestSchema_Tables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	tests := []struct {
		table   string
		columns []string
	}{
		{"sessions", []string{"id", "title", "duration", "head", "default_eol", "focus", "created_at", "modified_at"}},
		{"events", []string{"session_id", "id", "clock", "uri", "type", "event"}},
		{"blobs", []string{"hash", "size", "data"}},
		{"session_blobs", []string{"session_id", "hash"}},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			columns := getTableColumns(t, s.db, tt.table)
			if len(columns) != len(tt.columns) {
				t.Errorf("%s has %d columns %v, want %d", tt.table, len(columns), columns, len(tt.columns))
			}
			for _, col := range tt.columns {
				if !contains(columns, col) {
					t.Errorf("%s table missing column %q", tt.table, col)
				}
			}
		})
	}
}

func TestSchema_EventsIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	indexes := getTableIndexes(t, s.db, "events")
	for _, idx := range []string{"idx_events_order", "idx_events_uri"} {
		if !contains(indexes, idx) {
			t.Errorf("events table missing index %q, got %v", idx, indexes)
		}
	}
}

// Constraint tests

func insertSessionRow(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO sessions (id, title, duration, head, default_eol, focus, created_at, modified_at)
		VALUES (?, 'test', 0, '{}', 'lf', '{}', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')
	`, id)
	if err != nil {
		t.Fatalf("insert session %q: %v", id, err)
	}
}

func TestConstraint_EventRequiresSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	_, err = s.db.Exec(`
		INSERT INTO events (session_id, id, clock, uri, type, event)
		VALUES ('missing', 1, 0, 'workspace:a.txt', 'save', '{}')
	`)
	if err == nil {
		t.Error("expected foreign key violation for event without session")
	}
}

func TestConstraint_EventClockNonNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	insertSessionRow(t, s.db, "s1")
	_, err = s.db.Exec(`
		INSERT INTO events (session_id, id, clock, uri, type, event)
		VALUES ('s1', 1, -0.5, 'workspace:a.txt', 'save', '{}')
	`)
	if err == nil {
		t.Error("expected CHECK violation for negative clock")
	}
}

func TestConstraint_EventIDUniquePerSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	insertSessionRow(t, s.db, "s1")
	insertSessionRow(t, s.db, "s2")

	insert := `INSERT INTO events (session_id, id, clock, uri, type, event) VALUES (?, 1, 0, 'workspace:a.txt', 'save', '{}')`
	if _, err := s.db.Exec(insert, "s1"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := s.db.Exec(insert, "s1"); err == nil {
		t.Error("expected primary key violation for duplicate event id")
	}
	// Same id in another session is fine.
	if _, err := s.db.Exec(insert, "s2"); err != nil {
		t.Errorf("insert into second session failed: %v", err)
	}
}

func TestConstraint_DeleteSessionCascades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	insertSessionRow(t, s.db, "s1")
	if _, err := s.db.Exec(`
		INSERT INTO events (session_id, id, clock, uri, type, event)
		VALUES ('s1', 1, 0, 'workspace:a.txt', 'save', '{}')
	`); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO session_blobs (session_id, hash) VALUES ('s1', 'abc')`); err != nil {
		t.Fatalf("insert blob ref: %v", err)
	}

	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = 's1'`); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	for _, table := range []string{"events", "session_blobs"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s has %d rows after session delete, want 0", table, count)
		}
	}
}

func TestConstraint_DefaultEOL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, title, duration, head, default_eol, focus, created_at, modified_at)
		VALUES ('s1', 't', 0, '{}', 'cr', '{}', '', '')
	`)
	if err == nil {
		t.Error("expected CHECK violation for unknown end of line")
	}
}

// Schema version tests

func TestOpen_SetsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Reopening keeps the version and the data.
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}

		var version int
		if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			t.Fatalf("failed to get user_version: %v", err)
		}
		if version != schemaVersion {
			t.Errorf("iteration %d: user_version = %d, want %d", i, version, schemaVersion)
		}

		s.Close()
	}
}

func TestOpen_RejectsNewerLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion+1)); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	s.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrNewerLibrary) {
		t.Fatalf("Open() error = %v, want ErrNewerLibrary", err)
	}
}

func TestOpen_RejectsForeignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE sessions (id TEXT PRIMARY KEY, user TEXT)"); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	db.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrNotLibrary) {
		t.Fatalf("Open() error = %v, want ErrNotLibrary", err)
	}

	// The foreign table is left alone.
	db, err = sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	defer db.Close()
	columns := getTableColumns(t, db, "sessions")
	if !contains(columns, "user") || contains(columns, "title") {
		t.Errorf("sessions columns changed: %v", columns)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
