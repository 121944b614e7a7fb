package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// openTestDB opens a fresh database with the current schema installed.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// TestOpen_Success tests successful database creation
func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if db.RawDB() == nil {
		t.Error("RawDB() returned nil")
	}
}

// TestOpen_CreatesParentDir tests that nested directories are created
func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dirs", "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory was not created: %v", err)
	}
}

// TestOpen_InvalidPath tests the fatal initialization error
func TestOpen_InvalidPath(t *testing.T) {
	// A regular file where a parent directory is needed
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to create blocker file: %v", err)
	}

	_, err := Open(filepath.Join(blocker, "test.db"))
	if err == nil {
		t.Fatal("Open() succeeded with an invalid path")
	}
}

// TestClose_Idempotent tests that Close can be called twice
func TestClose_Idempotent(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

// TestInitSchema_Success tests schema creation
func TestInitSchema_Success(t *testing.T) {
	db := openTestDB(t)

	tables := []string{"sync_log", "sync_registry", "sync_meta"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent
func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

// TestTableExists tests the existence probe
func TestTableExists(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	exists, err := db.TableExists(ctx, "sync_registry")
	if err != nil {
		t.Fatalf("TableExists() failed: %v", err)
	}
	if !exists {
		t.Error("TableExists(sync_registry) = false, want true")
	}

	exists, err = db.TableExists(ctx, "no_such_table")
	if err != nil {
		t.Fatalf("TableExists() failed: %v", err)
	}
	if exists {
		t.Error("TableExists(no_such_table) = true, want false")
	}
}
