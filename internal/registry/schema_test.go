package registry

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
)

// fakeVersionStore lets schema tests control the installed version without
// touching sync_meta.
type fakeVersionStore struct {
	version  string
	setCalls []string
	getErr   error
}

func (f *fakeVersionStore) Version(ctx context.Context) (string, error) {
	return f.version, f.getErr
}

func (f *fakeVersionStore) SetVersion(ctx context.Context, v string) error {
	f.version = v
	f.setCalls = append(f.setCalls, v)
	return nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// TestEnsureSchema_FreshInstall tests that a fresh database gets current
// tables and a version marker, without playing migrations
func TestEnsureSchema_FreshInstall(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	mgr := NewSchemaManager(db, nil, testLogger())
	if err := mgr.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}

	for _, table := range []string{"sync_log", "sync_registry", "sync_meta"} {
		exists, err := db.TableExists(context.Background(), table)
		if err != nil {
			t.Fatalf("TableExists(%s) failed: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s missing after fresh install", table)
		}
	}

	var version string
	err = db.conn.QueryRow(`SELECT value FROM sync_meta WHERE key = ?`, versionKey).Scan(&version)
	if err != nil {
		t.Fatalf("failed to read stored version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("stored version = %q, want %q", version, SchemaVersion)
	}
}

// TestEnsureSchema_Idempotent tests that repeated calls are no-ops that
// preserve data
func TestEnsureSchema_Idempotent(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	mgr := NewSchemaManager(db, nil, testLogger())
	ctx := context.Background()

	if err := mgr.EnsureSchema(ctx); err != nil {
		t.Fatalf("first EnsureSchema() failed: %v", err)
	}

	items := NewItemStore(db, testLogger())
	if err := items.Upsert(Mapping{
		ItemType: ItemCase, APIID: 101, WordPressID: 900,
		APIToken: "tok", SessionID: "s1",
	}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	if err := mgr.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema() failed: %v", err)
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sync_registry`).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("row count after second EnsureSchema = %d, want 1", count)
	}
}

// TestEnsureSchema_CurrentVersionSkipsDDL tests the version gate: when the
// installed version already matches, no DDL runs at all
func TestEnsureSchema_CurrentVersionSkipsDDL(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	fake := &fakeVersionStore{version: SchemaVersion}
	mgr := NewSchemaManager(db, fake, testLogger())

	if err := mgr.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}

	exists, err := db.TableExists(context.Background(), "sync_log")
	if err != nil {
		t.Fatalf("TableExists() failed: %v", err)
	}
	if exists {
		t.Error("DDL ran despite current version")
	}
	if len(fake.setCalls) != 0 {
		t.Errorf("SetVersion called %d times, want 0", len(fake.setCalls))
	}
}

// TestEnsureSchema_NewerVersionSkips tests that downgrades leave the newer
// schema alone
func TestEnsureSchema_NewerVersionSkips(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	fake := &fakeVersionStore{version: "9.9.9"}
	mgr := NewSchemaManager(db, fake, testLogger())

	if err := mgr.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}
	if len(fake.setCalls) != 0 {
		t.Errorf("SetVersion called %d times, want 0", len(fake.setCalls))
	}
}

// TestEnsureSchema_VersionReadFailure tests that a broken version store
// surfaces as a degraded-state error
func TestEnsureSchema_VersionReadFailure(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	fake := &fakeVersionStore{getErr: errors.New("option table offline")}
	mgr := NewSchemaManager(db, fake, testLogger())

	if err := mgr.EnsureSchema(context.Background()); err == nil {
		t.Fatal("EnsureSchema() succeeded with a failing version store")
	}
}

// TestEnsureSchema_FailedMigrationKeepsVersion tests that a failing step
// leaves the version marker untouched so the next startup retries
func TestEnsureSchema_FailedMigrationKeepsVersion(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	saved := migrations
	defer func() { migrations = saved }()
	migrations = []migration{
		{
			Version: "1.1.0",
			Name:    "always fails",
			Apply: func(ctx context.Context, db *DB) error {
				return errors.New("boom")
			},
		},
	}

	fake := &fakeVersionStore{version: "1.0.0"}
	mgr := NewSchemaManager(db, fake, testLogger())

	if err := mgr.EnsureSchema(context.Background()); err == nil {
		t.Fatal("EnsureSchema() succeeded despite failing migration")
	}
	if len(fake.setCalls) != 0 {
		t.Errorf("SetVersion called %d times after failed migration, want 0", len(fake.setCalls))
	}
	if fake.version != "1.0.0" {
		t.Errorf("version = %q after failed migration, want 1.0.0", fake.version)
	}
}

// TestMetaVersionStore_RoundTrip tests the sync_meta-backed store
func TestMetaVersionStore_RoundTrip(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	store := &metaVersionStore{db: db}
	ctx := context.Background()

	// Fresh database: no table means no version, not an error
	v, err := store.Version(ctx)
	if err != nil {
		t.Fatalf("Version() on fresh db failed: %v", err)
	}
	if v != "" {
		t.Errorf("Version() on fresh db = %q, want empty", v)
	}

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	if err := store.SetVersion(ctx, "1.1.0"); err != nil {
		t.Fatalf("SetVersion() failed: %v", err)
	}
	if err := store.SetVersion(ctx, "1.2.0"); err != nil {
		t.Fatalf("second SetVersion() failed: %v", err)
	}

	v, err = store.Version(ctx)
	if err != nil {
		t.Fatalf("Version() failed: %v", err)
	}
	if v != "1.2.0" {
		t.Errorf("Version() = %q, want 1.2.0", v)
	}
}

// TestCompareVersions tests bare semver ordering
func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.2.0", -1},
		{"1.2.0", "1.2.0", 0},
		{"1.10.0", "1.2.0", 1},
		{"0.9.9", "1.0.0", -1},
	}
	for _, tc := range cases {
		if got := compareVersions(tc.a, tc.b); got != tc.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
