package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"golang.org/x/mod/semver"
)

// SchemaVersion is the version the DDL below produces. Bump it together
// with a new entry in migrations when the schema changes.
const SchemaVersion = "1.2.0"

// versionKey is the sync_meta row holding the installed schema version.
const versionKey = "schema_version"

const createSyncLogSQL = `
CREATE TABLE IF NOT EXISTS sync_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sync_type TEXT NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'started',
	sync_source TEXT NOT NULL DEFAULT 'manual',
	items_processed INTEGER NOT NULL DEFAULT 0,
	items_failed INTEGER NOT NULL DEFAULT 0,
	error_messages TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT
);
`

const createSyncRegistrySQL = `
CREATE TABLE IF NOT EXISTS sync_registry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_type TEXT NOT NULL,
	api_id INTEGER NOT NULL,
	wordpress_id INTEGER NOT NULL,
	wordpress_type TEXT NOT NULL DEFAULT 'post',
	api_token TEXT NOT NULL,
	property_id INTEGER NOT NULL DEFAULT 0,
	procedure_api_id INTEGER NOT NULL DEFAULT 0,
	sync_hash TEXT NOT NULL DEFAULT '',
	last_synced TEXT NOT NULL,
	last_sync_session TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	UNIQUE (item_type, api_id, api_token, procedure_api_id)
);
`

const createSyncMetaSQL = `
CREATE TABLE IF NOT EXISTS sync_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const createIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_sync_log_status ON sync_log(sync_status);
CREATE INDEX IF NOT EXISTS idx_sync_log_started ON sync_log(started_at);
CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(sync_source);

CREATE INDEX IF NOT EXISTS idx_sync_registry_wp
    ON sync_registry(wordpress_id, wordpress_type);
CREATE INDEX IF NOT EXISTS idx_sync_registry_session ON sync_registry(last_sync_session);
CREATE INDEX IF NOT EXISTS idx_sync_registry_type ON sync_registry(item_type);
`

// InitSchema creates all tables and indexes if they don't exist.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	for _, stmt := range []string{
		createSyncLogSQL,
		createSyncRegistrySQL,
		createSyncMetaSQL,
		createIndexesSQL,
	} {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// TableExists probes sqlite_master for a table with the given name.
// Used defensively before DDL and queries that assume presence.
func (db *DB) TableExists(ctx context.Context, name string) (bool, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`

	var found string
	err := db.conn.QueryRowContext(ctx, query, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return true, nil
}

// VersionStore is the persisted schema-version marker: a single string,
// readable and writable. The production implementation is a sync_meta row;
// tests substitute a fake to exercise migration gating without DDL.
type VersionStore interface {
	// Version returns the installed schema version, or "" when none is
	// recorded (fresh install).
	Version(ctx context.Context) (string, error)

	// SetVersion records v as the installed schema version.
	SetVersion(ctx context.Context, v string) error
}

// metaVersionStore keeps the version in the sync_meta table.
type metaVersionStore struct {
	db *DB
}

func (s *metaVersionStore) Version(ctx context.Context) (string, error) {
	// A fresh database has no sync_meta table; that is "no version", not
	// an error.
	exists, err := s.db.TableExists(ctx, "sync_meta")
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}

	var v string
	err = s.db.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, versionKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func (s *metaVersionStore) SetVersion(ctx context.Context, v string) error {
	query := `
	INSERT INTO sync_meta (key, value)
	VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value
	`
	if _, err := s.db.conn.ExecContext(ctx, query, versionKey, v); err != nil {
		return fmt.Errorf("failed to store schema version: %w", err)
	}
	return nil
}

// SchemaManager owns table lifecycle: idempotent DDL, version-gated ordered
// migrations, and the version marker.
type SchemaManager struct {
	db       *DB
	versions VersionStore
	logger   *log.Logger
}

// NewSchemaManager creates a schema manager for db. A nil versions falls
// back to the sync_meta-backed store; a nil logger falls back to the
// default logger.
func NewSchemaManager(db *DB, versions VersionStore, logger *log.Logger) *SchemaManager {
	if versions == nil {
		versions = &metaVersionStore{db: db}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SchemaManager{
		db:       db,
		versions: versions,
		logger:   logger,
	}
}

// EnsureSchema brings the database up to SchemaVersion. Safe to call on
// every startup.
//
// A fresh install creates current-version tables directly and never plays
// migrations. An older install runs every migration whose target version
// exceeds the installed one, in ascending order, then re-issues the
// idempotent CREATE statements and persists the new version.
//
// A failed step is logged and returned; the version marker is left alone so
// the next startup retries from the same point. Callers may continue in a
// degraded state and should confirm TableExists before using a store.
func (m *SchemaManager) EnsureSchema(ctx context.Context) error {
	installed, err := m.versions.Version(ctx)
	if err != nil {
		m.logger.Printf("schema version check failed: %v", err)
		return fmt.Errorf("failed to read installed version: %w", err)
	}

	if installed == SchemaVersion {
		return nil
	}

	if installed != "" && compareVersions(installed, SchemaVersion) >= 0 {
		// Downgrades are not supported; leave the newer schema alone.
		m.logger.Printf("installed schema %s is newer than %s, skipping", installed, SchemaVersion)
		return nil
	}

	if installed != "" {
		for _, mig := range migrations {
			if compareVersions(mig.Version, installed) <= 0 {
				continue
			}
			m.logger.Printf("applying schema migration %s (%s)", mig.Version, mig.Name)
			if err := mig.Apply(ctx, m.db); err != nil {
				m.logger.Printf("schema migration %s failed: %v", mig.Version, err)
				return fmt.Errorf("migration %s: %w", mig.Version, err)
			}
		}
	}

	if err := m.db.InitSchemaContext(ctx); err != nil {
		m.logger.Printf("schema create failed: %v", err)
		return err
	}

	if err := m.versions.SetVersion(ctx, SchemaVersion); err != nil {
		m.logger.Printf("schema version store failed: %v", err)
		return err
	}

	return nil
}

// compareVersions compares two bare semantic versions ("1.2.0").
func compareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}
