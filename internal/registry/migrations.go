package registry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// migration is one self-contained schema step. Steps must tolerate the
// "table doesn't exist yet" case by skipping: a fresh install creates
// current-version tables directly and never plays migrations.
type migration struct {
	Version string
	Name    string
	Apply   func(ctx context.Context, db *DB) error
}

// migrations are applied in ascending version order for installs older than
// SchemaVersion. Keep the slice sorted.
var migrations = []migration{
	{
		Version: "1.1.0",
		Name:    "add sync_source to sync_log",
		Apply:   migrateAddSyncSource,
	},
	{
		Version: "1.2.0",
		Name:    "replace case_map with unified sync_registry",
		Apply:   migrateLegacyCaseMap,
	},
}

// migrateAddSyncSource adds the sync_source column and its index to
// installs that predate source tracking.
func migrateAddSyncSource(ctx context.Context, db *DB) error {
	exists, err := db.TableExists(ctx, "sync_log")
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	alter := `ALTER TABLE sync_log ADD COLUMN sync_source TEXT NOT NULL DEFAULT 'manual'`
	if _, err := db.conn.ExecContext(ctx, alter); err != nil {
		// Re-running after an interrupted pass hits the added column.
		if !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("failed to add sync_source column: %w", err)
		}
	}

	index := `CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(sync_source)`
	if _, err := db.conn.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("failed to index sync_source: %w", err)
	}

	return nil
}

// migrateLegacyCaseMap replaces the deprecated single-purpose case_map
// table with the unified sync_registry.
//
// Every case_map row is copied in as item_type 'case' under the
// LegacySession marker, so the first full pass after migration re-resolves
// the mappings and sweeps whatever the remote no longer has. The old table
// is dropped only after the copy succeeds; a crash mid-copy leaves case_map
// intact and the step re-runs cleanly (the copy ignores rows that already
// made it across).
func migrateLegacyCaseMap(ctx context.Context, db *DB) error {
	exists, err := db.TableExists(ctx, "case_map")
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	if _, err := db.conn.ExecContext(ctx, createSyncRegistrySQL); err != nil {
		return fmt.Errorf("failed to create sync_registry: %w", err)
	}

	now := formatTime(time.Now())
	copyQuery := `
	INSERT OR IGNORE INTO sync_registry (
		item_type, api_id, wordpress_id, wordpress_type, api_token,
		property_id, procedure_api_id, sync_hash, last_synced,
		last_sync_session, created_at
	)
	SELECT
		'case', api_case_id, post_id, 'post', api_token,
		property_id, 0, '', COALESCE(created_at, ?),
		?, COALESCE(created_at, ?)
	FROM case_map
	`
	if _, err := db.conn.ExecContext(ctx, copyQuery, now, LegacySession, now); err != nil {
		return fmt.Errorf("failed to copy case_map rows: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx, `DROP TABLE case_map`); err != nil {
		return fmt.Errorf("failed to drop case_map: %w", err)
	}

	return nil
}
