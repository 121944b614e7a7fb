package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// ItemStore maps remote API entities to local WordPress objects and detects
// orphans by sync session.
//
// All registry data is partitioned logically by api_token; every query here
// that spans rows filters on it. Orphan sweeps act on rows whose
// last_sync_session differs from the running pass's session - the store
// reports them, the orchestrator decides what happens to the WordPress
// object, and only an explicit delete removes the row.
type ItemStore struct {
	db     *DB
	logger *log.Logger
}

// NewItemStore creates an item store on db. A nil logger falls back to the
// default logger.
func NewItemStore(db *DB, logger *log.Logger) *ItemStore {
	if logger == nil {
		logger = log.Default()
	}
	return &ItemStore{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts or updates the mapping for one remote identity.
//
// The statement is a single atomic insert-or-update keyed by the uniqueness
// constraint, so racing writers cannot produce duplicate identities. On
// conflict the current mapping fields are overwritten; created_at and the
// identity key never are.
//
// Preconditions (ErrInvalidInput, no mutation): valid item type, api id and
// wordpress id positive, api token non-empty. The sync hash is truncated to
// the column bound; an empty wordpress type defaults to post.
func (s *ItemStore) Upsert(m Mapping) error {
	return s.UpsertContext(context.Background(), m)
}

// UpsertContext inserts or updates a mapping with context support.
func (s *ItemStore) UpsertContext(ctx context.Context, m Mapping) error {
	if err := m.validate(); err != nil {
		return err
	}
	if m.WordPressType == "" {
		m.WordPressType = WPPost
	}
	if m.ProcedureAPIID < 0 {
		m.ProcedureAPIID = 0
	}

	now := formatTime(time.Now())
	query := `
	INSERT INTO sync_registry (
		item_type, api_id, wordpress_id, wordpress_type, api_token,
		property_id, procedure_api_id, sync_hash, last_synced,
		last_sync_session, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(item_type, api_id, api_token, procedure_api_id) DO UPDATE SET
		wordpress_id = excluded.wordpress_id,
		wordpress_type = excluded.wordpress_type,
		property_id = excluded.property_id,
		sync_hash = excluded.sync_hash,
		last_synced = excluded.last_synced,
		last_sync_session = excluded.last_sync_session
	`
	_, err := s.db.conn.ExecContext(ctx, query,
		string(m.ItemType),
		m.APIID,
		m.WordPressID,
		string(m.WordPressType),
		m.APIToken,
		m.PropertyID,
		m.ProcedureAPIID,
		truncate(m.SyncHash, MaxSyncHashLen),
		now,
		truncate(m.SessionID, MaxSessionLen),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %d: %w", m.ItemType, m.APIID, err)
	}
	return nil
}

// Get looks up one mapping by its identity key.
// ErrNotFound means the identity has never been mapped. A zero
// procedureAPIID is the "no procedure context" identity.
func (s *ItemStore) Get(itemType ItemType, apiID int64, apiToken string, procedureAPIID int64) (*Item, error) {
	return s.GetContext(context.Background(), itemType, apiID, apiToken, procedureAPIID)
}

// GetContext looks up one mapping with context support.
func (s *ItemStore) GetContext(ctx context.Context, itemType ItemType, apiID int64, apiToken string, procedureAPIID int64) (*Item, error) {
	if !itemType.Valid() {
		return nil, fmt.Errorf("item type %q: %w", string(itemType), ErrInvalidInput)
	}
	if apiID <= 0 {
		return nil, fmt.Errorf("api id %d: %w", apiID, ErrInvalidInput)
	}
	if apiToken == "" {
		return nil, fmt.Errorf("empty api token: %w", ErrInvalidInput)
	}
	if procedureAPIID < 0 {
		procedureAPIID = 0
	}

	query := itemSelectColumns + `
	WHERE item_type = ? AND api_id = ? AND api_token = ? AND procedure_api_id = ?
	`
	row := s.db.conn.QueryRowContext(ctx, query,
		string(itemType), apiID, apiToken, procedureAPIID)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", itemType, apiID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// FindOrphans returns every row for the tenant whose last_sync_session
// differs from session - entities seen by an earlier pass but absent from
// the current one. An empty itemType spans all types.
func (s *ItemStore) FindOrphans(session, apiToken string, itemType ItemType) ([]Item, error) {
	return s.FindOrphansContext(context.Background(), session, apiToken, itemType)
}

// FindOrphansContext enumerates orphans with context support.
func (s *ItemStore) FindOrphansContext(ctx context.Context, session, apiToken string, itemType ItemType) ([]Item, error) {
	if session == "" {
		return nil, fmt.Errorf("empty session: %w", ErrInvalidInput)
	}
	if apiToken == "" {
		return nil, fmt.Errorf("empty api token: %w", ErrInvalidInput)
	}
	if itemType != "" && !itemType.Valid() {
		return nil, fmt.Errorf("item type %q: %w", string(itemType), ErrInvalidInput)
	}

	query := itemSelectColumns + `
	WHERE api_token = ? AND last_sync_session != ?
	`
	args := []interface{}{apiToken, session}

	if itemType != "" {
		query += ` AND item_type = ?`
		args = append(args, string(itemType))
	}
	query += ` ORDER BY item_type ASC, api_id ASC`

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphans: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// LatestSession returns the session stamped by the tenant's most recent
// write. ErrNotFound means the tenant has no rows yet. Rows outside that
// session are the tenant's current orphan candidates.
func (s *ItemStore) LatestSession(apiToken string) (string, error) {
	return s.LatestSessionContext(context.Background(), apiToken)
}

// LatestSessionContext looks up the newest session with context support.
func (s *ItemStore) LatestSessionContext(ctx context.Context, apiToken string) (string, error) {
	if apiToken == "" {
		return "", fmt.Errorf("empty api token: %w", ErrInvalidInput)
	}

	var session string
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT last_sync_session FROM sync_registry WHERE api_token = ? ORDER BY last_synced DESC, id DESC LIMIT 1`,
		apiToken).Scan(&session)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("tenant has no registry rows: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest session: %w", err)
	}
	return session, nil
}

// DeleteByIDs removes rows by primary key and returns how many went.
// Input is deduplicated and non-positive ids are dropped; an empty result
// after filtering is a no-op, not an error.
func (s *ItemStore) DeleteByIDs(ids []int64) (int64, error) {
	return s.DeleteByIDsContext(context.Background(), ids)
}

// DeleteByIDsContext bulk-deletes rows with context support.
func (s *ItemStore) DeleteByIDsContext(ctx context.Context, ids []int64) (int64, error) {
	seen := make(map[int64]bool, len(ids))
	clean := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clean)), ",")
	query := `DELETE FROM sync_registry WHERE id IN (` + placeholders + `)`

	args := make([]interface{}, len(clean))
	for i, id := range clean {
		args[i] = id
	}

	res, err := s.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete registry rows: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return deleted, nil
}

// DeleteByWordPressObject removes the mapping(s) pointing at a local object
// that was deleted out-of-band (an editor trashing a post). Returns true
// when at least one row went.
func (s *ItemStore) DeleteByWordPressObject(wordpressID int64, wordpressType WordPressType) (bool, error) {
	return s.DeleteByWordPressObjectContext(context.Background(), wordpressID, wordpressType)
}

// DeleteByWordPressObjectContext removes mappings with context support.
func (s *ItemStore) DeleteByWordPressObjectContext(ctx context.Context, wordpressID int64, wordpressType WordPressType) (bool, error) {
	if wordpressID <= 0 {
		return false, fmt.Errorf("wordpress id %d: %w", wordpressID, ErrInvalidInput)
	}
	if !wordpressType.Valid() {
		return false, fmt.Errorf("wordpress type %q: %w", string(wordpressType), ErrInvalidInput)
	}

	res, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM sync_registry WHERE wordpress_id = ? AND wordpress_type = ?`,
		wordpressID, string(wordpressType))
	if err != nil {
		return false, fmt.Errorf("failed to delete by wordpress object: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return deleted > 0, nil
}

// StatsByType returns grouped row counts per item type plus a total.
func (s *ItemStore) StatsByType() (*RegistryStats, error) {
	return s.StatsByTypeContext(context.Background())
}

// StatsByTypeContext returns grouped counts with context support.
func (s *ItemStore) StatsByTypeContext(ctx context.Context) (*RegistryStats, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT item_type, COUNT(*) FROM sync_registry GROUP BY item_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count registry rows: %w", err)
	}
	defer rows.Close()

	stats := &RegistryStats{
		ByType: make(map[ItemType]int64),
	}
	for rows.Next() {
		var itemType string
		var count int64
		if err := rows.Scan(&itemType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan registry count: %w", err)
		}
		stats.ByType[ItemType(itemType)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registry counts: %w", err)
	}
	return stats, nil
}

const itemSelectColumns = `
	SELECT id, item_type, api_id, wordpress_id, wordpress_type, api_token,
	       property_id, procedure_api_id, sync_hash, last_synced,
	       last_sync_session, created_at
	FROM sync_registry
`

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var itemType, wordpressType string
	var lastSynced, createdAt string

	err := row.Scan(
		&item.ID,
		&itemType,
		&item.APIID,
		&item.WordPressID,
		&wordpressType,
		&item.APIToken,
		&item.PropertyID,
		&item.ProcedureAPIID,
		&item.SyncHash,
		&lastSynced,
		&item.LastSyncSession,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	item.ItemType = ItemType(itemType)
	item.WordPressType = WordPressType(wordpressType)

	synced, err := parseTime(lastSynced)
	if err != nil {
		return nil, err
	}
	item.LastSynced = synced

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = created

	return &item, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registry row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registry rows: %w", err)
	}
	return items, nil
}
