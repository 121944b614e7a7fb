package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ImportResult summarizes an ImportJSONL pass.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// ExportJSONL streams every registry row to w as one JSON object per line,
// ordered by id. Returns the number of rows written.
//
// The export carries full row state (session, hash, created_at) so a later
// import restores orphan-detection state faithfully.
func (s *ItemStore) ExportJSONL(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.db.conn.QueryContext(ctx, itemSelectColumns+` ORDER BY id ASC`)
	if err != nil {
		return 0, fmt.Errorf("failed to query registry for export: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			return i, fmt.Errorf("failed to encode registry row %d: %w", items[i].ID, err)
		}
	}
	return len(items), nil
}

// ImportJSONL reads JSON-line records produced by ExportJSONL and writes
// them into the registry.
//
// Existing identities are overwritten with the imported mapping state
// (including last_sync_session and last_synced); created_at is preserved
// for rows that already exist and taken from the record for new ones.
// Invalid lines are skipped and reported in the result, not fatal - a
// partially bad backup restores what it can.
func (s *ItemStore) ImportJSONL(ctx context.Context, r io.Reader) (*ImportResult, error) {
	result := &ImportResult{}
	dec := json.NewDecoder(r)

	for line := 1; ; line++ {
		var item Item
		if err := dec.Decode(&item); err != nil {
			if err == io.EOF {
				break
			}
			return result, fmt.Errorf("invalid JSON at record %d: %w", line, err)
		}

		if err := s.importRow(ctx, &item); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors,
				fmt.Sprintf("record %d (%s %d): %v", line, item.ItemType, item.APIID, err))
			continue
		}
		result.Imported++
	}

	if result.Skipped > 0 {
		s.logger.Printf("registry import: %d rows imported, %d skipped", result.Imported, result.Skipped)
	}
	return result, nil
}

// importRow restores one exported row, keeping its recorded timestamps and
// session rather than stamping fresh ones.
func (s *ItemStore) importRow(ctx context.Context, item *Item) error {
	m := Mapping{
		ItemType:       item.ItemType,
		APIID:          item.APIID,
		WordPressID:    item.WordPressID,
		WordPressType:  item.WordPressType,
		APIToken:       item.APIToken,
		PropertyID:     item.PropertyID,
		ProcedureAPIID: item.ProcedureAPIID,
	}
	if err := m.validate(); err != nil {
		return err
	}
	if item.WordPressType == "" {
		item.WordPressType = WPPost
	}

	lastSynced := item.LastSynced
	if lastSynced.IsZero() {
		lastSynced = time.Now()
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = lastSynced
	}

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
		string(item.ItemType),
		item.APIID,
		item.WordPressID,
		string(item.WordPressType),
		item.APIToken,
		item.PropertyID,
		item.ProcedureAPIID,
		truncate(item.SyncHash, MaxSyncHashLen),
		formatTime(lastSynced),
		truncate(item.LastSyncSession, MaxSessionLen),
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to restore registry row: %w", err)
	}
	return nil
}
