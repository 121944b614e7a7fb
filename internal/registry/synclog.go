package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Recent limit bounds. Out-of-range requests are clamped, never rejected.
const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

// Retention bounds for CleanupOlderThan, in days.
const (
	minCleanupDays = 1
	maxCleanupDays = 365
)

// LogStore records discrete sync runs and answers history/statistics
// queries. Failures surface as wrapped sentinel errors so orchestration can
// log and continue; a sync must terminate cleanly even when logging fails.
type LogStore struct {
	db     *DB
	logger *log.Logger
}

// NewLogStore creates a log store on db. A nil logger falls back to the
// default logger.
func NewLogStore(db *DB, logger *log.Logger) *LogStore {
	if logger == nil {
		logger = log.Default()
	}
	return &LogStore{
		db:     db,
		logger: logger,
	}
}

// Start inserts a new run in the 'started' state and returns its id.
//
// Both enums are validated against their closed sets; ErrInvalidInput means
// no row was inserted.
func (s *LogStore) Start(syncType SyncType, source SyncSource) (int64, error) {
	return s.StartContext(context.Background(), syncType, source)
}

// StartContext inserts a new run with context support.
func (s *LogStore) StartContext(ctx context.Context, syncType SyncType, source SyncSource) (int64, error) {
	if !syncType.Valid() {
		return 0, fmt.Errorf("sync type %q: %w", string(syncType), ErrInvalidInput)
	}
	if !source.Valid() {
		return 0, fmt.Errorf("sync source %q: %w", string(source), ErrInvalidInput)
	}

	query := `
	INSERT INTO sync_log (sync_type, sync_status, sync_source, started_at)
	VALUES (?, ?, ?, ?)
	`
	res, err := s.db.conn.ExecContext(ctx, query,
		string(syncType),
		string(StatusStarted),
		string(source),
		formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to start sync log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync log id: %w", err)
	}
	return id, nil
}

// Finish moves a run to its terminal state, recording counts and errors.
//
// Status must be completed or failed; completed_at is set together with it,
// keeping the lifecycle invariant (completed_at iff terminal). Error text
// beyond the column bound is truncated. Negative counts are stored as zero.
// ErrNotFound means no run with that id exists.
func (s *LogStore) Finish(id int64, status SyncStatus, processed, failed int64, errorMessages string) error {
	return s.FinishContext(context.Background(), id, status, processed, failed, errorMessages)
}

// FinishContext moves a run to its terminal state with context support.
func (s *LogStore) FinishContext(ctx context.Context, id int64, status SyncStatus, processed, failed int64, errorMessages string) error {
	if id <= 0 {
		return fmt.Errorf("log id %d: %w", id, ErrInvalidInput)
	}
	if !status.Terminal() {
		return fmt.Errorf("finish status %q: %w", string(status), ErrInvalidInput)
	}
	if processed < 0 {
		processed = 0
	}
	if failed < 0 {
		failed = 0
	}

	msgs := sql.NullString{
		String: truncate(errorMessages, MaxErrorMessageBytes),
		Valid:  errorMessages != "",
	}

	query := `
	UPDATE sync_log
	SET sync_status = ?, items_processed = ?, items_failed = ?,
	    error_messages = ?, completed_at = ?
	WHERE id = ?
	`
	res, err := s.db.conn.ExecContext(ctx, query,
		string(status),
		processed,
		failed,
		msgs,
		formatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync log %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read finish result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sync log %d: %w", id, ErrNotFound)
	}
	return nil
}

// Active returns the most recently started run that has not finished.
// ErrNotFound means no sync is in flight.
func (s *LogStore) Active() (*LogEntry, error) {
	return s.ActiveContext(context.Background())
}

// ActiveContext returns the in-flight run with context support.
func (s *LogStore) ActiveContext(ctx context.Context) (*LogEntry, error) {
	query := logSelectColumns + `
	WHERE sync_status = ?
	ORDER BY started_at DESC, id DESC
	LIMIT 1
	`
	row := s.db.conn.QueryRowContext(ctx, query, string(StatusStarted))

	entry, err := scanLogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active sync: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Recent returns up to limit runs, most recent start first.
// The limit is clamped silently: non-positive becomes the default, values
// above the maximum become the maximum.
func (s *LogStore) Recent(limit int) ([]LogEntry, error) {
	return s.RecentContext(context.Background(), limit)
}

// RecentContext returns recent runs with context support.
func (s *LogStore) RecentContext(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := logSelectColumns + `
	ORDER BY started_at DESC, id DESC
	LIMIT ?
	`
	rows, err := s.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sync logs: %w", err)
	}
	defer rows.Close()

	return scanLogEntries(rows)
}

// Stats aggregates the sync log and the mapped case count. Computed fresh
// on every call; callers that need caching layer it above this store.
func (s *LogStore) Stats() (*LogStats, error) {
	return s.StatsContext(context.Background())
}

// StatsContext aggregates sync statistics with context support.
func (s *LogStore) StatsContext(ctx context.Context) (*LogStats, error) {
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN sync_status = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN sync_status = 'failed' THEN 1 ELSE 0 END), 0),
		MAX(started_at)
	FROM sync_log
	`
	var stats LogStats
	var lastRun sql.NullString
	err := s.db.conn.QueryRowContext(ctx, query).Scan(
		&stats.TotalRuns,
		&stats.SuccessfulRuns,
		&stats.FailedRuns,
		&lastRun,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sync log: %w", err)
	}
	stats.LastRunAt = nullStringToTime(lastRun)

	caseQuery := `SELECT COUNT(*) FROM sync_registry WHERE item_type = ?`
	err = s.db.conn.QueryRowContext(ctx, caseQuery, string(ItemCase)).Scan(&stats.TotalCases)
	if err != nil {
		return nil, fmt.Errorf("failed to count mapped cases: %w", err)
	}

	return &stats, nil
}

// CleanupOlderThan deletes runs whose start predates now minus days and
// returns how many were removed. Days are clamped into [1, 365].
func (s *LogStore) CleanupOlderThan(days int) (int64, error) {
	return s.CleanupOlderThanContext(context.Background(), days)
}

// CleanupOlderThanContext runs retention cleanup with context support.
func (s *LogStore) CleanupOlderThanContext(ctx context.Context, days int) (int64, error) {
	if days < minCleanupDays {
		days = minCleanupDays
	}
	if days > maxCleanupDays {
		days = maxCleanupDays
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -days))
	res, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM sync_log WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sync log: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup result: %w", err)
	}

	if deleted > 0 {
		s.logger.Printf("removed %d sync log entries older than %d days", deleted, days)
	}
	return deleted, nil
}

// Truncate removes every sync log entry.
func (s *LogStore) Truncate() error {
	return s.TruncateContext(context.Background())
}

// TruncateContext removes every sync log entry with context support.
func (s *LogStore) TruncateContext(ctx context.Context) error {
	if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM sync_log`); err != nil {
		return fmt.Errorf("failed to truncate sync log: %w", err)
	}
	return nil
}

const logSelectColumns = `
	SELECT id, sync_type, sync_status, sync_source,
	       items_processed, items_failed, error_messages,
	       started_at, completed_at
	FROM sync_log
`

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLogEntry(row rowScanner) (*LogEntry, error) {
	var entry LogEntry
	var syncType, syncStatus, syncSource string
	var errorMessages, completedAt sql.NullString
	var startedAt string

	err := row.Scan(
		&entry.ID,
		&syncType,
		&syncStatus,
		&syncSource,
		&entry.ItemsProcessed,
		&entry.ItemsFailed,
		&errorMessages,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.SyncType = SyncType(syncType)
	entry.SyncStatus = SyncStatus(syncStatus)
	entry.SyncSource = SyncSource(syncSource)
	entry.ErrorMessages = errorMessages.String

	started, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	entry.StartedAt = started
	entry.CompletedAt = nullStringToTime(completedAt)

	return &entry, nil
}

func scanLogEntries(rows *sql.Rows) ([]LogEntry, error) {
	var entries []LogEntry
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return entries, nil
}
