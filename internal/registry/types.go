package registry

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Sentinel errors returned by the stores. Callers are expected to test with
// errors.Is and continue; nothing past Open is fatal.
var (
	// ErrInvalidInput marks a rejected input (bad enum value, non-positive
	// id, empty required string). The store performs no mutation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a lookup that matched no row.
	ErrNotFound = errors.New("not found")
)

// Storage bounds for text columns.
const (
	// MaxErrorMessageBytes is the size of the error_messages column.
	// Longer input is truncated, never rejected.
	MaxErrorMessageBytes = 65535

	// MaxSyncHashLen is the length of a content fingerprint (MD5 hex).
	MaxSyncHashLen = 32

	// MaxSessionLen is the length of the last_sync_session column.
	MaxSessionLen = 64
)

// LegacySession marks registry rows copied from the deprecated case_map
// table. Rows carrying it are treated as orphans by the first completed
// full pass after migration.
const LegacySession = "legacy-migration"

// SyncType classifies a sync run. The stage types exist so a long full sync
// can be split into resumable chunks.
type SyncType string

const (
	SyncFull    SyncType = "full"
	SyncPartial SyncType = "partial"
	SyncSingle  SyncType = "single"
	SyncStage1  SyncType = "stage_1"
	SyncStage2  SyncType = "stage_2"
	SyncStage3  SyncType = "stage_3"
)

// Valid reports whether t is a member of the closed sync-type set.
func (t SyncType) Valid() bool {
	switch t {
	case SyncFull, SyncPartial, SyncSingle, SyncStage1, SyncStage2, SyncStage3:
		return true
	}
	return false
}

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	StatusStarted   SyncStatus = "started"
	StatusCompleted SyncStatus = "completed"
	StatusFailed    SyncStatus = "failed"
)

// Valid reports whether s is a member of the closed status set.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is an allowed finishing state.
func (s SyncStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SyncSource records what triggered a run.
type SyncSource string

const (
	SourceManual    SyncSource = "manual"
	SourceAutomatic SyncSource = "automatic"
	SourceCron      SyncSource = "cron"
	SourceRESTAPI   SyncSource = "rest_api"
)

// Valid reports whether s is a member of the closed source set.
func (s SyncSource) Valid() bool {
	switch s {
	case SourceManual, SourceAutomatic, SourceCron, SourceRESTAPI:
		return true
	}
	return false
}

// ItemType classifies what kind of remote entity a registry row maps.
type ItemType string

const (
	ItemCase      ItemType = "case"
	ItemProcedure ItemType = "procedure"
	ItemDoctor    ItemType = "doctor"
)

// Valid reports whether t is a member of the closed item-type set.
func (t ItemType) Valid() bool {
	switch t {
	case ItemCase, ItemProcedure, ItemDoctor:
		return true
	}
	return false
}

// WordPressType is the kind of local WordPress object a row maps to.
type WordPressType string

const (
	WPPost WordPressType = "post"
	WPTerm WordPressType = "term"
)

// Valid reports whether t is a member of the closed WordPress-type set.
func (t WordPressType) Valid() bool {
	switch t {
	case WPPost, WPTerm:
		return true
	}
	return false
}

// LogEntry is one recorded sync run.
//
// CompletedAt is nil exactly while SyncStatus is "started"; Finish sets it
// together with the terminal status.
type LogEntry struct {
	ID             int64      `json:"id"`
	SyncType       SyncType   `json:"sync_type"`
	SyncStatus     SyncStatus `json:"sync_status"`
	SyncSource     SyncSource `json:"sync_source"`
	ItemsProcessed int64      `json:"items_processed"`
	ItemsFailed    int64      `json:"items_failed"`
	ErrorMessages  string     `json:"error_messages,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Item is one registry row: the current mapping from a remote entity
// identity to a local WordPress object.
//
// The identity key is (ItemType, APIID, APIToken, ProcedureAPIID). Everything
// else is overwritten on re-sync; CreatedAt records the first time the
// identity was seen and never changes.
type Item struct {
	ID              int64         `json:"id"`
	ItemType        ItemType      `json:"item_type"`
	APIID           int64         `json:"api_id"`
	WordPressID     int64         `json:"wordpress_id"`
	WordPressType   WordPressType `json:"wordpress_type"`
	APIToken        string        `json:"api_token"`
	PropertyID      int64         `json:"property_id"`
	ProcedureAPIID  int64         `json:"procedure_api_id"`
	SyncHash        string        `json:"sync_hash,omitempty"`
	LastSynced      time.Time     `json:"last_synced"`
	LastSyncSession string        `json:"last_sync_session"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Mapping is the input to ItemStore.Upsert: one observed remote entity and
// the local object it now maps to.
type Mapping struct {
	ItemType       ItemType
	APIID          int64
	WordPressID    int64
	WordPressType  WordPressType
	APIToken       string
	PropertyID     int64
	ProcedureAPIID int64
	SyncHash       string
	SessionID      string
}

func (m *Mapping) validate() error {
	if !m.ItemType.Valid() {
		return fmt.Errorf("item type %q: %w", string(m.ItemType), ErrInvalidInput)
	}
	if m.APIID <= 0 {
		return fmt.Errorf("api id %d: %w", m.APIID, ErrInvalidInput)
	}
	if m.WordPressID <= 0 {
		return fmt.Errorf("wordpress id %d: %w", m.WordPressID, ErrInvalidInput)
	}
	if m.APIToken == "" {
		return fmt.Errorf("empty api token: %w", ErrInvalidInput)
	}
	if m.WordPressType != "" && !m.WordPressType.Valid() {
		return fmt.Errorf("wordpress type %q: %w", string(m.WordPressType), ErrInvalidInput)
	}
	return nil
}

// LogStats is the aggregate view over the sync log plus the mapped case
// count, computed fresh on every call.
type LogStats struct {
	TotalRuns      int64      `json:"total_runs"`
	SuccessfulRuns int64      `json:"successful_runs"`
	FailedRuns     int64      `json:"failed_runs"`
	TotalCases     int64      `json:"total_cases"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}

// RegistryStats holds grouped registry counts per item type.
type RegistryStats struct {
	ByType map[ItemType]int64 `json:"by_type"`
	Total  int64              `json:"total"`
}

// truncate bounds s to at most n bytes, backing off to a rune boundary so a
// multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
