package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/casegallery/gallerysync/internal/registry"
)

// RunRecord is one line of the audit file.
type RunRecord struct {
	Time      time.Time           `json:"time"`
	LogID     int64               `json:"log_id"`
	Session   string              `json:"session"`
	Type      registry.SyncType   `json:"sync_type"`
	Source    registry.SyncSource `json:"source"`
	Status    registry.SyncStatus `json:"status"`
	Processed int64               `json:"items_processed"`
	Failed    int64               `json:"items_failed"`
	Orphans   int64               `json:"orphans_found"`
	Deleted   int64               `json:"orphans_deleted"`
	Errors    []string            `json:"errors,omitempty"`
	Duration  time.Duration       `json:"duration_ns"`
}

// maxAuditSize caps the audit file before it rotates into a single .old
// generation. Diagnostics want recent passes, not unbounded history.
const maxAuditSize = 10 << 20

// AuditLog appends one JSON line per pass to a file on disk.
//
// The sync log table truncates long error text; the audit file keeps the
// full per-item error list, so it is the place to look when a pass
// reports dozens of failures.
type AuditLog struct {
	path    string
	maxSize int64
	mu      sync.Mutex
}

// NewAuditLog prepares an audit log at path, creating parent directories
// as needed.
func NewAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}
	return &AuditLog{path: path, maxSize: maxAuditSize}, nil
}

// Path returns the backing file location.
func (a *AuditLog) Path() string {
	return a.path
}

// Record appends the result of one pass.
func (a *AuditLog) Record(res *RunResult, source registry.SyncSource, status registry.SyncStatus) error {
	rec := RunRecord{
		Time:      time.Now().UTC(),
		LogID:     res.LogID,
		Session:   res.Session,
		Type:      res.Type,
		Source:    source,
		Status:    status,
		Processed: res.Processed,
		Failed:    res.Failed,
		Orphans:   res.Orphans,
		Deleted:   res.Deleted,
		Errors:    res.Errors,
		Duration:  res.Duration,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.rotateIfNeeded()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(&rec); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// rotateIfNeeded moves an oversized audit file to its .old generation,
// replacing the previous one. Called with the mutex held. A failed
// rotation is not worth losing the record over; the append proceeds.
func (a *AuditLog) rotateIfNeeded() {
	info, err := os.Stat(a.path)
	if err != nil || info.Size() < a.maxSize {
		return
	}
	_ = os.Rename(a.path, a.path+".old")
}

// Recent returns the last n records, newest first. A missing file is an
// empty history, not an error.
func (a *AuditLog) Recent(n int) ([]RunRecord, error) {
	if n <= 0 {
		n = 10
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var records []RunRecord
	dec := json.NewDecoder(f)
	for {
		var rec RunRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("corrupt audit record: %w", err)
		}
		records = append(records, rec)
	}

	if len(records) > n {
		records = records[len(records)-n:]
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
