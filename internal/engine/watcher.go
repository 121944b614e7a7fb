package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/casegallery/gallerysync/internal/registry"
)

// triggerSuffix marks files in the spool directory that request a sync.
const triggerSuffix = ".trigger"

// TriggerRequest is the optional JSON body of a trigger file. An empty
// file requests a full sync.
type TriggerRequest struct {
	Type     registry.SyncType `json:"sync_type,omitempty"`
	CaseID   int64             `json:"case_id,omitempty"`
	APIToken string            `json:"api_token,omitempty"`
}

// TriggerEvent is an observed sync request from the spool directory.
type TriggerEvent struct {
	// Path is the trigger file that requested the sync.
	Path string
	// Request is the parsed body of the trigger file.
	Request TriggerRequest
}

// TriggerWatcher watches a spool directory for *.trigger files. Other
// processes (the WordPress plugin's admin page, deploy hooks) request a
// sync by dropping a file there; the watcher consumes the file and emits
// the request.
type TriggerWatcher struct {
	watcher  *fsnotify.Watcher
	events   chan TriggerEvent
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	spoolDir string
	logger   *log.Logger
}

// NewTriggerWatcher creates a watcher. It must be started with Start()
// before it emits events. A nil logger falls back to the process default.
func NewTriggerWatcher(logger *log.Logger) (*TriggerWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	return &TriggerWatcher{
		watcher: watcher,
		events:  make(chan TriggerEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Start begins watching the spool directory, creating it if missing.
// Trigger files already present when the watcher starts are consumed
// immediately, so requests dropped while the daemon was down are not
// lost.
func (tw *TriggerWatcher) Start(spoolDir string) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.running {
		return fmt.Errorf("watcher already running")
	}
	if spoolDir == "" {
		return fmt.Errorf("spool directory is required")
	}

	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory %s: %w", spoolDir, err)
	}
	tw.spoolDir = spoolDir

	if err := tw.watcher.Add(spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory %s: %w", spoolDir, err)
	}

	tw.running = true
	tw.wg.Add(1)
	go tw.processEvents()

	tw.drainExisting()
	return nil
}

// Stop stops watching and cleans up resources. It blocks until the event
// processing goroutine has exited.
func (tw *TriggerWatcher) Stop() error {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		return nil
	}
	tw.running = false
	tw.mu.Unlock()

	close(tw.done)

	if err := tw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	tw.wg.Wait()

	close(tw.events)
	close(tw.errors)

	return nil
}

// Events returns the channel that emits trigger requests.
// This channel is closed when the watcher is stopped.
func (tw *TriggerWatcher) Events() <-chan TriggerEvent {
	return tw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (tw *TriggerWatcher) Errors() <-chan error {
	return tw.errors
}

// IsRunning returns true if the watcher is currently running.
func (tw *TriggerWatcher) IsRunning() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.running
}

// drainExisting consumes trigger files that predate the watcher.
func (tw *TriggerWatcher) drainExisting() {
	entries, err := os.ReadDir(tw.spoolDir)
	if err != nil {
		tw.logger.Printf("warning: failed to scan spool directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), triggerSuffix) {
			continue
		}
		tw.emit(tw.spoolDir + string(os.PathSeparator) + entry.Name())
	}
}

// processEvents is the main loop converting fsnotify events into trigger
// requests.
func (tw *TriggerWatcher) processEvents() {
	defer tw.wg.Done()

	for {
		select {
		case <-tw.done:
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if tw.shouldHandle(event) {
				tw.emit(event.Name)
			}

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case tw.errors <- err:
			case <-tw.done:
				return
			}
		}
	}
}

// shouldHandle filters the raw event stream down to new trigger files.
// Removes are the watcher's own consumption and renames are editor
// temp-file churn; only create and write matter.
func (tw *TriggerWatcher) shouldHandle(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, triggerSuffix) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}

// emit reads, deletes, and publishes one trigger file. A create followed
// by a write fires twice; the first emit consumes the file and the
// second finds it gone and does nothing.
func (tw *TriggerWatcher) emit(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			tw.logger.Printf("warning: failed to read trigger %s: %v", path, err)
		}
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		tw.logger.Printf("warning: failed to remove trigger %s: %v", path, err)
	}

	var req TriggerRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			tw.logger.Printf("warning: trigger %s has an invalid body, running a full sync: %v", path, err)
			req = TriggerRequest{}
		}
	}

	select {
	case tw.events <- TriggerEvent{Path: path, Request: req}:
	case <-tw.done:
	}
}
