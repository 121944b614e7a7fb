package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/casegallery/gallerysync/internal/registry"
)

// SchedulerConfig holds configuration for the long-running sync daemon.
type SchedulerConfig struct {
	// Interval is how often a scheduled full sync runs.
	Interval time.Duration

	// Jitter is the maximum random offset applied to each interval, so
	// several daemons syncing the same site do not all hit the gallery
	// API at the same instant. Zero disables jitter.
	Jitter time.Duration

	// SpoolDir is the trigger-file directory. Empty disables trigger
	// watching and leaves only the interval schedule.
	SpoolDir string

	// SyncOnStart runs a full pass immediately when the daemon starts.
	SyncOnStart bool

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:    time.Hour,
		SyncOnStart: true,
		Logger:      log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Scheduler runs the engine on a schedule and on demand.
//
// Scheduled passes carry the cron source; passes requested through the
// spool directory carry the automatic source. Both skip quietly when a
// pass is already running.
type Scheduler struct {
	engine *Engine
	config *SchedulerConfig

	watcher *TriggerWatcher

	mu       sync.Mutex
	interval time.Duration
	reload   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler with default configuration.
func NewScheduler(engine *Engine) (*Scheduler, error) {
	return NewSchedulerWithConfig(engine, DefaultSchedulerConfig())
}

// NewSchedulerWithConfig creates a scheduler with custom configuration.
func NewSchedulerWithConfig(engine *Engine, config *SchedulerConfig) (*Scheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		engine:   engine,
		config:   config,
		interval: config.Interval,
		reload:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetInterval changes the schedule without restarting the daemon. The
// new interval takes effect immediately; a tick that was already due
// under the old schedule is rescheduled.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	changed := d != s.interval
	s.interval = d
	s.mu.Unlock()
	if !changed {
		return
	}

	s.config.Logger.Printf("Sync interval changed to %s", d)
	select {
	case s.reload <- struct{}{}:
	default: // a reschedule is already pending
	}
}

// nextInterval returns the configured interval with fresh jitter. The
// offset is recalculated for every tick so the drift does not accumulate
// in one direction.
func (s *Scheduler) nextInterval() time.Duration {
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()

	jitter := s.config.Jitter
	if jitter <= 0 || jitter >= interval {
		return interval
	}
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return interval + offset
}

// Start begins the scheduler's operation.
//
// This blocks until ctx is cancelled or an error occurs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.config.Logger.Printf("Starting sync daemon (interval %s)", s.config.Interval)

	if s.config.SpoolDir != "" {
		watcher, err := NewTriggerWatcher(s.config.Logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(s.config.SpoolDir); err != nil {
			return err
		}
		s.watcher = watcher
		s.config.Logger.Printf("Watching trigger directory: %s", s.config.SpoolDir)

		s.wg.Add(1)
		go s.watchTriggers()
	}

	if s.config.SyncOnStart {
		s.runPass(RunOptions{Type: registry.SyncFull, Source: registry.SourceCron})
	}

	s.wg.Add(1)
	go s.runScheduled()

	select {
	case <-ctx.Done():
		s.config.Logger.Println("Shutdown signal received")
		return s.Stop()
	case <-s.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.config.Logger.Println("Stopping sync daemon")

	s.cancel()

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.config.Logger.Printf("Error stopping trigger watcher: %v", err)
		}
	}

	s.wg.Wait()

	s.config.Logger.Println("Sync daemon stopped")
	return nil
}

// runScheduled fires a full pass every interval, re-jittering after
// each tick.
func (s *Scheduler) runScheduled() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.nextInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.reload:
			ticker.Reset(s.nextInterval())

		case <-ticker.C:
			s.runPass(RunOptions{Type: registry.SyncFull, Source: registry.SourceCron})
			ticker.Reset(s.nextInterval())
		}
	}
}

// watchTriggers consumes trigger-file requests.
func (s *Scheduler) watchTriggers() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-s.watcher.Events():
			if !ok {
				return
			}
			s.config.Logger.Printf("Trigger received: %s", event.Path)
			s.runPass(triggerOptions(event.Request))

		case err, ok := <-s.watcher.Errors():
			if !ok {
				return
			}
			s.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// runPass executes one pass and logs the outcome. An already-running
// pass is not an error at the daemon level; the next tick catches up.
func (s *Scheduler) runPass(opts RunOptions) {
	_, err := s.engine.Run(s.ctx, opts)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncActive):
		s.config.Logger.Println("Skipping pass: a sync is already running")
	case errors.Is(err, context.Canceled):
	default:
		s.config.Logger.Printf("Pass failed: %v", err)
	}
}

// triggerOptions maps a trigger request onto run options. A case id
// without an explicit type means a single-case sync.
func triggerOptions(req TriggerRequest) RunOptions {
	opts := RunOptions{
		Type:     req.Type,
		Source:   registry.SourceAutomatic,
		CaseID:   req.CaseID,
		APIToken: req.APIToken,
	}
	if opts.Type == "" && opts.CaseID > 0 {
		opts.Type = registry.SyncSingle
	}
	return opts
}
