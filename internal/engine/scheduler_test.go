package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/casegallery/gallerysync/internal/registry"
)

// waitForRuns polls the sync log until at least n entries exist.
func waitForRuns(t *testing.T, h *testHarness, n int) []registry.LogEntry {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		entries, err := h.logs.Recent(100)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(entries) >= n {
			return entries
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d runs, have %d", n, len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_RunsIntervalPasses(t *testing.T) {
	h := newHarness(t, Config{})

	sched, err := NewSchedulerWithConfig(h.engine, &SchedulerConfig{
		Interval:    50 * time.Millisecond,
		SyncOnStart: false,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewSchedulerWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	entries := waitForRuns(t, h, 2)
	if entries[0].SyncSource != registry.SourceCron || entries[0].SyncType != registry.SyncFull {
		t.Errorf("scheduled pass = %s/%s, want full/cron", entries[0].SyncType, entries[0].SyncSource)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned: %v", err)
	}
}

func TestScheduler_SyncOnStart(t *testing.T) {
	h := newHarness(t, Config{})

	sched, err := NewSchedulerWithConfig(h.engine, &SchedulerConfig{
		Interval:    time.Hour,
		SyncOnStart: true,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	entries := waitForRuns(t, h, 1)
	if entries[0].SyncSource != registry.SourceCron {
		t.Errorf("startup pass source = %s, want cron", entries[0].SyncSource)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned: %v", err)
	}
}

func TestScheduler_TriggerFileStartsPass(t *testing.T) {
	h := newHarness(t, Config{})
	spool := filepath.Join(t.TempDir(), "spool")

	sched, err := NewSchedulerWithConfig(h.engine, &SchedulerConfig{
		Interval:    time.Hour,
		SpoolDir:    spool,
		SyncOnStart: false,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	// The spool is drained on start, so the drop can race Start safely.
	if err := os.MkdirAll(spool, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(spool, "go.trigger"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	entries := waitForRuns(t, h, 1)
	if entries[0].SyncSource != registry.SourceAutomatic || entries[0].SyncType != registry.SyncFull {
		t.Errorf("triggered pass = %s/%s, want full/automatic", entries[0].SyncType, entries[0].SyncSource)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned: %v", err)
	}
}

func TestScheduler_SetIntervalReschedules(t *testing.T) {
	h := newHarness(t, Config{})

	sched, err := NewSchedulerWithConfig(h.engine, &SchedulerConfig{
		Interval:    time.Hour,
		SyncOnStart: false,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	// Under the original hourly schedule this test would never see a
	// pass; the reschedule must take effect on the live ticker.
	sched.SetInterval(30 * time.Millisecond)
	waitForRuns(t, h, 1)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned: %v", err)
	}
}

func TestScheduler_NextIntervalJitter(t *testing.T) {
	h := newHarness(t, Config{})

	sched, err := NewSchedulerWithConfig(h.engine, &SchedulerConfig{
		Interval: time.Hour,
		Jitter:   10 * time.Minute,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	lo, hi := 50*time.Minute, 70*time.Minute
	varied := false
	for i := 0; i < 50; i++ {
		d := sched.nextInterval()
		if d < lo || d > hi {
			t.Fatalf("nextInterval = %s, want within [%s, %s]", d, lo, hi)
		}
		if d != time.Hour {
			varied = true
		}
	}
	if !varied {
		t.Error("jittered intervals never deviated from the base")
	}

	// Jitter at or above the interval would allow a nonpositive tick.
	sched.config.Jitter = 2 * time.Hour
	if d := sched.nextInterval(); d != time.Hour {
		t.Errorf("oversized jitter not ignored: %s", d)
	}

	sched.config.Jitter = 0
	if d := sched.nextInterval(); d != time.Hour {
		t.Errorf("zero jitter interval = %s, want exactly 1h", d)
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	if _, err := NewSchedulerWithConfig(nil, nil); err == nil {
		t.Error("expected an error for a nil engine")
	}

	h := newHarness(t, Config{})
	sched, err := NewScheduler(h.engine)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	if sched.config.Interval != time.Hour {
		t.Errorf("default interval = %s, want 1h", sched.config.Interval)
	}

	sched, err = NewSchedulerWithConfig(h.engine, &SchedulerConfig{Interval: -1, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if sched.config.Interval != time.Hour {
		t.Errorf("negative interval not defaulted: %s", sched.config.Interval)
	}
}
