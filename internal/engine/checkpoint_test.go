package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckpoint_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.yaml")

	cp := &Checkpoint{
		Session:   "sess-abc",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	cp.AddStage("stage_1")
	cp.AddStage("stage_2")

	if err := cp.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a checkpoint, got nil")
	}
	if loaded.Session != "sess-abc" {
		t.Errorf("Session = %q, want sess-abc", loaded.Session)
	}
	if !loaded.StartedAt.Equal(cp.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", loaded.StartedAt, cp.StartedAt)
	}
	if !loaded.HasStage("stage_1") || !loaded.HasStage("stage_2") {
		t.Errorf("stages = %v, want stage_1 and stage_2", loaded.Stages)
	}
	if loaded.HasStage("stage_3") {
		t.Error("HasStage(stage_3) = true for a stage that never ran")
	}
}

func TestCheckpoint_AddStageDeduplicates(t *testing.T) {
	cp := &Checkpoint{Session: "s"}
	cp.AddStage("stage_1")
	cp.AddStage("stage_1")
	cp.AddStage("stage_2")

	if len(cp.Stages) != 2 {
		t.Errorf("len(Stages) = %d, want 2: %v", len(cp.Stages), cp.Stages)
	}
}

func TestLoadCheckpoint_Missing(t *testing.T) {
	cp, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil checkpoint for a missing file, got %+v", cp)
	}
}

func TestLoadCheckpoint_EmptyPath(t *testing.T) {
	cp, err := LoadCheckpoint("")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil checkpoint for an empty path, got %+v", cp)
	}
}

func TestLoadCheckpoint_BlankSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.yaml")
	if err := os.WriteFile(path, []byte("session: \"\"\nstages: [stage_1]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cp, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil checkpoint for a blank session, got %+v", cp)
	}
}

func TestClearCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.yaml")

	cp := &Checkpoint{Session: "sess-1", StartedAt: time.Now().UTC()}
	if err := cp.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := ClearCheckpoint(path); err != nil {
		t.Fatalf("ClearCheckpoint failed: %v", err)
	}
	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint after clear failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("checkpoint survived clear: %+v", loaded)
	}

	// Clearing twice is fine.
	if err := ClearCheckpoint(path); err != nil {
		t.Fatalf("second ClearCheckpoint failed: %v", err)
	}
}

func TestCheckpoint_SaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.yaml")

	cp := &Checkpoint{Session: "sess-1", StartedAt: time.Now().UTC()}
	if err := cp.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind after save: %v", err)
	}
}
