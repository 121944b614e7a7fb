package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Checkpoint records an in-progress staged pass so stages started minutes
// or hours apart can share one session id. Orphan detection only works
// when every stage of a pass stamps the same session; without the
// checkpoint a stage run from cron would invent its own session and make
// everything the other stages touched look orphaned.
type Checkpoint struct {
	Session   string    `yaml:"session"`
	StartedAt time.Time `yaml:"started_at"`
	Stages    []string  `yaml:"stages,omitempty"`
}

// HasStage reports whether the named stage already completed in this pass.
func (c *Checkpoint) HasStage(name string) bool {
	for _, s := range c.Stages {
		if s == name {
			return true
		}
	}
	return false
}

// AddStage records a completed stage, once.
func (c *Checkpoint) AddStage(name string) {
	if !c.HasStage(name) {
		c.Stages = append(c.Stages, name)
	}
}

// LoadCheckpoint reads the checkpoint file. A missing file is not an
// error; it means no staged pass is open.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	if cp.Session == "" {
		return nil, nil
	}
	return &cp, nil
}

// Save writes the checkpoint atomically via a temp file rename, so a
// crash mid-write never leaves a torn checkpoint behind.
func (c *Checkpoint) Save(path string) error {
	if path == "" {
		return nil
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// ClearCheckpoint removes the checkpoint file, ending the staged pass.
// Clearing an absent checkpoint succeeds.
func ClearCheckpoint(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
