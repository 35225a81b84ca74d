package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Summary is the immutable final report of one run, consumed by reporting
// collaborators outside the engine.
type Summary struct {
	RunID    string                `json:"run_id"`
	State    string                `json:"state"`
	Failure  string                `json:"failure,omitempty"`
	Started  time.Time             `json:"started"`
	Duration time.Duration         `json:"duration"`
	Stages   map[string]StageTally `json:"stages"`
	Inactive []string              `json:"inactive_stages"`

	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Tolerated int `json:"tolerated"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Summary snapshots the run context. The snapshot is detached: later changes
// to the context do not affect it.
func (c *Context) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.finished
	if end.IsZero() {
		end = time.Now()
	}

	s := Summary{
		RunID:    c.id,
		State:    c.state.String(),
		Failure:  c.failure,
		Started:  c.started,
		Duration: end.Sub(c.started),
		Stages:   make(map[string]StageTally, len(c.stages)),
		Inactive: append([]string(nil), c.inactive...),
	}
	sort.Strings(s.Inactive)

	for name, tally := range c.stages {
		s.Stages[name] = *tally
		s.Succeeded += tally.Succeeded
		s.Skipped += tally.Skipped
		s.Tolerated += tally.Tolerated
		s.Failed += tally.Failed
		s.Cancelled += tally.Cancelled
	}
	return s
}

// Write serializes the summary as JSON into dir/run_summary.json.
func (s Summary) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("writing run summary: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	path := filepath.Join(dir, "run_summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run summary: %w", err)
	}
	return nil
}
