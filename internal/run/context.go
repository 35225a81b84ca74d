// Package run tracks the lifecycle of one pipeline invocation and aggregates
// per-stage outcome counts into an immutable final summary.
package run

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle phase of a run.
type State int

const (
	Validating State = iota
	Building
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Building:
		return "building"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the terminal status of one stage instance.
type Outcome int

const (
	// Succeeded: the instance ran and produced its outputs.
	Succeeded Outcome = iota
	// Skipped: a cache hit stood in for execution.
	Skipped
	// Tolerated: the instance failed under a tolerate policy.
	Tolerated
	// FatalFailed: the instance failed and aborted the run.
	FatalFailed
	// Cancelled: the run aborted before the instance could finish.
	Cancelled
)

// StageTally accumulates instance outcomes for one stage.
type StageTally struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Tolerated int `json:"tolerated"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Context owns the mutable state of one invocation. All methods are safe for
// concurrent use; everything it exposes outward is a copy.
type Context struct {
	id      string
	started time.Time

	mu       sync.Mutex
	state    State
	finished time.Time
	failure  string
	stages   map[string]*StageTally
	inactive []string
}

// New creates a run context in the Validating state with a fresh run ID.
func New() *Context {
	return &Context{
		id:      uuid.NewString(),
		started: time.Now(),
		state:   Validating,
		stages:  make(map[string]*StageTally),
	}
}

// ID returns the run's unique identifier.
func (c *Context) ID() string { return c.id }

// SetState advances the lifecycle. Transitions only move forward; a run that
// has already failed stays failed.
func (c *Context) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Failed {
		return
	}
	c.state = s
	if s == Completed || s == Failed {
		c.finished = time.Now()
	}
}

// State returns the current lifecycle phase.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RecordFailure marks the run failed with a reason. The first reason wins.
func (c *Context) RecordFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Failed {
		c.state = Failed
		c.failure = reason
		c.finished = time.Now()
	}
}

// RecordInactive notes a stage that was deactivated at build time.
func (c *Context) RecordInactive(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inactive = append(c.inactive, stage)
}

// RecordOutcome tallies one instance outcome against its stage.
func (c *Context) RecordOutcome(stage string, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tally, ok := c.stages[stage]
	if !ok {
		tally = &StageTally{}
		c.stages[stage] = tally
	}
	switch outcome {
	case Succeeded:
		tally.Succeeded++
	case Skipped:
		tally.Skipped++
	case Tolerated:
		tally.Tolerated++
	case FatalFailed:
		tally.Failed++
	case Cancelled:
		tally.Cancelled++
	}
}
