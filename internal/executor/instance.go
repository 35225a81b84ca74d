package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/samplegrid/internal/cache"
	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/graph"
	"github.com/vk/samplegrid/internal/pipeline"
	"github.com/vk/samplegrid/internal/run"
)

// runInstance resolves one bound stage instance end to end: cache consult,
// execution with the template's error policy, cache commit, output delivery,
// and publishing.
func (e *Executor) runInstance(ctx context.Context, t *task) {
	tmpl := t.node.Template
	logger := ctxlog.FromContext(ctx).With("stage", tmpl.Name, "key", t.key)

	key := cache.ComputeKey(tmpl, t.inputs, e.set)

	entry := e.lookup(ctx, key, logger)
	if entry != nil {
		logger.Info("⏭️ Stage instance skipped, cache hit.", "cache_key", string(key[:12]))
		if err := e.deliver(ctx, t.node, t.key, entry); err != nil {
			e.record(tmpl.Name, run.FatalFailed)
			e.fail(err)
			return
		}
		e.record(tmpl.Name, run.Skipped)
		return
	}

	// Admission: hold this instance's CPU weight for the duration of the
	// body so resource hints bound oversubscription.
	weight := cpuWeight(tmpl.Resources.CPUs, e.cpus)
	if err := e.sem.Acquire(ctx, weight); err != nil {
		e.recordCancelled(t.node, t.key)
		return
	}
	defer e.sem.Release(weight)

	logger.Info("▶️ Starting stage instance.")
	produced, err := e.attempt(ctx, tmpl, t, logger)
	if err != nil {
		e.resolveFailure(ctx, tmpl, t, err, logger)
		return
	}

	committed, err := e.store.Commit(ctx, key, produced)
	if err != nil {
		e.record(tmpl.Name, run.FatalFailed)
		e.fail(fmt.Errorf("stage %s[%s]: %w", tmpl.Name, t.key, err))
		return
	}

	if err := e.deliver(ctx, t.node, t.key, committed); err != nil {
		e.record(tmpl.Name, run.FatalFailed)
		e.fail(err)
		return
	}
	e.record(tmpl.Name, run.Succeeded)
	logger.Info("✅ Finished stage instance.")
}

// lookup consults the cache store, downgrading an inconsistent entry to a
// miss. Partial prior runs (no success marker) are plain misses.
func (e *Executor) lookup(ctx context.Context, key cache.Key, logger *slog.Logger) *cache.Entry {
	entry, err := e.store.Lookup(ctx, key)
	if err != nil {
		var inconsistency *cache.InconsistencyError
		if errors.As(err, &inconsistency) {
			logger.Warn("Cache entry unusable, re-executing.", "error", err)
			e.metrics.CacheLookups.WithLabelValues("inconsistent").Inc()
		} else {
			logger.Warn("Cache lookup failed, re-executing.", "error", err)
			e.metrics.CacheLookups.WithLabelValues("error").Inc()
		}
		return nil
	}
	if entry == nil {
		e.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	e.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry
}

// attempt runs the stage body, re-attempting per the retry policy, and
// collects the declared outputs from the working directory on success.
func (e *Executor) attempt(ctx context.Context, tmpl *pipeline.Template, t *task, logger *slog.Logger) (map[string]pipeline.Item, error) {
	tries := 1
	var delay time.Duration
	if tmpl.Policy == pipeline.PolicyRetry {
		tries = tmpl.Retry.Attempts + 1
		delay = tmpl.Retry.Delay
	}

	var lastErr error
	for attempt := 1; attempt <= tries; attempt++ {
		inv, err := e.invocation(tmpl, t)
		if err != nil {
			return nil, err
		}

		lastErr = tmpl.Body.Run(ctx, inv)
		if lastErr == nil {
			produced, err := collectOutputs(t.key, inv)
			if err != nil {
				lastErr = err
			} else {
				return produced, nil
			}
		}

		if ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt < tries {
			logger.Warn("Stage instance failed, retrying.", "attempt", attempt, "of", tries, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

// invocation prepares a fresh working directory and the resolved output
// declarations for one attempt. A retried attempt starts from a clean
// directory; stale partial outputs never leak into the next try.
func (e *Executor) invocation(tmpl *pipeline.Template, t *task) (*pipeline.Invocation, error) {
	workDir := filepath.Join(e.workDir, tmpl.Name, sanitizeKey(t.key))
	if err := os.RemoveAll(workDir); err != nil {
		return nil, fmt.Errorf("clearing work dir for %s[%s]: %w", tmpl.Name, t.key, err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir for %s[%s]: %w", tmpl.Name, t.key, err)
	}

	outputs := make([]pipeline.OutputSpec, len(tmpl.Outputs))
	for i, out := range tmpl.Outputs {
		outputs[i] = pipeline.OutputSpec{
			Channel: out.Channel,
			Path:    strings.ReplaceAll(out.Path, "{key}", sanitizeKey(t.key)),
		}
	}

	return &pipeline.Invocation{
		Stage:   tmpl.Name,
		Key:     t.key,
		WorkDir: workDir,
		Inputs:  t.inputs,
		Outputs: outputs,
	}, nil
}

// collectOutputs verifies that every declared output exists and wraps each
// one as the instance's produced item for its channel.
func collectOutputs(key string, inv *pipeline.Invocation) (map[string]pipeline.Item, error) {
	produced := make(map[string]pipeline.Item, len(inv.Outputs))
	for _, out := range inv.Outputs {
		path := filepath.Join(inv.WorkDir, out.Path)
		if _, err := os.Stat(path); err != nil {
			return nil, &pipeline.StageExecutionError{
				Stage:  inv.Stage,
				Key:    key,
				Reason: fmt.Sprintf("declared output %q was not produced", out.Path),
				Err:    err,
			}
		}
		produced[out.Channel] = pipeline.Item{Key: key, Files: []string{path}}
	}
	return produced, nil
}

// resolveFailure routes an exhausted instance failure through the template's
// error policy.
func (e *Executor) resolveFailure(ctx context.Context, tmpl *pipeline.Template, t *task, err error, logger *slog.Logger) {
	if ctx.Err() != nil {
		e.recordCancelled(t.node, t.key)
		return
	}

	if tmpl.Policy == pipeline.PolicyTolerate {
		logger.Warn("Stage instance failed, tolerated.", "error", err)
		e.record(tmpl.Name, run.Tolerated)
		return
	}

	// Fatal, or retry exhausted: abort the run.
	logger.Error("Stage instance failed.", "policy", tmpl.Policy.String(), "error", err)
	e.record(tmpl.Name, run.FatalFailed)
	e.fail(err)
}

// deliver forwards an entry's recorded outputs to downstream consumers and,
// for published stages, into the output tree. Delivery happens for fresh
// successes and cache hits alike, so a fully cached run still rebuilds an
// identical output tree.
func (e *Executor) deliver(ctx context.Context, node *graph.StageNode, key string, entry *cache.Entry) error {
	for channel, item := range entry.Outputs {
		if ch, ok := node.Outputs[channel]; ok {
			ch.Publish(item)
		}
	}

	if !node.Template.Publish {
		return nil
	}
	// Per-sample instances publish under their own key so same-named outputs
	// from different samples stay apart; a collect instance is unique and
	// publishes flat.
	scope := key
	if node.Template.Collect {
		scope = ""
	}
	items := make([]pipeline.Item, 0, len(entry.Outputs))
	for _, item := range entry.Outputs {
		items = append(items, item)
	}
	return e.publisher.Publish(ctx, node.Template.Phase, scope, items)
}

func cpuWeight(cpus int, capacity int64) int64 {
	w := int64(cpus)
	if w < 1 {
		w = 1
	}
	if w > capacity {
		w = capacity
	}
	return w
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
}
