package executor

import (
	"context"

	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/graph"
	"github.com/vk/samplegrid/internal/run"
)

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for t := range e.tasks {
		if ctx.Err() != nil {
			e.recordCancelled(t.node, t.key)
			t.done()
			continue
		}

		e.metrics.ActiveWorkers.Inc()
		e.runInstance(ctx, t)
		e.metrics.ActiveWorkers.Dec()
		t.done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

func (e *Executor) recordCancelled(node *graph.StageNode, key string) {
	e.record(node.Template.Name, run.Cancelled)
}

// record tallies one instance outcome in both the run context and metrics.
func (e *Executor) record(stage string, outcome run.Outcome) {
	e.runCtx.RecordOutcome(stage, outcome)
	e.metrics.Instances.WithLabelValues(stage, outcomeLabel(outcome)).Inc()
}

func outcomeLabel(outcome run.Outcome) string {
	switch outcome {
	case run.Succeeded:
		return "succeeded"
	case run.Skipped:
		return "skipped"
	case run.Tolerated:
		return "tolerated"
	case run.FatalFailed:
		return "failed"
	case run.Cancelled:
		return "cancelled"
	}
	return "unknown"
}
