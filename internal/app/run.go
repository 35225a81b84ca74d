package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/samplegrid/internal/cache"
	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/executor"
	"github.com/vk/samplegrid/internal/graph"
	"github.com/vk/samplegrid/internal/run"
)

// Run executes one full pipeline run: build the graph, execute it, write the
// run summary. The returned error is nil only for a completed run.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.config.HealthcheckPort)
		defer a.closeHealthcheckServer()
	}

	runCtx := run.New()
	a.logger.Info("Run starting.", "run_id", runCtx.ID(), "aligner", a.set.Aligner(), "profile", a.set.Profile())

	runCtx.SetState(run.Building)
	g, err := graph.Build(ctx, a.catalog, a.set)
	if err != nil {
		runCtx.RecordFailure(err.Error())
		a.writeSummary(runCtx)
		return fmt.Errorf("failed to build execution graph: %w", err)
	}
	for _, inactive := range g.Inactive {
		runCtx.RecordInactive(inactive.Name)
		a.logger.Info("Stage deactivated for this run.", "stage", inactive.Name, "reason", inactive.Reason)
	}
	a.logger.Info("Execution graph built.",
		"active_stages", len(g.Stages), "channels", len(g.Channels), "samples", g.SampleCount)

	store, err := cache.NewStore(a.set.CacheDir())
	if err != nil {
		runCtx.RecordFailure(err.Error())
		a.writeSummary(runCtx)
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	publisher := cache.NewPublisher(a.set.OutDir())

	workDir := a.config.WorkDir
	if workDir == "" {
		workDir = filepath.Join(a.set.OutDir(), ".work")
	}

	exec := executor.New(g, a.set, store, publisher, runCtx, a.metrics, executor.Options{
		Workers: a.config.Workers,
		CPUs:    a.config.CPUs,
		WorkDir: workDir,
	})

	runCtx.SetState(run.Running)
	a.logger.Info("🚀 Starting concurrent execution.", "workers", a.config.Workers)
	runErr := exec.Run(ctx)
	if runErr != nil {
		runCtx.RecordFailure(runErr.Error())
	} else {
		runCtx.SetState(run.Completed)
	}

	summary := a.writeSummary(runCtx)
	a.logger.Info("🏁 Run finished.",
		"run_id", runCtx.ID(), "state", runCtx.State().String(),
		"succeeded", summary.Succeeded, "skipped", summary.Skipped,
		"tolerated", summary.Tolerated, "failed", summary.Failed)

	if runErr != nil {
		return fmt.Errorf("execution failed: %w", runErr)
	}
	return nil
}

func (a *App) writeSummary(runCtx *run.Context) run.Summary {
	summary := runCtx.Summary()
	if err := summary.Write(a.set.OutDir()); err != nil {
		a.logger.Error("Failed to write run summary.", "error", err)
	}
	return summary
}
