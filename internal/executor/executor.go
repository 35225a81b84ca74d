// Package executor schedules and runs the stage instances of a built
// execution DAG: a shared worker pool executes instances as their inputs
// arrive, per-stage drivers translate channel traffic into instances, and the
// cache store is consulted before every execution.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/vk/samplegrid/internal/cache"
	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/graph"
	"github.com/vk/samplegrid/internal/metrics"
	"github.com/vk/samplegrid/internal/params"
	"github.com/vk/samplegrid/internal/pipeline"
	"github.com/vk/samplegrid/internal/run"
)

// Options configure one Executor.
type Options struct {
	// Workers bounds the number of concurrently executing instances.
	Workers int
	// CPUs is the total CPU weight available for admission control. Stage
	// resource hints are weighed against it; zero defaults to Workers.
	CPUs int
	// WorkDir hosts per-instance working directories.
	WorkDir string
}

// Executor drives one run of a built graph to completion or failure.
type Executor struct {
	graph     *graph.Graph
	set       *params.Set
	store     *cache.Store
	publisher *cache.Publisher
	runCtx    *run.Context
	metrics   *metrics.Metrics

	workers int
	cpus    int64
	workDir string
	sem     *semaphore.Weighted

	tasks chan *task

	// failOnce captures the first fatal error; cancelRun aborts everything
	// in flight once it fires.
	failOnce  sync.Once
	fatalErr  error
	cancelRun context.CancelFunc
}

// task is one fully bound stage instance awaiting a worker.
// Inputs are bound before submission, so a worker never blocks on a channel
// read while holding a pool slot.
type task struct {
	node   *graph.StageNode
	key    string
	inputs map[string][]pipeline.Item
	// done signals the owning stage driver that the instance has resolved.
	done func()
}

// New creates an executor over a built graph.
func New(g *graph.Graph, set *params.Set, store *cache.Store, publisher *cache.Publisher, runCtx *run.Context, m *metrics.Metrics, opts Options) *Executor {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	cpus := int64(opts.CPUs)
	if cpus < 1 {
		cpus = int64(workers)
	}
	return &Executor{
		graph:     g,
		set:       set,
		store:     store,
		publisher: publisher,
		runCtx:    runCtx,
		metrics:   m,
		workers:   workers,
		cpus:      cpus,
		workDir:   opts.WorkDir,
		sem:       semaphore.NewWeighted(cpus),
		tasks:     make(chan *task),
	}
}

// Run executes the graph. It returns nil when every stage instance resolved
// without a fatal failure; tolerated failures do not fail the run.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancelRun = cancel

	var workerWG sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		workerWG.Add(1)
		go func(id int) {
			defer workerWG.Done()
			e.worker(runCtx, id)
		}(i)
	}
	logger.Debug("Worker pool started.", "workers", e.workers, "cpus", e.cpus)

	var driverWG sync.WaitGroup
	for _, node := range e.graph.Stages {
		driverWG.Add(1)
		go func(node *graph.StageNode) {
			defer driverWG.Done()
			e.driveStage(runCtx, node)
		}(node)
	}

	driverWG.Wait()
	close(e.tasks)
	workerWG.Wait()

	if e.fatalErr != nil {
		return e.fatalErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// fail records the first fatal error and aborts everything in flight. Later
// fatals lose the race and are only logged by their instances.
func (e *Executor) fail(err error) {
	e.failOnce.Do(func() {
		e.fatalErr = err
		e.runCtx.RecordFailure(err.Error())
		e.cancelRun()
	})
}
