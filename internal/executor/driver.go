package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/graph"
	"github.com/vk/samplegrid/internal/pipeline"
)

// driveStage owns one active stage for the duration of the run: it turns
// channel traffic into bound instances, submits them to the pool, and
// terminates the stage's output channels once all instances have resolved.
func (e *Executor) driveStage(ctx context.Context, node *graph.StageNode) {
	logger := ctxlog.FromContext(ctx).With("stage", node.Template.Name)

	// Output channels must terminate exactly once, on every path out of the
	// driver, or downstream collect barriers would wait forever.
	defer func() {
		for _, ch := range node.Outputs {
			ch.Close()
		}
	}()

	if node.Template.Collect {
		e.driveCollect(ctx, node, logger)
		return
	}
	e.drivePerItem(ctx, node, logger)
}

// drivePerItem spawns one instance per item on the stream input. Broadcast
// inputs are gathered first: their single items are replayed into every
// instance. A terminated-empty broadcast simply binds nothing.
func (e *Executor) drivePerItem(ctx context.Context, node *graph.StageNode, logger *slog.Logger) {
	shared := make(map[string][]pipeline.Item)
	for _, port := range node.Broadcasts {
		item, ok, err := port.One(ctx)
		if err != nil {
			logger.Debug("Stage driver cancelled while waiting for broadcast input.", "channel", port.Channel())
			return
		}
		if ok {
			shared[port.Channel()] = []pipeline.Item{item}
		}
	}

	var instanceWG sync.WaitGroup
loop:
	for {
		item, ok, err := node.Stream.Next(ctx)
		if err != nil {
			logger.Debug("Stage driver cancelled while waiting for stream input.")
			break
		}
		if !ok {
			break
		}

		inputs := make(map[string][]pipeline.Item, len(shared)+1)
		for channel, items := range shared {
			inputs[channel] = items
		}
		inputs[node.Stream.Channel()] = []pipeline.Item{item}

		instanceWG.Add(1)
		t := &task{node: node, key: item.Key, inputs: inputs, done: instanceWG.Done}
		select {
		case e.tasks <- t:
		case <-ctx.Done():
			instanceWG.Done()
			e.recordCancelled(node, item.Key)
			break loop
		}
	}
	// In-flight instances may still deliver into this stage's outputs; the
	// deferred Close must not race them, so wait even on the cancel path.
	instanceWG.Wait()
}

// driveCollect waits for every collect input to terminate, then runs exactly
// one instance over everything gathered. Deactivated upstream branches are
// already-terminated channels, so they contribute zero items without delay.
func (e *Executor) driveCollect(ctx context.Context, node *graph.StageNode, logger *slog.Logger) {
	inputs := make(map[string][]pipeline.Item, len(node.Collects))
	for _, port := range node.Collects {
		items, err := port.All(ctx)
		if err != nil {
			logger.Debug("Collect driver cancelled while waiting for upstream termination.", "channel", port.Channel())
			return
		}
		inputs[port.Channel()] = items
	}

	var instanceWG sync.WaitGroup
	instanceWG.Add(1)
	t := &task{node: node, key: node.Template.Name, inputs: inputs, done: instanceWG.Done}
	select {
	case e.tasks <- t:
	case <-ctx.Done():
		instanceWG.Done()
		e.recordCancelled(node, node.Template.Name)
	}
	instanceWG.Wait()
}
