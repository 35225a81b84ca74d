package graph

import (
	"github.com/vk/samplegrid/internal/pipeline"
)

// StageNode is one active stage template with its resolved input ports and
// owned output channels. The scheduler consumes StageNodes; templates and
// channels stay immutable once the graph is built.
type StageNode struct {
	Template *pipeline.Template

	// Stream is the per-item input port. Nil for collect stages.
	Stream *pipeline.Port
	// Broadcasts are the shared single-artifact input ports, replayed to
	// every instance of this stage.
	Broadcasts []*pipeline.Port
	// Collects are the barrier input ports of a collect stage.
	Collects []*pipeline.Port

	// Outputs maps each declared output channel name to the channel this
	// stage produces into.
	Outputs map[string]*pipeline.Channel
}

// InactiveStage records why a template contributes no instances to this run.
type InactiveStage struct {
	Name   string
	Reason string
}

// Graph is the execution DAG for one parameter set: active stages in catalog
// order, every channel by name, and the manifest of deactivated templates.
type Graph struct {
	Stages   []*StageNode
	Channels map[string]*pipeline.Channel
	Inactive []InactiveStage

	// SampleCount is the number of per-sample items expanded from glob
	// sources, kept for reporting.
	SampleCount int
}

// Stage returns the active stage node for a template name, or nil.
func (g *Graph) Stage(name string) *StageNode {
	for _, s := range g.Stages {
		if s.Template.Name == name {
			return s
		}
	}
	return nil
}
