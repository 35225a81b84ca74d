package graph

import (
	"context"
	"fmt"

	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/params"
	"github.com/vk/samplegrid/internal/pipeline"
)

// Build constructs a complete, validated execution DAG from a stage catalog
// and a validated parameter set.
func Build(ctx context.Context, catalog *pipeline.Catalog, set *params.Set) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting graph construction.")

	g := &Graph{Channels: make(map[string]*pipeline.Channel)}

	// First pass: materialize source channels from the parameter set,
	// expanding glob sources into per-sample items.
	if err := createSourceChannels(ctx, catalog, set, g); err != nil {
		return nil, err
	}
	logger.Debug("Build: source channels created.", "channels", len(g.Channels), "samples", g.SampleCount)

	// Second pass: decide activation once per template and create every
	// declared output channel, open for active producers and terminated
	// empty (or parameter-supplied) for inactive ones.
	if err := activateTemplates(ctx, catalog, set, g); err != nil {
		return nil, err
	}
	logger.Debug("Build: activation decided.", "active", len(g.Stages), "inactive", len(g.Inactive))

	// Third pass: wire consumer ports to producer channels.
	if err := wireInputs(g); err != nil {
		return nil, err
	}
	logger.Debug("Build: wiring complete.")

	if err := detectCycles(catalog); err != nil {
		return nil, err
	}
	logger.Debug("Build: cycle detection passed.")

	return g, nil
}

func createSourceChannels(ctx context.Context, catalog *pipeline.Catalog, set *params.Set, g *Graph) error {
	for _, src := range catalog.Sources {
		if _, exists := g.Channels[src.Channel]; exists {
			return &GraphBuildError{Reason: fmt.Sprintf("channel %q has more than one producer", src.Channel)}
		}

		value := set.Value(src.Param)
		if value == "" {
			if !src.Optional {
				return &GraphBuildError{Reason: fmt.Sprintf("source channel %q: required parameter %q is unset", src.Channel, src.Param)}
			}
			g.Channels[src.Channel] = pipeline.NewClosedChannel(src.Channel)
			continue
		}

		if src.Glob {
			items, err := expandGlob(src.Channel, value)
			if err != nil {
				return err
			}
			g.Channels[src.Channel] = pipeline.NewClosedChannel(src.Channel, items...)
			g.SampleCount = len(items)
			continue
		}

		hash, err := pipeline.FingerprintFile(value)
		if err != nil {
			return &GraphBuildError{Reason: fmt.Sprintf("source channel %q: %v", src.Channel, err)}
		}
		item := pipeline.Item{Key: src.Channel, Files: []string{value}, Hash: hash}
		g.Channels[src.Channel] = pipeline.NewClosedChannel(src.Channel, item)
	}
	return nil
}

func activateTemplates(ctx context.Context, catalog *pipeline.Catalog, set *params.Set, g *Graph) error {
	logger := ctxlog.FromContext(ctx)

	active := make(map[string]bool, len(catalog.Templates))
	reasons := make(map[string]string, len(catalog.Templates))
	for _, t := range catalog.Templates {
		on, reason, err := decideActivation(t, set)
		if err != nil {
			return err
		}
		active[t.Name] = on
		reasons[t.Name] = reason
	}

	// Active producers claim their channels first. Mutually exclusive
	// branches may declare the same output channel; at most one of them is
	// active per run, and only the active one opens the channel.
	for _, t := range catalog.Templates {
		if !active[t.Name] {
			continue
		}
		node := &StageNode{Template: t, Outputs: make(map[string]*pipeline.Channel)}
		for _, out := range t.Outputs {
			ch := pipeline.NewChannel(out.Channel)
			if err := addOutputChannel(g, t, out.Channel, ch); err != nil {
				return err
			}
			node.Outputs[out.Channel] = ch
		}
		g.Stages = append(g.Stages, node)
	}

	// Deactivated producers still own any channel nobody else claimed; it
	// terminates immediately (or replays a supplied artifact), so downstream
	// consumers never hang on an optional branch.
	for _, t := range catalog.Templates {
		if active[t.Name] {
			continue
		}
		g.Inactive = append(g.Inactive, InactiveStage{Name: t.Name, Reason: reasons[t.Name]})
		logger.Debug("Template deactivated.", "stage", t.Name, "reason", reasons[t.Name])

		for _, out := range t.Outputs {
			if _, exists := g.Channels[out.Channel]; exists {
				if t.SuppliedBy != "" && set.Value(t.SuppliedBy) != "" {
					return &GraphBuildError{Reason: fmt.Sprintf(
						"channel %q is both supplied by parameter %q and produced by an active stage", out.Channel, t.SuppliedBy)}
				}
				continue
			}
			g.Channels[out.Channel] = closedOutputChannel(t, out, set)
		}
	}
	return nil
}

// decideActivation evaluates a template's activation exactly once. A
// parameter-supplied artifact always wins over the template's own predicate:
// supplying a prebuilt index deactivates the stage that would build it.
func decideActivation(t *pipeline.Template, set *params.Set) (bool, string, error) {
	if t.SuppliedBy != "" && set.Value(t.SuppliedBy) != "" {
		return false, fmt.Sprintf("output supplied by parameter %q", t.SuppliedBy), nil
	}
	if t.When == "" {
		return true, "", nil
	}
	active, err := evalPredicate(t.Name, t.When, set)
	if err != nil {
		return false, "", err
	}
	if !active {
		return false, "activation predicate is false", nil
	}
	return true, "", nil
}

// closedOutputChannel builds the always-terminated channel of a deactivated
// template: pre-loaded with the supplied artifact when one exists, empty
// otherwise.
func closedOutputChannel(t *pipeline.Template, out pipeline.OutputSpec, set *params.Set) *pipeline.Channel {
	if t.SuppliedBy != "" {
		if value := set.Value(t.SuppliedBy); value != "" {
			hash, err := pipeline.FingerprintFile(value)
			if err != nil {
				// The path was validated earlier; fall back to the raw
				// value so the key still changes with the parameter.
				hash = value
			}
			return pipeline.NewClosedChannel(out.Channel, pipeline.Item{
				Key:   out.Channel,
				Files: []string{value},
				Hash:  hash,
			})
		}
	}
	return pipeline.NewClosedChannel(out.Channel)
}

func addOutputChannel(g *Graph, t *pipeline.Template, name string, ch *pipeline.Channel) error {
	if _, exists := g.Channels[name]; exists {
		return &GraphBuildError{Reason: fmt.Sprintf("channel %q has more than one producer (last: stage %q)", name, t.Name)}
	}
	g.Channels[name] = ch
	return nil
}

func wireInputs(g *Graph) error {
	for _, node := range g.Stages {
		t := node.Template
		streams := 0
		for _, in := range t.Inputs {
			ch, ok := g.Channels[in.Channel]
			if !ok {
				return &GraphBuildError{Reason: fmt.Sprintf("stage %q input %q has no producer and no supplied value", t.Name, in.Channel)}
			}
			port := ch.Subscribe(t.Name)
			switch in.Kind {
			case pipeline.BindStream:
				if t.Collect {
					return &GraphBuildError{Reason: fmt.Sprintf("collect stage %q cannot take stream input %q", t.Name, in.Channel)}
				}
				streams++
				node.Stream = port
			case pipeline.BindBroadcast:
				node.Broadcasts = append(node.Broadcasts, port)
			case pipeline.BindCollect:
				if !t.Collect {
					return &GraphBuildError{Reason: fmt.Sprintf("stage %q takes collect input %q but is not a collect stage", t.Name, in.Channel)}
				}
				node.Collects = append(node.Collects, port)
			}
		}
		if t.Collect {
			if len(node.Collects) == 0 {
				return &GraphBuildError{Reason: fmt.Sprintf("collect stage %q has no collect inputs", t.Name)}
			}
		} else if streams != 1 {
			return &GraphBuildError{Reason: fmt.Sprintf("stage %q must have exactly one stream input, has %d", t.Name, streams)}
		}
	}
	return nil
}
