package graph

import (
	"fmt"
	"sort"

	"github.com/vk/samplegrid/internal/pipeline"
)

// detectCycles checks the declared template wiring for cycles. The check runs
// over the full catalog rather than only active stages: a cyclic catalog is a
// defect regardless of which branch a particular parameter set activates.
func detectCycles(catalog *pipeline.Catalog) error {
	// A channel may be declared by several mutually exclusive templates; the
	// check walks edges from every declared producer.
	producersOf := make(map[string][]string)
	for _, t := range catalog.Templates {
		for _, out := range t.Outputs {
			producersOf[out.Channel] = append(producersOf[out.Channel], t.Name)
		}
	}

	// dependents[a] lists templates consuming a channel produced by a.
	dependents := make(map[string][]string)
	for _, t := range catalog.Templates {
		for _, in := range t.Inputs {
			for _, producer := range producersOf[in.Channel] {
				dependents[producer] = append(dependents[producer], t.Name)
			}
		}
	}
	for _, deps := range dependents {
		sort.Strings(deps)
	}

	// Classic depth-first search with permanent and temporary marks; hitting
	// a temporary mark means the walk re-entered its own stack.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			return &GraphBuildError{Reason: fmt.Sprintf("cycle detected involving stage %q", name)}
		}
		temporary[name] = true
		for _, dep := range dependents[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for _, t := range catalog.Templates {
		if !permanent[t.Name] {
			if err := visit(t.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
