package graph

import "fmt"

// GraphBuildError reports an unsatisfiable or cyclic wiring detected while
// constructing the execution DAG. Always fatal; nothing has executed yet.
type GraphBuildError struct {
	Reason string
}

func (e *GraphBuildError) Error() string {
	return "graph build failed: " + e.Reason
}

// MissingInputError reports a declared filesystem source that resolved to
// zero matches. An empty match is a fatal error, not an empty run.
type MissingInputError struct {
	Channel string
	Pattern string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("source channel %q: pattern %q matched no files", e.Channel, e.Pattern)
}
