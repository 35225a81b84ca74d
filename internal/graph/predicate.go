package graph

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/vk/samplegrid/internal/params"
)

// evalPredicate compiles and runs one activation predicate against the
// parameter set. Predicates are plain boolean expr expressions over a
// `params` map, e.g. `params.aligner == "alevin" && params.transcript_fasta == ""`.
// Each predicate is evaluated exactly once per run, at build time.
func evalPredicate(stage, source string, set *params.Set) (bool, error) {
	env := map[string]any{"params": set.Map()}

	program, err := expr.Compile(source,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return false, &GraphBuildError{Reason: fmt.Sprintf("stage %q: bad activation predicate %q: %v", stage, source, err)}
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, &GraphBuildError{Reason: fmt.Sprintf("stage %q: activation predicate %q: %v", stage, source, err)}
	}

	active, ok := result.(bool)
	if !ok {
		return false, &GraphBuildError{Reason: fmt.Sprintf("stage %q: activation predicate %q is not boolean", stage, source)}
	}
	return active, nil
}
