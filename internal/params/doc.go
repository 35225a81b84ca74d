// Package params loads, normalizes, and validates the parameter set of one
// pipeline run. Validation is eager and short-circuiting: the first violated
// constraint aborts the run before any graph is built. The validated Set is
// immutable and is the only configuration any downstream component sees; no
// component reads ambient global state.
package params
