// Package graph builds the concrete execution DAG for one run: it evaluates
// each stage template's activation predicate exactly once against the
// validated parameter set, expands glob sources into per-sample items, wires
// producer channels to consumer ports, and rejects cyclic or unsatisfiable
// wiring before anything executes.
//
// The build is deterministic: an identical catalog and parameter set always
// yield a structurally identical graph. Deactivated templates still own their
// declared output channels, pre-terminated and empty, so downstream wiring is
// identical regardless of which optional branch is active.
package graph
