// Package cache provides resumable, content-addressed caching of stage
// instance outputs, plus publishing of terminal artifacts into the
// human-facing output tree.
//
// The cache store is addressed purely by key: sha256 over the stage identity,
// the identity hash of every bound input item, and the subset of parameters
// the stage declares as relevant. A key maps to a directory holding the
// recorded outputs and a success marker; the marker is written last and only
// on success, so an interrupted run never resumes from partial work.
package cache
