// Package pipeline defines the core data model of the dataflow engine: items,
// channels, stage templates, and the stage body contract. The graph builder
// and the executor both operate on these types; neither owns them.
package pipeline
