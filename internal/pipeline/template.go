package pipeline

import "time"

// BindKind describes how a stage consumes one of its input channels.
type BindKind int

const (
	// BindStream is the primary per-item input: each arriving item spawns
	// one stage instance. A per-item stage has exactly one stream binding.
	BindStream BindKind = iota
	// BindBroadcast is a shared single-artifact input: the channel's one item
	// is held and replayed to every instance of the consuming stage.
	BindBroadcast
	// BindCollect is a barrier input: the consumer only fires after the
	// channel has terminated, receiving everything it carried at once.
	BindCollect
)

// InputBinding wires one input channel into a stage template.
type InputBinding struct {
	Channel string
	Kind    BindKind
}

// OutputSpec declares one output channel of a stage and the relative path,
// inside the instance working directory, of the file backing each produced
// item. The literal "{key}" in Path is replaced with the instance's item key.
type OutputSpec struct {
	Channel string
	Path    string
}

// ErrorPolicy selects how an instance failure is resolved.
type ErrorPolicy int

const (
	// PolicyFatal aborts the whole run on the first failure.
	PolicyFatal ErrorPolicy = iota
	// PolicyTolerate records and counts the failure, emits nothing for the
	// failed instance, and lets the rest of the run proceed.
	PolicyTolerate
	// PolicyRetry re-attempts the instance up to a bound, then turns fatal.
	PolicyRetry
)

func (p ErrorPolicy) String() string {
	switch p {
	case PolicyFatal:
		return "fatal"
	case PolicyTolerate:
		return "tolerate"
	case PolicyRetry:
		return "retry"
	}
	return "unknown"
}

// RetrySpec bounds the PolicyRetry re-attempt loop.
type RetrySpec struct {
	Attempts int
	Delay    time.Duration
}

// Resources are scheduling hints used for admission control, not hard limits.
type Resources struct {
	CPUs     int
	MemoryMB int
}

// Template is the static, declarative description of one unit of work. The
// catalog of templates is fixed at compile time; which templates contribute
// instances to a given run is decided once, at graph build time, by When.
type Template struct {
	// Name uniquely identifies the template within a catalog.
	Name string
	// Phase groups published outputs in the human-facing output tree.
	Phase string

	// Collect marks a barrier stage: exactly one instance, fired only after
	// every input channel has terminated. Non-collect stages run one
	// instance per item on their stream input.
	Collect bool

	Inputs  []InputBinding
	Outputs []OutputSpec

	// When is an activation predicate over the parameter set, in expr
	// syntax, evaluated exactly once per run at graph build time. Empty
	// means always active.
	When string

	// SuppliedBy names a parameter that, when set, supplies this template's
	// single output directly; the template is then forced inactive and its
	// output channel carries the supplied artifact instead.
	SuppliedBy string

	// CacheParams lists the parameter keys that are relevant to this
	// stage's cache key. Parameters outside this list never invalidate it.
	CacheParams []string

	Resources Resources
	Policy    ErrorPolicy
	Retry     RetrySpec

	// Publish copies successful outputs into the run's output tree, under
	// the template's phase directory.
	Publish bool

	Body Body
}

// StreamInput returns the template's stream binding, if it has one.
func (t *Template) StreamInput() (InputBinding, bool) {
	for _, in := range t.Inputs {
		if in.Kind == BindStream {
			return in, true
		}
	}
	return InputBinding{}, false
}

// Catalog is a static set of stage templates plus the parameter-fed source
// channels they consume.
type Catalog struct {
	Sources   []Source
	Templates []*Template
}

// Source declares a channel fed directly from the parameter set rather than
// by a producing stage.
type Source struct {
	// Channel names the channel the source feeds.
	Channel string
	// Param is the parameter key holding the path (or glob) to load.
	Param string
	// Glob expands the parameter value as a filesystem glob, one item per
	// matched sample group. Non-glob sources carry at most one item.
	Glob bool
	// Optional sources with an unset parameter become empty terminated
	// channels instead of failing the build.
	Optional bool
}

// Template returns the named template, or nil.
func (c *Catalog) Template(name string) *Template {
	for _, t := range c.Templates {
		if t.Name == name {
			return t
		}
	}
	return nil
}
