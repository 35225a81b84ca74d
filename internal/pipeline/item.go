package pipeline

// Item is a single value flowing through a channel: an identity key paired
// with one or more file references. Items are immutable once published.
type Item struct {
	// Key identifies the item within its channel, e.g. a sample name for
	// per-sample items or an artifact name for shared artifacts.
	Key string
	// Files holds absolute paths to the files backing this item.
	Files []string
	// Hash is the content fingerprint of the item, set by whoever produced
	// it. It feeds the cache key of downstream consumers.
	Hash string
}
