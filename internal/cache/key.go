package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/vk/samplegrid/internal/params"
	"github.com/vk/samplegrid/internal/pipeline"
)

// Key addresses one cache entry: a deterministic fingerprint over a stage's
// identity, its bound inputs, and its relevant parameters.
type Key string

// ComputeKey derives the cache key of one stage instance. Every component is
// length-prefixed and sorted before hashing, so the key is independent of map
// iteration order and immune to concatenation ambiguity.
func ComputeKey(t *pipeline.Template, inputs map[string][]pipeline.Item, set *params.Set) Key {
	h := sha256.New()

	writeComponent(h, t.Name)
	writeComponent(h, t.Body.Fingerprint())

	channels := make([]string, 0, len(inputs))
	for name := range inputs {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	for _, name := range channels {
		writeComponent(h, "in:"+name)
		items := inputs[name]
		sorted := make([]pipeline.Item, len(items))
		copy(sorted, items)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
		for _, item := range sorted {
			writeComponent(h, item.Key)
			writeComponent(h, item.Hash)
		}
	}

	relevant := make([]string, len(t.CacheParams))
	copy(relevant, t.CacheParams)
	sort.Strings(relevant)
	values := set.Map()
	for _, key := range relevant {
		writeComponent(h, fmt.Sprintf("param:%s=%v", key, values[key]))
	}

	return Key(hex.EncodeToString(h.Sum(nil)))
}

func writeComponent(w io.Writer, s string) {
	fmt.Fprintf(w, "%d:%s", len(s), s)
}
