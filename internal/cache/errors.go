package cache

import "fmt"

// InconsistencyError reports a recorded cache key whose backing artifacts are
// missing or corrupt. It is always resolved as a cache miss: the instance
// re-executes and the entry is rewritten, never served stale or partial.
type InconsistencyError struct {
	Key    Key
	Reason string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("cache entry %s is inconsistent: %s", shortKey(e.Key), e.Reason)
}

func shortKey(k Key) string {
	if len(k) > 12 {
		return string(k[:12])
	}
	return string(k)
}
