package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/pipeline"
)

const (
	metadataFile = "metadata.json"
	markerFile   = "ok"
	outputsDir   = "outputs"
)

// Entry is one recorded stage instance result: the produced items, with file
// paths rewritten to the stable copies inside the store.
type Entry struct {
	Key Key
	// Outputs maps output channel names to the recorded item.
	Outputs map[string]pipeline.Item
}

// entryMetadata is the on-disk form of an Entry.
type entryMetadata struct {
	Key     string                    `json:"key"`
	Outputs map[string]recordedOutput `json:"outputs"`
}

type recordedOutput struct {
	ItemKey string   `json:"item_key"`
	Files   []string `json:"files"`
}

// Store is a durable key -> artifact mapping on the local filesystem.
//
// Layout:
//
//	{dir}/{key[:2]}/{key}/metadata.json
//	{dir}/{key[:2]}/{key}/ok
//	{dir}/{key[:2]}/{key}/outputs/{channel}/{file}
//
// Writes to one key are serialized within a run; the success marker is
// written last, so a key without a marker is never treated as a hit.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// NewStore opens (and creates if needed) a cache store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache store: %w", err)
	}
	return &Store{dir: dir, locks: make(map[Key]*sync.Mutex)}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) entryDir(key Key) string {
	return filepath.Join(s.dir, string(key[:2]), string(key))
}

// keyLock returns the per-key writer lock, creating it on first use.
func (s *Store) keyLock(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Lookup resolves a key. It returns (nil, nil) on a plain miss, the recorded
// entry on a hit, and (nil, *InconsistencyError) when the key exists but its
// backing artifacts are unusable; callers treat the last case as a miss.
func (s *Store) Lookup(ctx context.Context, key Key) (*Entry, error) {
	entryDir := s.entryDir(key)

	if _, err := os.Stat(filepath.Join(entryDir, markerFile)); err != nil {
		if os.IsNotExist(err) {
			// Either nothing recorded, or a prior run died before the
			// marker: both re-execute.
			return nil, nil
		}
		return nil, fmt.Errorf("checking cache marker: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(entryDir, metadataFile))
	if err != nil {
		return nil, &InconsistencyError{Key: key, Reason: fmt.Sprintf("marker present but metadata unreadable: %v", err)}
	}
	var meta entryMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, &InconsistencyError{Key: key, Reason: fmt.Sprintf("corrupt metadata: %v", err)}
	}

	entry := &Entry{Key: key, Outputs: make(map[string]pipeline.Item, len(meta.Outputs))}
	for channel, rec := range meta.Outputs {
		item := pipeline.Item{Key: rec.ItemKey}
		for _, rel := range rec.Files {
			abs := filepath.Join(entryDir, outputsDir, rel)
			if _, err := os.Stat(abs); err != nil {
				return nil, &InconsistencyError{Key: key, Reason: fmt.Sprintf("recorded artifact %s missing: %v", rel, err)}
			}
			item.Files = append(item.Files, abs)
		}
		hash, err := pipeline.FingerprintFiles(item.Files)
		if err != nil {
			return nil, &InconsistencyError{Key: key, Reason: err.Error()}
		}
		item.Hash = hash
		entry.Outputs[channel] = item
	}

	ctxlog.FromContext(ctx).Debug("Cache hit.", "key", shortKey(key))
	return entry, nil
}

// Commit records a successful instance: it copies each produced output file
// into the store, writes metadata, and finally the success marker. The
// returned entry points at the stable store copies, which downstream
// consumers and resumed runs both see, so artifact identities are reproducible.
func (s *Store) Commit(ctx context.Context, key Key, produced map[string]pipeline.Item) (*Entry, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	entryDir := s.entryDir(key)
	// Rebuild from scratch: a partial prior entry (no marker) is discarded.
	if err := os.RemoveAll(entryDir); err != nil {
		return nil, fmt.Errorf("clearing cache entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(entryDir, outputsDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache entry: %w", err)
	}

	meta := entryMetadata{Key: string(key), Outputs: make(map[string]recordedOutput)}
	entry := &Entry{Key: key, Outputs: make(map[string]pipeline.Item)}

	channels := make([]string, 0, len(produced))
	for name := range produced {
		channels = append(channels, name)
	}
	sort.Strings(channels)

	for _, channel := range channels {
		item := produced[channel]
		channelDir := filepath.Join(entryDir, outputsDir, channel)
		if err := os.MkdirAll(channelDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache entry: %w", err)
		}

		rec := recordedOutput{ItemKey: item.Key}
		stored := pipeline.Item{Key: item.Key}
		for _, src := range item.Files {
			dst := filepath.Join(channelDir, filepath.Base(src))
			if err := copyPath(src, dst); err != nil {
				return nil, fmt.Errorf("recording output for channel %s: %w", channel, err)
			}
			rec.Files = append(rec.Files, filepath.Join(channel, filepath.Base(src)))
			stored.Files = append(stored.Files, dst)
		}
		hash, err := pipeline.FingerprintFiles(stored.Files)
		if err != nil {
			return nil, err
		}
		stored.Hash = hash
		meta.Outputs[channel] = rec
		entry.Outputs[channel] = stored
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding cache metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(entryDir, metadataFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing cache metadata: %w", err)
	}

	// The marker is the commit point. Everything before it is invisible to
	// Lookup.
	if err := os.WriteFile(filepath.Join(entryDir, markerFile), nil, 0o644); err != nil {
		return nil, fmt.Errorf("writing cache marker: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("Cache entry committed.", "key", shortKey(key))
	return entry, nil
}

// copyPath copies src to dst. Stage outputs may be whole directories (index
// builds, QC report trees), so directory sources are walked and recreated.
func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
