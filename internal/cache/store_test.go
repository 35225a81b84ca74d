package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vk/samplegrid/internal/params"
	"github.com/vk/samplegrid/internal/pipeline"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", name, err)
	}
	return path
}

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func testSet(t *testing.T, aligner string) *params.Set {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "sampleA_R1.fastq.gz", "@r\nACGT\n+\nFFFF\n")
	raw := &params.Raw{
		Reads:           filepath.Join(dir, "*.fastq.gz"),
		Aligner:         aligner,
		TranscriptFasta: writeFile(t, dir, "transcripts.fa", ">t1\nACGT\n"),
		OutDir:          filepath.Join(dir, "out"),
	}
	set, err := params.Validate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return set
}

func quantTemplate() *pipeline.Template {
	return &pipeline.Template{
		Name:        "alevin_quant",
		CacheParams: []string{"aligner"},
		Outputs:     []pipeline.OutputSpec{{Channel: "quants", Path: "{key}.alevin"}},
		Body:        &pipeline.ExecBody{Argv: []string{"salmon", "alevin"}},
	}
}

func TestComputeKey(t *testing.T) {
	set := testSet(t, params.AlignerAlevin)
	tmpl := quantTemplate()
	inputs := map[string][]pipeline.Item{
		"reads": {{Key: "sampleA", Hash: "h1"}},
	}

	t.Run("stable across calls", func(t *testing.T) {
		if ComputeKey(tmpl, inputs, set) != ComputeKey(tmpl, inputs, set) {
			t.Error("same template and inputs must produce the same key")
		}
	})

	t.Run("input identity changes the key", func(t *testing.T) {
		changed := map[string][]pipeline.Item{
			"reads": {{Key: "sampleA", Hash: "h2"}},
		}
		if ComputeKey(tmpl, inputs, set) == ComputeKey(tmpl, changed, set) {
			t.Error("input hash change must change the key")
		}
	})

	t.Run("relevant parameter changes the key", func(t *testing.T) {
		other := testSet(t, params.AlignerKallisto)
		if ComputeKey(tmpl, inputs, set) == ComputeKey(tmpl, inputs, other) {
			t.Error("aligner is in CacheParams and must affect the key")
		}
	})

	t.Run("irrelevant parameter does not change the key", func(t *testing.T) {
		other := testSet(t, params.AlignerAlevin)
		// other differs from set in reads, outdir and cache_dir paths, none
		// of which are in CacheParams.
		if ComputeKey(tmpl, inputs, set) != ComputeKey(tmpl, inputs, other) {
			t.Error("parameters outside CacheParams must not affect the key")
		}
	})

	t.Run("body fingerprint changes the key", func(t *testing.T) {
		changed := quantTemplate()
		changed.Body = &pipeline.ExecBody{Argv: []string{"salmon", "alevin", "--dumpFeatures"}}
		if ComputeKey(tmpl, inputs, set) == ComputeKey(changed, inputs, set) {
			t.Error("command line change must change the key")
		}
	})

	t.Run("item order does not change the key", func(t *testing.T) {
		forward := map[string][]pipeline.Item{
			"logs": {{Key: "a", Hash: "h1"}, {Key: "b", Hash: "h2"}},
		}
		backward := map[string][]pipeline.Item{
			"logs": {{Key: "b", Hash: "h2"}, {Key: "a", Hash: "h1"}},
		}
		if ComputeKey(tmpl, forward, set) != ComputeKey(tmpl, backward, set) {
			t.Error("key must be independent of item arrival order")
		}
	})
}

func TestStore_MissOnFreshStore(t *testing.T) {
	store := testStore(t)
	set := testSet(t, params.AlignerAlevin)
	key := ComputeKey(quantTemplate(), nil, set)

	entry, err := store.Lookup(context.Background(), key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry != nil {
		t.Fatal("fresh store returned a hit")
	}
}

func TestStore_CommitThenLookup(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	store := testStore(t)
	set := testSet(t, params.AlignerAlevin)
	key := ComputeKey(quantTemplate(), nil, set)

	workDir := t.TempDir()
	produced := map[string]pipeline.Item{
		"quants": {Key: "sampleA", Files: []string{writeFile(t, workDir, "sampleA.alevin", "counts\n")}},
	}

	// --- Act ---
	committed, err := store.Commit(ctx, key, produced)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	hit, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	// --- Assert ---
	if hit == nil {
		t.Fatal("expected a hit after commit")
	}
	item := hit.Outputs["quants"]
	if item.Key != "sampleA" {
		t.Errorf("item key = %q", item.Key)
	}
	if len(item.Files) != 1 || !strings.HasPrefix(item.Files[0], store.Dir()) {
		t.Errorf("hit must point into the store, got %v", item.Files)
	}
	if data, err := os.ReadFile(item.Files[0]); err != nil || string(data) != "counts\n" {
		t.Errorf("store copy content: %q, err=%v", data, err)
	}

	// Committed entry and later hit agree on identity, so a resumed run
	// derives identical downstream keys.
	if committed.Outputs["quants"].Hash != item.Hash {
		t.Error("commit and lookup disagree on item hash")
	}

	// The original working-directory file is not what downstream sees.
	if item.Files[0] == produced["quants"].Files[0] {
		t.Error("hit references the transient working directory")
	}
}

func TestStore_MissingMarkerIsAMiss(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	set := testSet(t, params.AlignerAlevin)
	key := ComputeKey(quantTemplate(), nil, set)

	workDir := t.TempDir()
	if _, err := store.Commit(ctx, key, map[string]pipeline.Item{
		"quants": {Key: "sampleA", Files: []string{writeFile(t, workDir, "f", "x")}},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Simulate a run that died between metadata and marker.
	if err := os.Remove(filepath.Join(store.entryDir(key), markerFile)); err != nil {
		t.Fatalf("removing marker: %v", err)
	}

	entry, err := store.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry != nil {
		t.Fatal("entry without a marker must be a plain miss")
	}
}

func TestStore_CorruptEntryIsInconsistent(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	set := testSet(t, params.AlignerAlevin)
	key := ComputeKey(quantTemplate(), nil, set)

	workDir := t.TempDir()
	if _, err := store.Commit(ctx, key, map[string]pipeline.Item{
		"quants": {Key: "sampleA", Files: []string{writeFile(t, workDir, "f", "x")}},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	t.Run("missing artifact", func(t *testing.T) {
		entry, err := store.Lookup(ctx, key)
		if err != nil || entry == nil {
			t.Fatalf("precondition: hit expected, entry=%v err=%v", entry, err)
		}
		if err := os.Remove(entry.Outputs["quants"].Files[0]); err != nil {
			t.Fatalf("removing artifact: %v", err)
		}

		_, err = store.Lookup(ctx, key)
		var inconsistent *InconsistencyError
		if !errors.As(err, &inconsistent) {
			t.Fatalf("expected InconsistencyError, got %v", err)
		}
	})

	t.Run("corrupt metadata", func(t *testing.T) {
		writeFile(t, store.entryDir(key), metadataFile, "{not json")

		_, err := store.Lookup(ctx, key)
		var inconsistent *InconsistencyError
		if !errors.As(err, &inconsistent) {
			t.Fatalf("expected InconsistencyError, got %v", err)
		}
	})
}

func TestStore_RecommitReplacesEntry(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	set := testSet(t, params.AlignerAlevin)
	key := ComputeKey(quantTemplate(), nil, set)

	workDir := t.TempDir()
	first := map[string]pipeline.Item{
		"quants": {Key: "sampleA", Files: []string{writeFile(t, workDir, "a", "first")}},
	}
	second := map[string]pipeline.Item{
		"quants": {Key: "sampleA", Files: []string{writeFile(t, workDir, "b", "second")}},
	}

	if _, err := store.Commit(ctx, key, first); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if _, err := store.Commit(ctx, key, second); err != nil {
		t.Fatalf("second Commit: %v", err)
	}

	hit, err := store.Lookup(ctx, key)
	if err != nil || hit == nil {
		t.Fatalf("Lookup: entry=%v err=%v", hit, err)
	}
	data, err := os.ReadFile(hit.Outputs["quants"].Files[0])
	if err != nil || string(data) != "second" {
		t.Errorf("recommit content: %q, err=%v", data, err)
	}
}
