package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vk/samplegrid/internal/params"
	"github.com/vk/samplegrid/internal/pipeline"
)

// writeTree creates a directory with a nested report layout, the shape an
// index build or QC tool leaves behind, and returns its path.
func writeTree(t *testing.T, dir, name string) string {
	t.Helper()
	root := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Join(root, "images"), 0o755); err != nil {
		t.Fatalf("failed to create fixture tree %s: %v", name, err)
	}
	writeFile(t, root, "summary.txt", "pass\n")
	writeFile(t, filepath.Join(root, "images"), "plot.png", "png\n")
	return root
}

func TestStore_CommitDirectoryOutput(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	store := testStore(t)
	set := testSet(t, params.AlignerAlevin)
	key := ComputeKey(quantTemplate(), nil, set)

	workDir := t.TempDir()
	produced := map[string]pipeline.Item{
		"fastqc_reports": {Key: "sampleA", Files: []string{writeTree(t, workDir, "qc")}},
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
	item := hit.Outputs["fastqc_reports"]
	if len(item.Files) != 1 || !strings.HasPrefix(item.Files[0], store.Dir()) {
		t.Fatalf("hit must point into the store, got %v", item.Files)
	}
	info, err := os.Stat(item.Files[0])
	if err != nil || !info.IsDir() {
		t.Fatalf("stored output must be a directory, got info=%v err=%v", info, err)
	}
	nested := filepath.Join(item.Files[0], "images", "plot.png")
	if data, err := os.ReadFile(nested); err != nil || string(data) != "png\n" {
		t.Errorf("nested file not preserved: data=%q err=%v", data, err)
	}
	if item.Hash == "" || item.Hash != committed.Outputs["fastqc_reports"].Hash {
		t.Errorf("hit hash %q must match the committed hash %q", item.Hash, committed.Outputs["fastqc_reports"].Hash)
	}
}

func TestPublisher_ScopesKeepSameNamedOutputsApart(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	outDir := t.TempDir()
	pub := NewPublisher(outDir)

	// Two samples each produce a directory with the same name.
	dirA := writeTree(t, t.TempDir(), "qc")
	dirB := writeTree(t, t.TempDir(), "qc")

	// --- Act ---
	if err := pub.Publish(ctx, "qc", "sampleA", []pipeline.Item{{Key: "sampleA", Files: []string{dirA}}}); err != nil {
		t.Fatalf("Publish sampleA: %v", err)
	}
	if err := pub.Publish(ctx, "qc", "sampleB", []pipeline.Item{{Key: "sampleB", Files: []string{dirB}}}); err != nil {
		t.Fatalf("Publish sampleB: %v", err)
	}

	// --- Assert ---
	for _, sample := range []string{"sampleA", "sampleB"} {
		published := filepath.Join(outDir, "qc", sample, "qc", "summary.txt")
		if _, err := os.Stat(published); err != nil {
			t.Errorf("published tree for %s missing: %v", sample, err)
		}
	}
}

func TestPublisher_EmptyScopePublishesFlat(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	outDir := t.TempDir()
	pub := NewPublisher(outDir)
	report := writeFile(t, t.TempDir(), "report.json", "{}\n")

	// --- Act ---
	err := pub.Publish(ctx, "report", "", []pipeline.Item{{Key: "multiqc_report", Files: []string{report}}})

	// --- Assert ---
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(outDir, "report", "report.json")); statErr != nil {
		t.Errorf("flat publish missing: %v", statErr)
	}
}
