package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testInvocation(t *testing.T) *Invocation {
	t.Helper()
	return &Invocation{
		Stage:   "star_align",
		Key:     "sampleA",
		WorkDir: t.TempDir(),
		Inputs: map[string][]Item{
			"reads": {{Key: "sampleA", Files: []string{"/data/sampleA_R1.fastq.gz", "/data/sampleA_R2.fastq.gz"}}},
		},
		Outputs: []OutputSpec{
			{Channel: "quants", Path: "sampleA.solo"},
		},
	}
}

func TestResolvePlaceholders(t *testing.T) {
	inv := testInvocation(t)

	t.Run("input files are space-joined", func(t *testing.T) {
		got, err := resolvePlaceholders("--readFilesIn {in.reads}", inv)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		want := "--readFilesIn /data/sampleA_R1.fastq.gz /data/sampleA_R2.fastq.gz"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("output resolves under the working directory", func(t *testing.T) {
		got, err := resolvePlaceholders("{out.quants}", inv)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got != filepath.Join(inv.WorkDir, "sampleA.solo") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("key placeholder", func(t *testing.T) {
		got, err := resolvePlaceholders("{key}.align.log", inv)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got != "sampleA.align.log" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("missing required input is an error", func(t *testing.T) {
		if _, err := resolvePlaceholders("{in.whitelist}", inv); err == nil {
			t.Fatal("expected an error for an unbound required input")
		}
	})

	t.Run("missing optional input resolves empty", func(t *testing.T) {
		got, err := resolvePlaceholders("--whitelist {in.whitelist?}", inv)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got != "--whitelist " {
			t.Errorf("got %q", got)
		}
	})

	t.Run("literal braces pass through", func(t *testing.T) {
		got, err := resolvePlaceholders("*_{R1,R2}.fastq.gz", inv)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got != "*_{R1,R2}.fastq.gz" {
			t.Errorf("got %q", got)
		}
	})
}

func TestExecBody_FailureCarriesDiagnostics(t *testing.T) {
	// --- Arrange ---
	inv := testInvocation(t)
	body := &ExecBody{Argv: []string{"sh", "-c", "echo boom >&2; exit 3"}}

	// --- Act ---
	err := body.Run(context.Background(), inv)

	// --- Assert ---
	var stageErr *StageExecutionError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageExecutionError, got %v", err)
	}
	if stageErr.Stage != "star_align" || stageErr.Key != "sampleA" {
		t.Errorf("error identity: stage=%q key=%q", stageErr.Stage, stageErr.Key)
	}
	if !strings.Contains(stageErr.Diagnostics, "boom") {
		t.Errorf("diagnostics missing command output: %q", stageErr.Diagnostics)
	}
}

func TestExecBody_RunsInWorkDir(t *testing.T) {
	inv := testInvocation(t)
	body := &ExecBody{Argv: []string{"sh", "-c", "echo done > {out.quants}"}}

	if err := body.Run(context.Background(), inv); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inv.WorkDir, "sampleA.solo")); err != nil {
		t.Fatalf("declared output missing: %v", err)
	}
}

func TestTransformBody_WrapsPlainErrors(t *testing.T) {
	inv := testInvocation(t)
	body := &TransformBody{
		Name:    "cell_metrics",
		Version: "1",
		Fn: func(ctx context.Context, inv *Invocation) error {
			return errors.New("short read")
		},
	}

	err := body.Run(context.Background(), inv)

	var stageErr *StageExecutionError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageExecutionError, got %v", err)
	}
	if stageErr.Reason != "short read" {
		t.Errorf("reason=%q", stageErr.Reason)
	}
}

func TestFingerprints_DistinguishBodies(t *testing.T) {
	a := &ExecBody{Argv: []string{"salmon", "index"}}
	b := &ExecBody{Argv: []string{"salmon index"}}
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("argv boundary must affect the fingerprint")
	}

	t1 := &TransformBody{Name: "cell_metrics", Version: "1"}
	t2 := &TransformBody{Name: "cell_metrics", Version: "2"}
	if t1.Fingerprint() == t2.Fingerprint() {
		t.Error("transform version must affect the fingerprint")
	}
}
