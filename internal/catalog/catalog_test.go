package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/vk/samplegrid/internal/pipeline"
)

// TestDefault_CatalogIsInternallyConsistent checks the static declaration:
// every consumed channel has a declared producer, every stage is shaped the
// way the engine expects.
func TestDefault_CatalogIsInternallyConsistent(t *testing.T) {
	cat := Default()

	produced := make(map[string]bool)
	for _, src := range cat.Sources {
		produced[src.Channel] = true
	}
	for _, tmpl := range cat.Templates {
		for _, out := range tmpl.Outputs {
			produced[out.Channel] = true
		}
	}

	seen := make(map[string]bool)
	for _, tmpl := range cat.Templates {
		if seen[tmpl.Name] {
			t.Errorf("duplicate template name %q", tmpl.Name)
		}
		seen[tmpl.Name] = true

		if tmpl.Body == nil {
			t.Errorf("template %q has no body", tmpl.Name)
		}

		streams := 0
		for _, in := range tmpl.Inputs {
			if !produced[in.Channel] {
				t.Errorf("template %q consumes channel %q that nothing declares", tmpl.Name, in.Channel)
			}
			switch in.Kind {
			case pipeline.BindStream:
				streams++
				if tmpl.Collect {
					t.Errorf("collect template %q has a stream input", tmpl.Name)
				}
			case pipeline.BindCollect:
				if !tmpl.Collect {
					t.Errorf("non-collect template %q has a collect input", tmpl.Name)
				}
			}
		}
		if !tmpl.Collect && streams != 1 {
			t.Errorf("template %q has %d stream inputs, want 1", tmpl.Name, streams)
		}

		if tmpl.SuppliedBy != "" && len(tmpl.Outputs) != 1 {
			t.Errorf("template %q is parameter-suppliable but declares %d outputs", tmpl.Name, len(tmpl.Outputs))
		}
		if tmpl.Policy == pipeline.PolicyRetry && tmpl.Retry.Attempts < 1 {
			t.Errorf("template %q has a retry policy without attempts", tmpl.Name)
		}
	}
}

func TestDefault_AlignersShareTheQuantsChannel(t *testing.T) {
	cat := Default()

	var producers []string
	for _, tmpl := range cat.Templates {
		for _, out := range tmpl.Outputs {
			if out.Channel == "quants" {
				producers = append(producers, tmpl.Name)
			}
		}
	}
	if len(producers) != 3 {
		t.Fatalf("quants producers = %v, want the three aligners", producers)
	}
	for _, name := range producers {
		if cat.Template(name).When == "" {
			t.Errorf("quants producer %q has no activation predicate", name)
		}
	}
}

func TestTemplateLookup(t *testing.T) {
	cat := Default()
	if cat.Template("fastqc") == nil {
		t.Error("fastqc not found")
	}
	if cat.Template("nonexistent") != nil {
		t.Error("lookup of unknown template must return nil")
	}
}

func testInvocation(t *testing.T, stage string, inputs map[string][]pipeline.Item, outputs []pipeline.OutputSpec) *pipeline.Invocation {
	t.Helper()
	return &pipeline.Invocation{
		Stage:   stage,
		Key:     "sampleA",
		WorkDir: t.TempDir(),
		Inputs:  inputs,
		Outputs: outputs,
	}
}

func TestDecompressWhitelistFn(t *testing.T) {
	t.Run("plain file is copied", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "whitelist.txt")
		if err := os.WriteFile(src, []byte("AAAC\nAAAG\n"), 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		inv := testInvocation(t, "decompress_whitelist",
			map[string][]pipeline.Item{"whitelist_src": {{Key: "whitelist", Files: []string{src}}}},
			[]pipeline.OutputSpec{{Channel: "whitelist", Path: "whitelist.txt"}},
		)

		if err := decompressWhitelistFn(context.Background(), inv); err != nil {
			t.Fatalf("transform: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(inv.WorkDir, "whitelist.txt"))
		if err != nil || string(data) != "AAAC\nAAAG\n" {
			t.Errorf("output = %q, err=%v", data, err)
		}
	})

	t.Run("two inputs is an error", func(t *testing.T) {
		inv := testInvocation(t, "decompress_whitelist",
			map[string][]pipeline.Item{"whitelist_src": {
				{Key: "a", Files: []string{"a", "b"}},
			}},
			[]pipeline.OutputSpec{{Channel: "whitelist", Path: "whitelist.txt"}},
		)
		if err := decompressWhitelistFn(context.Background(), inv); err == nil {
			t.Fatal("expected an error for multiple whitelist files")
		}
	})
}

func TestBarcodeQCFn(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	reads := filepath.Join(dir, "sampleA_R1.fastq")
	fastq := "@r1\nACGT\n+\nFFFF\n@r2\nTTTT\n+\nFFFF\n"
	if err := os.WriteFile(reads, []byte(fastq), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	whitelist := filepath.Join(dir, "whitelist.txt")
	if err := os.WriteFile(whitelist, []byte("AAAC\nAAAG\nAAAT\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	inv := testInvocation(t, "barcode_qc",
		map[string][]pipeline.Item{
			"reads":     {{Key: "sampleA", Files: []string{reads}}},
			"whitelist": {{Key: "whitelist", Files: []string{whitelist}}},
		},
		[]pipeline.OutputSpec{{Channel: "barcode_reports", Path: "sampleA.barcodes.json"}},
	)

	// --- Act ---
	if err := barcodeQCFn(context.Background(), inv); err != nil {
		t.Fatalf("transform: %v", err)
	}

	// --- Assert ---
	data, err := os.ReadFile(filepath.Join(inv.WorkDir, "sampleA.barcodes.json"))
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var report barcodeReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Reads != 2 {
		t.Errorf("reads = %d, want 2", report.Reads)
	}
	if report.ExpectedBarcodes != 3 {
		t.Errorf("expected_barcodes = %d, want 3", report.ExpectedBarcodes)
	}
}

func TestCellMetricsFn_WhitelistOptional(t *testing.T) {
	dir := t.TempDir()
	quants := filepath.Join(dir, "sampleA.quants")
	if err := os.WriteFile(quants, []byte("counts\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	inv := testInvocation(t, "cell_metrics",
		map[string][]pipeline.Item{"quants": {{Key: "sampleA", Files: []string{quants}}}},
		[]pipeline.OutputSpec{{Channel: "cell_reports", Path: "sampleA.cells.json"}},
	)

	if err := cellMetricsFn(context.Background(), inv); err != nil {
		t.Fatalf("transform must tolerate a missing whitelist: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(inv.WorkDir, "sampleA.cells.json"))
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var report cellReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.QuantFiles != 1 || report.ExpectedBarcodes != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestMultiqcReportFn_AggregatesSortedSections(t *testing.T) {
	dir := t.TempDir()
	mk := func(name string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		return path
	}
	inv := testInvocation(t, "multiqc_report",
		map[string][]pipeline.Item{
			"align_logs": {
				{Key: "sampleB", Files: []string{mk("b.log")}},
				{Key: "sampleA", Files: []string{mk("a.log")}},
			},
			"cell_reports": {},
		},
		[]pipeline.OutputSpec{{Channel: "report", Path: "report.json"}},
	)

	if err := multiqcReportFn(context.Background(), inv); err != nil {
		t.Fatalf("transform: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(inv.WorkDir, "report.json"))
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var sections map[string][]reportEntry
	if err := json.Unmarshal(data, &sections); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	logs := sections["align_logs"]
	if len(logs) != 2 || logs[0].Key != "sampleA" || logs[1].Key != "sampleB" {
		t.Errorf("align_logs section = %+v, want sorted by key", logs)
	}
}
