package catalog

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/samplegrid/internal/pipeline"
)

// decompressWhitelistFn writes the whitelist as plain text regardless of how
// it was supplied.
func decompressWhitelistFn(ctx context.Context, inv *pipeline.Invocation) error {
	files := inv.InputFiles("whitelist_src")
	if len(files) != 1 {
		return fmt.Errorf("expected exactly one whitelist file, got %d", len(files))
	}
	src, err := openReads(files[0])
	if err != nil {
		return err
	}
	defer src.Close()

	outPath, err := inv.OutputPath("whitelist")
	if err != nil {
		return err
	}
	dst, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

type cellReport struct {
	Sample           string `json:"sample"`
	QuantFiles       int    `json:"quant_files"`
	QuantBytes       int64  `json:"quant_bytes"`
	ExpectedBarcodes int    `json:"expected_barcodes,omitempty"`
}

// cellMetricsFn summarizes a sample's quantification output: file counts and
// sizes, plus the whitelist cardinality when one was bound.
func cellMetricsFn(ctx context.Context, inv *pipeline.Invocation) error {
	report := cellReport{Sample: inv.Key}

	for _, path := range inv.InputFiles("quants") {
		files, bytes, err := measure(path)
		if err != nil {
			return err
		}
		report.QuantFiles += files
		report.QuantBytes += bytes
	}

	if wl := inv.InputFiles("whitelist"); len(wl) > 0 {
		n, err := countLines(wl[0])
		if err != nil {
			return err
		}
		report.ExpectedBarcodes = n
	}

	return writeJSON(inv, "cell_reports", report)
}

type barcodeReport struct {
	Sample           string `json:"sample"`
	Reads            int    `json:"reads"`
	ExpectedBarcodes int    `json:"expected_barcodes"`
}

// barcodeQCFn counts fastq records across the sample's read files and pairs
// the count with the whitelist cardinality.
func barcodeQCFn(ctx context.Context, inv *pipeline.Invocation) error {
	report := barcodeReport{Sample: inv.Key}

	for _, path := range inv.InputFiles("reads") {
		if err := ctx.Err(); err != nil {
			return err
		}
		lines, err := countLines(path)
		if err != nil {
			return err
		}
		report.Reads += lines / 4
	}

	if wl := inv.InputFiles("whitelist"); len(wl) > 0 {
		n, err := countLines(wl[0])
		if err != nil {
			return err
		}
		report.ExpectedBarcodes = n
	}

	return writeJSON(inv, "barcode_reports", report)
}

type reportEntry struct {
	Key   string `json:"key"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

// multiqcReportFn aggregates everything the run produced into a single JSON
// document, one section per collected channel, entries sorted by item key.
func multiqcReportFn(ctx context.Context, inv *pipeline.Invocation) error {
	sections := make(map[string][]reportEntry, len(inv.Inputs))
	for channel, items := range inv.Inputs {
		entries := make([]reportEntry, 0, len(items))
		for _, item := range items {
			entry := reportEntry{Key: item.Key}
			for _, path := range item.Files {
				files, bytes, err := measure(path)
				if err != nil {
					return err
				}
				entry.Files += files
				entry.Bytes += bytes
			}
			entries = append(entries, entry)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		sections[channel] = entries
	}
	return writeJSON(inv, "report", sections)
}

// openReads opens a file, transparently decompressing by extension.
func openReads(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", filepath.Base(path), err)
		}
		return &wrappedReader{Reader: zr, closer: f}, nil
	case strings.HasSuffix(path, ".bz2"):
		return &wrappedReader{Reader: bzip2.NewReader(f), closer: f}, nil
	}
	return f, nil
}

type wrappedReader struct {
	io.Reader
	closer io.Closer
}

func (w *wrappedReader) Close() error { return w.closer.Close() }

func countLines(path string) (int, error) {
	r, err := openReads(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

// measure returns the file count and total byte size under a path, which may
// be a single file or a directory tree.
func measure(path string) (int, int64, error) {
	var files int
	var bytes int64
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return files, bytes, nil
}

func writeJSON(inv *pipeline.Invocation, channel string, v any) error {
	path, err := inv.OutputPath(channel)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
