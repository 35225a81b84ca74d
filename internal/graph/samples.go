package graph

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vk/samplegrid/internal/pipeline"
)

// readSuffix strips mate-pair markers (_R1/_R2/_1/_2) from a file stem so
// paired reads group under one sample key.
var readSuffix = regexp.MustCompile(`_(R?[12])$`)

// expandGlob resolves a filesystem glob into per-sample items: one item per
// sample key, carrying every file that shares the key, in sorted order. Item
// identity comes from the match key, never from match position.
func expandGlob(channel, pattern string) ([]pipeline.Item, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, &GraphBuildError{Reason: "bad glob pattern " + pattern + ": " + err.Error()}
	}
	if len(matches) == 0 {
		return nil, &MissingInputError{Channel: channel, Pattern: pattern}
	}
	sort.Strings(matches)

	groups := make(map[string][]string)
	for _, match := range matches {
		abs, err := filepath.Abs(match)
		if err != nil {
			abs = match
		}
		key := sampleKey(match)
		groups[key] = append(groups[key], abs)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := make([]pipeline.Item, 0, len(keys))
	for _, key := range keys {
		files := groups[key]
		sort.Strings(files)
		hash, err := pipeline.FingerprintFiles(files)
		if err != nil {
			return nil, &GraphBuildError{Reason: err.Error()}
		}
		items = append(items, pipeline.Item{Key: key, Files: files, Hash: hash})
	}
	return items, nil
}

// sampleKey derives the sample identity from a matched file path: the base
// name with compression and read-format extensions removed, then any
// mate-pair suffix stripped.
func sampleKey(path string) string {
	stem := filepath.Base(path)
	for _, ext := range []string{".gz", ".bz2", ".fastq", ".fq", ".fasta", ".fa", ".bam"} {
		stem = strings.TrimSuffix(stem, ext)
	}
	return readSuffix.ReplaceAllString(stem, "")
}
