package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
)

// FingerprintFile returns a stable identity hash for a file: path, size, and
// modification time. Directories hash their sorted entry names the same way.
// This is the item identity fed into downstream cache keys; editing a file in
// place changes its fingerprint without re-reading its content.
func FingerprintFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", path, err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00", path, info.Size(), info.ModTime().UnixNano())
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", fmt.Errorf("fingerprinting %s: %w", path, err)
		}
		for _, entry := range entries {
			fmt.Fprintf(h, "%s\x00", entry.Name())
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintFiles combines the fingerprints of several files into one hash,
// order-independently.
func FingerprintFiles(paths []string) (string, error) {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	h := sha256.New()
	for _, path := range sorted {
		fp, err := FingerprintFile(path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00", fp)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
