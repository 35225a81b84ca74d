package params

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vk/samplegrid/internal/ctxlog"
)

// Validate normalizes a raw parameter set and checks every constraint class
// in a fixed order, returning on the first violation. On success the returned
// Set is immutable and safe to share across goroutines.
func Validate(ctx context.Context, raw *Raw) (*Set, error) {
	logger := ctxlog.FromContext(ctx)

	if raw.Profile == "" {
		raw.Profile = ProfileLocal
	}
	if raw.CacheDir == "" && raw.OutDir != "" {
		raw.CacheDir = filepath.Join(raw.OutDir, ".cache")
	}

	checks := []func(*Raw) error{
		checkRequired,
		checkAligner,
		checkReferenceInputs,
		checkReadsGlob,
		checkWhitelist,
		checkProfile,
	}
	for _, check := range checks {
		if err := check(raw); err != nil {
			return nil, err
		}
	}

	logger.Debug("Parameter set validated.", "aligner", raw.Aligner, "profile", raw.Profile)
	return &Set{
		reads:            raw.Reads,
		aligner:          raw.Aligner,
		genomeFasta:      raw.GenomeFasta,
		gtf:              raw.GTF,
		transcriptFasta:  raw.TranscriptFasta,
		starIndex:        raw.STARIndex,
		salmonIndex:      raw.SalmonIndex,
		kallistoIndex:    raw.KallistoIndex,
		barcodeWhitelist: raw.BarcodeWhitelist,
		outDir:           raw.OutDir,
		cacheDir:         raw.CacheDir,
		profile:          raw.Profile,
		workBucket:       raw.WorkBucket,
		jobQueue:         raw.JobQueue,
		remotePrefix:     raw.RemotePrefix,
	}, nil
}

func checkRequired(raw *Raw) error {
	if raw.Reads == "" {
		return &ConfigurationError{Field: "reads", Reason: "required"}
	}
	if raw.Aligner == "" {
		return &ConfigurationError{Field: "aligner", Reason: "required"}
	}
	if raw.OutDir == "" {
		return &ConfigurationError{Field: "outdir", Reason: "required"}
	}
	return nil
}

func checkAligner(raw *Raw) error {
	switch raw.Aligner {
	case AlignerSTAR, AlignerAlevin, AlignerKallisto:
		return nil
	}
	return &ConfigurationError{
		Field: "aligner",
		Reason: fmt.Sprintf("unknown value %q, must be one of %q, %q, %q",
			raw.Aligner, AlignerSTAR, AlignerAlevin, AlignerKallisto),
	}
}

// checkReferenceInputs enforces the conditional reference requirements: some
// inputs only become mandatory once a particular aligner is selected.
func checkReferenceInputs(raw *Raw) error {
	switch raw.Aligner {
	case AlignerSTAR:
		if raw.GTF == "" {
			return &ConfigurationError{Field: "gtf", Reason: "a gene annotation file is required when aligner is \"star\""}
		}
		if raw.STARIndex == "" && raw.GenomeFasta == "" {
			return &ConfigurationError{Field: "genome_fasta", Reason: "either star_index or genome_fasta must be supplied"}
		}
	case AlignerAlevin, AlignerKallisto:
		index := raw.SalmonIndex
		if raw.Aligner == AlignerKallisto {
			index = raw.KallistoIndex
		}
		if index != "" || raw.TranscriptFasta != "" {
			return nil
		}
		if raw.GenomeFasta == "" || raw.GTF == "" {
			return &ConfigurationError{
				Field:  "transcript_fasta",
				Reason: fmt.Sprintf("aligner %q needs a transcript fasta, a prebuilt index, or both genome_fasta and gtf to derive one", raw.Aligner),
			}
		}
	}
	return nil
}

// checkReadsGlob resolves the reads pattern eagerly: an empty match is a
// configuration error, never an empty run.
func checkReadsGlob(raw *Raw) error {
	matches, err := doublestar.FilepathGlob(raw.Reads)
	if err != nil {
		return &ConfigurationError{Field: "reads", Reason: fmt.Sprintf("bad glob pattern: %v", err)}
	}
	if len(matches) == 0 {
		return &ConfigurationError{Field: "reads", Reason: fmt.Sprintf("pattern %q matched no files", raw.Reads)}
	}
	return nil
}

func checkWhitelist(raw *Raw) error {
	if raw.BarcodeWhitelist == "" {
		if raw.Aligner == AlignerSTAR {
			return &ConfigurationError{Field: "barcode_whitelist", Reason: "a cell barcode whitelist is required when aligner is \"star\""}
		}
		return nil
	}
	if _, err := os.Stat(raw.BarcodeWhitelist); err != nil {
		return &ConfigurationError{Field: "barcode_whitelist", Reason: fmt.Sprintf("cannot read %q: %v", raw.BarcodeWhitelist, err)}
	}
	return nil
}

// checkProfile applies the environment-specific rule set: the batch profile
// needs its two auxiliary settings plus a remote output prefix.
func checkProfile(raw *Raw) error {
	switch raw.Profile {
	case ProfileLocal:
		return nil
	case ProfileBatch:
		if raw.WorkBucket == "" {
			return &ConfigurationError{Field: "work_bucket", Reason: "required when profile is \"batch\""}
		}
		if raw.JobQueue == "" {
			return &ConfigurationError{Field: "job_queue", Reason: "required when profile is \"batch\""}
		}
		if raw.RemotePrefix == "" || !strings.Contains(raw.RemotePrefix, "://") {
			return &ConfigurationError{Field: "remote_prefix", Reason: "a remote output prefix (scheme://...) is required when profile is \"batch\""}
		}
		return nil
	}
	return &ConfigurationError{Field: "profile", Reason: fmt.Sprintf("unknown value %q, must be %q or %q", raw.Profile, ProfileLocal, ProfileBatch)}
}
