package params

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/samplegrid/internal/ctxlog"
)

// fileRoot decodes the top-level blocks of a params file.
type fileRoot struct {
	Params *Raw     `hcl:"params,block"`
	Remain hcl.Body `hcl:",remain"`
}

// Load reads a params file and applies key=value overrides on top of it, in
// order. The file body is evaluated with an `env` variable exposing the
// process environment, so params can reference e.g. env.HOME.
func Load(ctx context.Context, path string, overrides []string) (*Raw, error) {
	logger := ctxlog.FromContext(ctx)

	raw := &Raw{}
	if path != "" {
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse params file %s: %w", path, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(file.Body, evalContext(), &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode params file %s: %w", path, diags)
		}
		if root.Params != nil {
			raw = root.Params
		}
		logger.Debug("Params file loaded.", "path", path)
	}

	for _, override := range overrides {
		key, value, ok := strings.Cut(override, "=")
		if !ok {
			return nil, &ConfigurationError{Field: override, Reason: "override must be key=value"}
		}
		if err := raw.set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}
	logger.Debug("Overrides applied.", "count", len(overrides))

	return raw, nil
}

// evalContext builds the HCL evaluation context for params files.
func evalContext() *hcl.EvalContext {
	envVals := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			envVals[key] = cty.StringVal(value)
		}
	}
	env := cty.MapValEmpty(cty.String)
	if len(envVals) > 0 {
		env = cty.MapVal(envVals)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

// set assigns one named parameter. The switch is deliberately explicit: the
// accepted key names are the contract of the -p flag.
func (r *Raw) set(key, value string) error {
	switch key {
	case "reads":
		r.Reads = value
	case "aligner":
		r.Aligner = value
	case "genome_fasta":
		r.GenomeFasta = value
	case "gtf":
		r.GTF = value
	case "transcript_fasta":
		r.TranscriptFasta = value
	case "star_index":
		r.STARIndex = value
	case "salmon_index":
		r.SalmonIndex = value
	case "kallisto_index":
		r.KallistoIndex = value
	case "barcode_whitelist":
		r.BarcodeWhitelist = value
	case "outdir":
		r.OutDir = value
	case "cache_dir":
		r.CacheDir = value
	case "profile":
		r.Profile = value
	case "work_bucket":
		r.WorkBucket = value
	case "job_queue":
		r.JobQueue = value
	case "remote_prefix":
		r.RemotePrefix = value
	default:
		return &ConfigurationError{Field: key, Reason: "unknown parameter"}
	}
	return nil
}
