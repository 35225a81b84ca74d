// Package catalog holds the built-in single-cell RNA-seq stage catalog: the
// static declaration of every source channel and stage template the engine
// can run. Which templates actually contribute instances to a run is decided
// at graph build time from the validated parameter set.
package catalog

import (
	"time"

	"github.com/vk/samplegrid/internal/params"
	"github.com/vk/samplegrid/internal/pipeline"
)

// Default returns the built-in catalog. The returned value is freshly built
// on every call; callers may annotate it without affecting other runs.
func Default() *pipeline.Catalog {
	return &pipeline.Catalog{
		Sources: []pipeline.Source{
			{Channel: "reads", Param: "reads", Glob: true},
			{Channel: "genome", Param: "genome_fasta", Optional: true},
			{Channel: "annotation", Param: "gtf", Optional: true},
			{Channel: "whitelist_src", Param: "barcode_whitelist", Optional: true},
		},
		Templates: []*pipeline.Template{
			extractTranscripts(),
			starIndex(),
			salmonIndex(),
			kallistoIndex(),
			decompressWhitelist(),
			fastqc(),
			starAlign(),
			alevinQuant(),
			kallistoCount(),
			cellMetrics(),
			barcodeQC(),
			multiqcReport(),
		},
	}
}

// extractTranscripts derives a transcriptome fasta from the genome plus
// annotation. It only runs for the pseudo-aligners, and only when neither a
// transcript fasta nor a prebuilt index was supplied.
func extractTranscripts() *pipeline.Template {
	return &pipeline.Template{
		Name:  "extract_transcripts",
		Phase: "reference",
		When: `(params.aligner == "` + params.AlignerAlevin + `" && params.salmon_index == "") ||
		       (params.aligner == "` + params.AlignerKallisto + `" && params.kallisto_index == "")`,
		SuppliedBy: "transcript_fasta",
		Inputs: []pipeline.InputBinding{
			{Channel: "genome", Kind: pipeline.BindStream},
			{Channel: "annotation", Kind: pipeline.BindBroadcast},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "transcriptome", Path: "transcriptome.fa"},
		},
		Resources: pipeline.Resources{CPUs: 1, MemoryMB: 4096},
		Body: &pipeline.ExecBody{Argv: []string{
			"gffread", "-w", "{out.transcriptome}", "-g", "{in.genome}", "{in.annotation}",
		}},
	}
}

func starIndex() *pipeline.Template {
	return &pipeline.Template{
		Name:       "star_index",
		Phase:      "reference",
		When:       `params.aligner == "` + params.AlignerSTAR + `"`,
		SuppliedBy: "star_index",
		Inputs: []pipeline.InputBinding{
			{Channel: "genome", Kind: pipeline.BindStream},
			{Channel: "annotation", Kind: pipeline.BindBroadcast},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "star_index", Path: "star"},
		},
		Resources: pipeline.Resources{CPUs: 4, MemoryMB: 32768},
		Body: &pipeline.ExecBody{Argv: []string{
			"sh", "-c",
			"mkdir -p {out.star_index} && " +
				"STAR --runMode genomeGenerate --genomeDir {out.star_index} " +
				"--genomeFastaFiles {in.genome} --sjdbGTFfile {in.annotation}",
		}},
	}
}

func salmonIndex() *pipeline.Template {
	return &pipeline.Template{
		Name:       "salmon_index",
		Phase:      "reference",
		When:       `params.aligner == "` + params.AlignerAlevin + `"`,
		SuppliedBy: "salmon_index",
		Inputs: []pipeline.InputBinding{
			{Channel: "transcriptome", Kind: pipeline.BindStream},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "salmon_index", Path: "salmon"},
		},
		Resources: pipeline.Resources{CPUs: 4, MemoryMB: 16384},
		Body: &pipeline.ExecBody{Argv: []string{
			"salmon", "index", "-t", "{in.transcriptome}", "-i", "{out.salmon_index}",
		}},
	}
}

func kallistoIndex() *pipeline.Template {
	return &pipeline.Template{
		Name:       "kallisto_index",
		Phase:      "reference",
		When:       `params.aligner == "` + params.AlignerKallisto + `"`,
		SuppliedBy: "kallisto_index",
		Inputs: []pipeline.InputBinding{
			{Channel: "transcriptome", Kind: pipeline.BindStream},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "kallisto_index", Path: "kallisto.idx"},
		},
		Resources: pipeline.Resources{CPUs: 2, MemoryMB: 8192},
		Body: &pipeline.ExecBody{Argv: []string{
			"kallisto", "index", "-i", "{out.kallisto_index}", "{in.transcriptome}",
		}},
	}
}

// decompressWhitelist normalizes the barcode whitelist into a plain text
// file. Its output is broadcast to every whitelist consumer, so the gunzip
// (or plain copy) happens exactly once per run.
func decompressWhitelist() *pipeline.Template {
	return &pipeline.Template{
		Name:  "decompress_whitelist",
		Phase: "reference",
		When:  `params.barcode_whitelist != ""`,
		Inputs: []pipeline.InputBinding{
			{Channel: "whitelist_src", Kind: pipeline.BindStream},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "whitelist", Path: "whitelist.txt"},
		},
		Resources: pipeline.Resources{CPUs: 1},
		Body: &pipeline.TransformBody{
			Name:    "decompress_whitelist",
			Version: "1",
			Fn:      decompressWhitelistFn,
		},
	}
}

// fastqc runs per sample and tolerates failures: one unreadable sample must
// not sink the whole run, it just leaves a hole in the aggregate report.
func fastqc() *pipeline.Template {
	return &pipeline.Template{
		Name:  "fastqc",
		Phase: "qc",
		Inputs: []pipeline.InputBinding{
			{Channel: "reads", Kind: pipeline.BindStream},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "fastqc_reports", Path: "qc"},
		},
		Resources: pipeline.Resources{CPUs: 1, MemoryMB: 2048},
		Policy:    pipeline.PolicyTolerate,
		Publish:   true,
		Body: &pipeline.ExecBody{Argv: []string{
			"sh", "-c",
			"mkdir -p {out.fastqc_reports} && fastqc --quiet --outdir {out.fastqc_reports} {in.reads}",
		}},
	}
}

func starAlign() *pipeline.Template {
	return &pipeline.Template{
		Name:  "star_align",
		Phase: "alignment",
		When:  `params.aligner == "` + params.AlignerSTAR + `"`,
		Inputs: []pipeline.InputBinding{
			{Channel: "reads", Kind: pipeline.BindStream},
			{Channel: "star_index", Kind: pipeline.BindBroadcast},
			{Channel: "whitelist", Kind: pipeline.BindBroadcast},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "quants", Path: "{key}.solo"},
			{Channel: "align_logs", Path: "{key}.align.log"},
		},
		CacheParams: []string{"aligner"},
		Resources:   pipeline.Resources{CPUs: 4, MemoryMB: 32768},
		Policy:      pipeline.PolicyRetry,
		Retry:       pipeline.RetrySpec{Attempts: 2, Delay: 30 * time.Second},
		Body: &pipeline.ExecBody{Argv: []string{
			"sh", "-c",
			"STAR --runMode alignReads --genomeDir {in.star_index} " +
				"--readFilesIn {in.reads} --soloType CB_UMI_Simple " +
				"--soloCBwhitelist {in.whitelist} --outFileNamePrefix {key}. " +
				"2> {out.align_logs} && mv {key}.Solo.out {out.quants}",
		}},
	}
}

func alevinQuant() *pipeline.Template {
	return &pipeline.Template{
		Name:  "alevin_quant",
		Phase: "alignment",
		When:  `params.aligner == "` + params.AlignerAlevin + `"`,
		Inputs: []pipeline.InputBinding{
			{Channel: "reads", Kind: pipeline.BindStream},
			{Channel: "salmon_index", Kind: pipeline.BindBroadcast},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "quants", Path: "{key}.alevin"},
			{Channel: "align_logs", Path: "{key}.alevin.log"},
		},
		CacheParams: []string{"aligner"},
		Resources:   pipeline.Resources{CPUs: 4, MemoryMB: 16384},
		Policy:      pipeline.PolicyRetry,
		Retry:       pipeline.RetrySpec{Attempts: 2, Delay: 30 * time.Second},
		Body: &pipeline.ExecBody{Argv: []string{
			"sh", "-c",
			"salmon alevin -l ISR --chromiumV3 -i {in.salmon_index} " +
				"-r {in.reads} -o {out.quants} 2> {out.align_logs}",
		}},
	}
}

func kallistoCount() *pipeline.Template {
	return &pipeline.Template{
		Name:  "kallisto_count",
		Phase: "alignment",
		When:  `params.aligner == "` + params.AlignerKallisto + `"`,
		Inputs: []pipeline.InputBinding{
			{Channel: "reads", Kind: pipeline.BindStream},
			{Channel: "kallisto_index", Kind: pipeline.BindBroadcast},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "quants", Path: "{key}.bus"},
			{Channel: "align_logs", Path: "{key}.bus.log"},
		},
		CacheParams: []string{"aligner"},
		Resources:   pipeline.Resources{CPUs: 2, MemoryMB: 8192},
		Policy:      pipeline.PolicyRetry,
		Retry:       pipeline.RetrySpec{Attempts: 2, Delay: 30 * time.Second},
		Body: &pipeline.ExecBody{Argv: []string{
			"sh", "-c",
			"kallisto bus -i {in.kallisto_index} -x 10xv3 -o {out.quants} " +
				"{in.reads} 2> {out.align_logs}",
		}},
	}
}

// cellMetrics summarizes one sample's quantification output. The whitelist
// broadcast is optional: without one the expected-barcode count is omitted.
func cellMetrics() *pipeline.Template {
	return &pipeline.Template{
		Name:  "cell_metrics",
		Phase: "cells",
		Inputs: []pipeline.InputBinding{
			{Channel: "quants", Kind: pipeline.BindStream},
			{Channel: "whitelist", Kind: pipeline.BindBroadcast},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "cell_reports", Path: "{key}.cells.json"},
		},
		CacheParams: []string{"aligner"},
		Resources:   pipeline.Resources{CPUs: 1},
		Body: &pipeline.TransformBody{
			Name:    "cell_metrics",
			Version: "1",
			Fn:      cellMetricsFn,
		},
	}
}

func barcodeQC() *pipeline.Template {
	return &pipeline.Template{
		Name:  "barcode_qc",
		Phase: "qc",
		When:  `params.barcode_whitelist != ""`,
		Inputs: []pipeline.InputBinding{
			{Channel: "reads", Kind: pipeline.BindStream},
			{Channel: "whitelist", Kind: pipeline.BindBroadcast},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "barcode_reports", Path: "{key}.barcodes.json"},
		},
		Resources: pipeline.Resources{CPUs: 1},
		Policy:    pipeline.PolicyTolerate,
		Body: &pipeline.TransformBody{
			Name:    "barcode_qc",
			Version: "1",
			Fn:      barcodeQCFn,
		},
	}
}

// multiqcReport is the terminal barrier: it fires once, after every upstream
// channel has terminated, and aggregates whatever actually arrived. Tolerated
// upstream failures simply shrink its input set.
func multiqcReport() *pipeline.Template {
	return &pipeline.Template{
		Name:    "multiqc_report",
		Phase:   "report",
		Collect: true,
		Inputs: []pipeline.InputBinding{
			{Channel: "fastqc_reports", Kind: pipeline.BindCollect},
			{Channel: "align_logs", Kind: pipeline.BindCollect},
			{Channel: "cell_reports", Kind: pipeline.BindCollect},
			{Channel: "barcode_reports", Kind: pipeline.BindCollect},
		},
		Outputs: []pipeline.OutputSpec{
			{Channel: "report", Path: "report.json"},
		},
		Resources: pipeline.Resources{CPUs: 1},
		Publish:   true,
		Body: &pipeline.TransformBody{
			Name:    "multiqc_report",
			Version: "1",
			Fn:      multiqcReportFn,
		},
	}
}
