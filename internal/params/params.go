package params

// Aligner choices accepted by the built-in catalog.
const (
	AlignerSTAR     = "star"
	AlignerAlevin   = "alevin"
	AlignerKallisto = "kallisto"
)

// Profile choices.
const (
	ProfileLocal = "local"
	ProfileBatch = "batch"
)

// Raw holds the parameter set as decoded from the params file and CLI
// overrides, before validation. Field tags drive HCL decoding.
type Raw struct {
	Reads            string `hcl:"reads,optional"`
	Aligner          string `hcl:"aligner,optional"`
	GenomeFasta      string `hcl:"genome_fasta,optional"`
	GTF              string `hcl:"gtf,optional"`
	TranscriptFasta  string `hcl:"transcript_fasta,optional"`
	STARIndex        string `hcl:"star_index,optional"`
	SalmonIndex      string `hcl:"salmon_index,optional"`
	KallistoIndex    string `hcl:"kallisto_index,optional"`
	BarcodeWhitelist string `hcl:"barcode_whitelist,optional"`
	OutDir           string `hcl:"outdir,optional"`
	CacheDir         string `hcl:"cache_dir,optional"`
	Profile          string `hcl:"profile,optional"`
	WorkBucket       string `hcl:"work_bucket,optional"`
	JobQueue         string `hcl:"job_queue,optional"`
	RemotePrefix     string `hcl:"remote_prefix,optional"`
}

// Set is the validated, immutable parameter set. It is produced once by
// Validate and never mutated afterwards; every accessor returns a copy of
// whatever it exposes.
type Set struct {
	reads            string
	aligner          string
	genomeFasta      string
	gtf              string
	transcriptFasta  string
	starIndex        string
	salmonIndex      string
	kallistoIndex    string
	barcodeWhitelist string
	outDir           string
	cacheDir         string
	profile          string
	workBucket       string
	jobQueue         string
	remotePrefix     string
}

func (s *Set) Reads() string            { return s.reads }
func (s *Set) Aligner() string          { return s.aligner }
func (s *Set) GenomeFasta() string      { return s.genomeFasta }
func (s *Set) GTF() string              { return s.gtf }
func (s *Set) TranscriptFasta() string  { return s.transcriptFasta }
func (s *Set) STARIndex() string        { return s.starIndex }
func (s *Set) SalmonIndex() string      { return s.salmonIndex }
func (s *Set) KallistoIndex() string    { return s.kallistoIndex }
func (s *Set) BarcodeWhitelist() string { return s.barcodeWhitelist }
func (s *Set) OutDir() string           { return s.outDir }
func (s *Set) CacheDir() string         { return s.cacheDir }
func (s *Set) Profile() string          { return s.profile }

// Map returns a fresh snapshot of the set as plain key/value pairs. Activation
// predicates and cache-key recipes consume this form; mutating the returned
// map has no effect on the Set.
func (s *Set) Map() map[string]any {
	return map[string]any{
		"reads":             s.reads,
		"aligner":           s.aligner,
		"genome_fasta":      s.genomeFasta,
		"gtf":               s.gtf,
		"transcript_fasta":  s.transcriptFasta,
		"star_index":        s.starIndex,
		"salmon_index":      s.salmonIndex,
		"kallisto_index":    s.kallistoIndex,
		"barcode_whitelist": s.barcodeWhitelist,
		"outdir":            s.outDir,
		"cache_dir":         s.cacheDir,
		"profile":           s.profile,
		"work_bucket":       s.workBucket,
		"job_queue":         s.jobQueue,
		"remote_prefix":     s.remotePrefix,
	}
}

// Value returns the named parameter from the validated set. Unknown keys
// return the empty string; callers that care use Map and check presence.
func (s *Set) Value(key string) string {
	if v, ok := s.Map()[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}
