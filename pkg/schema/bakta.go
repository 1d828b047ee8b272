package schema

import "time"

// BaktaStatus is the local view of a Bakta job's lifecycle (spec §3).
type BaktaStatus string

const (
	BaktaInit       BaktaStatus = "Init"
	BaktaRunning    BaktaStatus = "Running"
	BaktaSuccessful BaktaStatus = "Successful"
	BaktaError      BaktaStatus = "Error"
)

func (s BaktaStatus) IsTerminal() bool {
	return s == BaktaSuccessful || s == BaktaError
}

// BaktaJob is the persisted row tracking one external Bakta submission
// (spec §3 BaktaJob). Secret and RemoteID are never logged or
// serialized to JSON -- see internal/bakta's redaction helpers.
type BaktaJob struct {
	ID          string       `db:"id" json:"job_id"`
	RemoteID    *string      `db:"remote_id" json:"-"`
	Secret      *string      `db:"secret" json:"-"`
	Name        string       `db:"name" json:"name"`
	Status      BaktaStatus  `db:"status" json:"status"`
	FastaPath   string       `db:"fasta_path" json:"-"`
	ConfigJSON  string       `db:"config_json" json:"-"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"-"`
	StartedAt   *time.Time   `db:"started_at" json:"start_time,omitempty"`
	CompletedAt *time.Time   `db:"completed_at" json:"end_time,omitempty"`
	Error       *string      `db:"error" json:"error,omitempty"`
	WorkerID    *string      `db:"worker_id" json:"-"`
}

// BaktaSequence is one FASTA record uploaded with a BaktaJob (spec §3).
type BaktaSequence struct {
	ID       int64  `db:"id" json:"-"`
	JobID    string `db:"job_id" json:"-"`
	Header   string `db:"header" json:"header"`
	Sequence string `db:"sequence" json:"-"`
	Length   int    `db:"length" json:"length"`
}

// BaktaResultFile records one downloaded result artifact (spec §3).
// FileType is taken verbatim from the remote ResultFiles map key --
// unknown types persist as opaque rows per SPEC_FULL §9.
type BaktaResultFile struct {
	ID           int64      `db:"id" json:"-"`
	JobID        string     `db:"job_id" json:"-"`
	FileType     string     `db:"file_type" json:"file_type"`
	FilePath     string     `db:"file_path" json:"-"`
	DownloadURL  *string    `db:"download_url" json:"-"`
	DownloadedAt time.Time  `db:"downloaded_at" json:"downloaded_at"`
}

// BaktaAnnotation is one parsed genomic feature (spec §3).
type BaktaAnnotation struct {
	ID             int64  `db:"id" json:"-"`
	JobID          string `db:"job_id" json:"-"`
	FeatureID      string `db:"feature_id" json:"feature_id"`
	FeatureType    string `db:"feature_type" json:"feature_type"`
	Contig         string `db:"contig" json:"contig"`
	Start          int    `db:"start" json:"start"`
	End            int    `db:"end" json:"end"`
	Strand         string `db:"strand" json:"strand"`
	AttributesJSON string `db:"attributes_json" json:"attributes"`
}

// Overlaps reports whether the annotation intersects [start,end],
// implementing the range-query predicate from spec §4.2/§8 item 5:
// NOT (end < range_start OR start > range_end).
func (a BaktaAnnotation) Overlaps(start, end int) bool {
	return !(a.End < start || a.Start > end)
}

// BaktaConfig is the recognized remote job config (spec §6.3). Pointer
// fields distinguish "unset" from a zero value since the remote API
// treats an absent key differently from an explicit false/0.
type BaktaConfig struct {
	CompleteGenome       *bool   `json:"completeGenome,omitempty"`
	Compliant            *bool   `json:"compliant,omitempty"`
	DermType             *string `json:"dermType,omitempty"`
	Genus                *string `json:"genus,omitempty"`
	HasReplicons         *bool   `json:"hasReplicons,omitempty"`
	KeepContigHeaders    *bool   `json:"keepContigHeaders,omitempty"`
	Locus                *string `json:"locus,omitempty"`
	LocusTag             *string `json:"locusTag,omitempty"`
	MinContigLength      *int    `json:"minContigLength,omitempty"`
	Plasmid              *string `json:"plasmid,omitempty"`
	ProdigalTrainingFile *string `json:"prodigalTrainingFile,omitempty"`
	Species              *string `json:"species,omitempty"`
	Strain               *string `json:"strain,omitempty"`
	TranslationTable     *int    `json:"translationTable,omitempty"`
}

// ConfigPresets are sugar bundles pre-filling BaktaConfig (spec §6.3).
var ConfigPresets = map[string]BaktaConfig{
	"default":              {},
	"gram_positive":        {DermType: ptr("MONODERM")},
	"gram_negative":        {DermType: ptr("DIDERM")},
	"complete_genome":      {CompleteGenome: ptrBool(true)},
	"draft_genome":         {CompleteGenome: ptrBool(false)},
	"escherichia_coli":     {Genus: ptr("Escherichia"), Species: ptr("coli"), DermType: ptr("DIDERM"), TranslationTable: ptrInt(11)},
	"staphylococcus_aureus": {Genus: ptr("Staphylococcus"), Species: ptr("aureus"), DermType: ptr("MONODERM"), TranslationTable: ptrInt(11)},
}

func ptr(s string) *string { return &s }
func ptrBool(b bool) *bool { return &b }
func ptrInt(i int) *int    { return &i }
