// Package schema defines the wire/db-tagged domain types shared across
// internal/store, internal/amr, internal/bakta and internal/api.
package schema

import (
	"time"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

// JobStatus is the AMR job status enum (spec §3, §4.2 state machine).
type JobStatus string

const (
	JobSubmitted JobStatus = "Submitted"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobError     JobStatus = "Error"
	JobCancelled JobStatus = "Cancelled"
)

// IsTerminal reports whether no further transition is legal from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobError, JobCancelled:
		return true
	default:
		return false
	}
}

// AMRJob is the persisted job row (spec §3 AMRJob).
type AMRJob struct {
	ID                       string     `db:"id" json:"job_id" example:"8f14e45f-ceea-4d7a-b54b-7f8a3c7e6d1f"`
	UserID                   *string    `db:"user_id" json:"user_id,omitempty"`
	JobName                  string     `db:"job_name" json:"job_name" example:"salmonella-batch-1"`
	Status                   JobStatus  `db:"status" json:"status" example:"Running"`
	Progress                 float64    `db:"progress" json:"progress" example:"42.0"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
	StartedAt                *time.Time `db:"started_at" json:"start_time,omitempty"`
	CompletedAt              *time.Time `db:"completed_at" json:"end_time,omitempty"`
	Error                    *string    `db:"error" json:"error,omitempty"`
	InputFilePath            *string    `db:"input_file_path" json:"-"`
	ResultFilePath           *string    `db:"result_file_path" json:"result_file,omitempty"`
	AggregatedResultFilePath *string    `db:"aggregated_result_file_path" json:"aggregated_result_file,omitempty"`
	WorkerID                *string    `db:"worker_id" json:"-"`
}

// AMRJobParams is 1:1 with AMRJob (spec §3 AMRJobParams).
type AMRJobParams struct {
	JobID                     string  `db:"job_id" json:"-"`
	ModelName                 string  `db:"model_name" json:"model_name" example:"default"`
	BatchSize                 int     `db:"batch_size" json:"batch_size" example:"8"`
	SegmentLength             int     `db:"segment_length" json:"segment_length" example:"300"`
	SegmentOverlap            int     `db:"segment_overlap" json:"segment_overlap" example:"0"`
	UseCPU                    bool    `db:"use_cpu" json:"use_cpu" example:"true"`
	ResistanceThreshold       float64 `db:"resistance_threshold" json:"resistance_threshold" example:"0.5"`
	EnableSequenceAggregation bool    `db:"enable_sequence_aggregation" json:"enable_sequence_aggregation" example:"true"`
}

// Validate enforces the AMRJobParams constraints from spec §3.
func (p AMRJobParams) Validate() error {
	if p.BatchSize < 1 {
		return apierror.InvalidInput("batch_size must be >= 1")
	}
	if p.SegmentLength < 0 {
		return apierror.InvalidInput("segment_length must be >= 0")
	}
	if p.SegmentOverlap < 0 {
		return apierror.InvalidInput("segment_overlap must be >= 0")
	}
	if p.SegmentLength > 0 && p.SegmentOverlap >= p.SegmentLength {
		return apierror.InvalidInput("segment_overlap must be < segment_length")
	}
	if p.ResistanceThreshold < 0.0 || p.ResistanceThreshold > 1.0 {
		return apierror.InvalidInput("resistance_threshold must be within [0.0, 1.0]")
	}
	return nil
}

// JobStatusUpdate is the set of optionally-supplied fields a caller
// may update on a job row in one call -- shared between internal/store
// (which executes it) and internal/amr/internal/bakta (which build
// it), so both sides satisfy the same interface instead of two
// structurally-identical but differently-named types (spec §4.2
// updateStatus).
type JobStatusUpdate struct {
	Status                   *JobStatus
	Progress                 *float64
	Error                    *string
	StartedAt                *time.Time
	CompletedAt              *time.Time
	ResultFilePath           *string
	AggregatedResultFilePath *string
	HistoryMessage           *string
}

// JobStatusHistory is an append-only per-job audit row (spec §3).
type JobStatusHistory struct {
	ID        int64     `db:"id" json:"-"`
	JobID     string    `db:"job_id" json:"-"`
	Status    string    `db:"status" json:"status"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Message   *string   `db:"message" json:"message,omitempty"`
}

// IdempotencyKey backs the Idempotency-Key contract (SPEC_FULL §3 ADD).
type IdempotencyKey struct {
	KeyHash   string    `db:"key_hash" json:"-"`
	BodyHash  string    `db:"body_hash" json:"-"`
	JobID     string    `db:"job_id" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}
