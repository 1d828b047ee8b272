package amr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

const maxErrorMessageLen = 2000

// jobRepository is the subset of *store.JobRepository the executor
// needs, kept as an interface so tests can run against an in-memory
// fake instead of a real database. *store.JobRepository satisfies this
// directly since both sides share schema.JobStatusUpdate.
type jobRepository interface {
	Get(ctx context.Context, id string) (*schema.AMRJob, *schema.AMRJobParams, error)
	UpdateStatus(ctx context.Context, id string, upd schema.JobStatusUpdate) error
}

// Executor runs a single AMR job to completion (spec §4.3 C3).
type Executor struct {
	jobs       jobRepository
	predictor  Predictor
	resultsDir string
	log        *log.ComponentLogger
}

func NewExecutor(jobs jobRepository, predictor Predictor, resultsDir string) *Executor {
	return &Executor{jobs: jobs, predictor: predictor, resultsDir: resultsDir, log: log.Component("amr.executor")}
}

// Run executes job from its persisted Submitted row through to a
// terminal status (spec §4.3 steps 1-7).
func (e *Executor) Run(ctx context.Context, jobID string) {
	job, params, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		e.log.Errorf("job %s: cannot load for execution: %v", jobID, err)
		return
	}

	now := time.Now().UTC()
	running := schema.JobRunning
	zero := 0.0
	if err := e.jobs.UpdateStatus(ctx, jobID, schema.JobStatusUpdate{
		Status: &running, StartedAt: &now, Progress: &zero,
	}); err != nil {
		e.log.Errorf("job %s: failed transitioning to Running: %v", jobID, err)
		return
	}

	resultPath, aggPath, err := e.execute(ctx, jobID, job, params)
	if err != nil {
		if apierror.KindOf(err) == apierror.KindConflict {
			// Observed Cancelled between batches -- §4.3 step 7/cancellation:
			// no further status transition, partial outputs already cleaned up.
			e.log.Debugf("job %s: stopped due to cancellation", jobID)
			return
		}
		e.fail(ctx, jobID, err)
		return
	}

	completedAt := time.Now().UTC()
	completed := schema.JobCompleted
	hundred := 100.0
	msg := "completed"
	if err := e.jobs.UpdateStatus(ctx, jobID, schema.JobStatusUpdate{
		Status: &completed, Progress: &hundred, CompletedAt: &completedAt,
		ResultFilePath: &resultPath, AggregatedResultFilePath: optionalString(aggPath),
		HistoryMessage: &msg,
	}); err != nil {
		e.log.Errorf("job %s: failed transitioning to Completed: %v", jobID, err)
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e *Executor) fail(ctx context.Context, jobID string, cause error) {
	msg := cause.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	completedAt := time.Now().UTC()
	errored := schema.JobError
	if err := e.jobs.UpdateStatus(ctx, jobID, schema.JobStatusUpdate{
		Status: &errored, Error: &msg, CompletedAt: &completedAt, HistoryMessage: &msg,
	}); err != nil {
		e.log.Errorf("job %s: failed transitioning to Error: %v", jobID, err)
	}
}

// execute runs steps 2-6 of spec §4.3, returning the result and
// (optional) aggregated file paths. A nil error with the job observed
// Cancelled returns apierror.Conflict so Run can distinguish
// cancellation from an execution failure without a sentinel value.
func (e *Executor) execute(ctx context.Context, jobID string, job *schema.AMRJob, params *schema.AMRJobParams) (string, string, error) {
	if job.InputFilePath == nil {
		return "", "", apierror.InvalidInput("job %s has no input file", jobID)
	}
	f, err := os.Open(*job.InputFilePath)
	if err != nil {
		return "", "", apierror.InvalidInput("opening input fasta: %v", err)
	}
	defer f.Close()

	sequences, err := ParseFASTA(f)
	if err != nil {
		return "", "", err
	}

	var windows []Window
	for _, seq := range sequences {
		windows = append(windows, Segment(seq, params.SegmentLength, params.SegmentOverlap)...)
	}
	if len(windows) == 0 {
		return "", "", apierror.InvalidInput("no usable windows after segmentation")
	}

	jobDir := filepath.Join(e.resultsDir, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", "", apierror.Storage("creating job result directory", err)
	}
	resultPath := filepath.Join(jobDir, fmt.Sprintf("amr_predictions_%s.tsv", jobID))

	writer, err := NewSegmentWriter(resultPath)
	if err != nil {
		return "", "", err
	}

	var allResults []PerWindowResult
	batchSize := params.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	totalBatches := (len(windows) + batchSize - 1) / batchSize
	lastReportedPct := -1.0

	for i := 0; i < len(windows); i += batchSize {
		if cancelled, cerr := e.checkCancelled(ctx, jobID); cerr != nil {
			writer.Close()
			e.cleanup(jobDir)
			return "", "", cerr
		} else if cancelled {
			writer.Close()
			e.cleanup(jobDir)
			return "", "", apierror.Conflict("job cancelled")
		}

		end := i + batchSize
		if end > len(windows) {
			end = len(windows)
		}
		batch := windows[i:end]

		preds, err := e.predictor.Predict(ctx, params.UseCPU, batch)
		if err != nil {
			writer.Close()
			return "", "", apierror.RemoteTransient("prediction batch failed", err)
		}
		if len(preds) != len(batch) {
			writer.Close()
			return "", "", apierror.Internal("predictor returned mismatched result count", nil)
		}

		batchResults := make([]PerWindowResult, len(batch))
		for j, w := range batch {
			batchResults[j] = PerWindowResult{Window: w, Prediction: preds[j]}
		}
		if err := writer.WriteBatch(batchResults); err != nil {
			writer.Close()
			return "", "", err
		}
		allResults = append(allResults, batchResults...)

		// Progress is capped at 95% before aggregation (spec §4.3 step 4)
		// and coalesced to at most one DB write per ~1% change.
		batchNum := i/batchSize + 1
		pct := 95.0 * float64(batchNum) / float64(totalBatches)
		if pct-lastReportedPct >= 1.0 || batchNum == totalBatches {
			lastReportedPct = pct
			p := pct
			if err := e.jobs.UpdateStatus(ctx, jobID, schema.JobStatusUpdate{Progress: &p}); err != nil {
				e.log.Warnf("job %s: progress update failed: %v", jobID, err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		return "", "", err
	}

	aggPath := ""
	if params.EnableSequenceAggregation {
		rows := Aggregate(allResults, params.ResistanceThreshold)
		aggPath = filepath.Join(jobDir, fmt.Sprintf("amr_predictions_%s_aggregated.tsv", jobID))
		if err := WriteAggregated(aggPath, rows); err != nil {
			return "", "", err
		}
	}

	return resultPath, aggPath, nil
}

// checkCancelled re-reads the job row to observe an owner-initiated
// cancel between batches (spec §4.3 cancellation, §4 ordering: "Workers
// observe cancellation at the next suspension point").
func (e *Executor) checkCancelled(ctx context.Context, jobID string) (bool, error) {
	job, _, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == schema.JobCancelled, nil
}

// cleanup removes partial output on cancellation (spec §4.3
// cancellation: "stops, deletes partial outputs"). Failure-path outputs
// (the Error case) are intentionally left on disk for debugging, per
// spec §4.3 step 7 -- only the cancellation path deletes.
func (e *Executor) cleanup(jobDir string) {
	if err := os.RemoveAll(jobDir); err != nil {
		e.log.Warnf("cleanup: removing %s: %v", jobDir, err)
	}
}
