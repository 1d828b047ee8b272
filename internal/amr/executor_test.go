package amr

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gast-project/gast-orchestrator/pkg/schema"
	"github.com/stretchr/testify/require"
)

// fakeJobRepository is an in-memory jobRepository used to drive the
// executor without a real database.
type fakeJobRepository struct {
	mu sync.Mutex
	// getCount is the number of Get calls observed so far. When
	// cancelOnGetN > 0 and getCount reaches it, Get reports Cancelled
	// regardless of the stored status -- simulating an owner-initiated
	// cancel being observed by the executor's between-batch check
	// without racing the executor's own initial Running transition.
	getCount     int
	cancelOnGetN int
	job          schema.AMRJob
	params       schema.AMRJobParams
	history      []schema.JobStatusUpdate
}

func (f *fakeJobRepository) Get(ctx context.Context, id string) (*schema.AMRJob, *schema.AMRJobParams, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCount++
	job := f.job
	if f.cancelOnGetN > 0 && f.getCount >= f.cancelOnGetN {
		job.Status = schema.JobCancelled
	}
	params := f.params
	return &job, &params, nil
}

func (f *fakeJobRepository) UpdateStatus(ctx context.Context, id string, upd schema.JobStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, upd)
	if upd.Status != nil {
		f.job.Status = *upd.Status
	}
	if upd.Progress != nil {
		f.job.Progress = *upd.Progress
	}
	if upd.Error != nil {
		f.job.Error = upd.Error
	}
	if upd.StartedAt != nil {
		f.job.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		f.job.CompletedAt = upd.CompletedAt
	}
	if upd.ResultFilePath != nil {
		f.job.ResultFilePath = upd.ResultFilePath
	}
	if upd.AggregatedResultFilePath != nil {
		f.job.AggregatedResultFilePath = upd.AggregatedResultFilePath
	}
	return nil
}

func (f *fakeJobRepository) status() schema.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job.Status
}

func writeFasta(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExecutor_RunCompletesWithAggregation(t *testing.T) {
	dir := t.TempDir()
	input := writeFasta(t, dir, "in.fasta", ">s1\nACGTACGTACGTACGT\n>s2\nACGTACGT\n")

	repo := &fakeJobRepository{
		job: schema.AMRJob{ID: "job1", Status: schema.JobSubmitted, InputFilePath: &input},
		params: schema.AMRJobParams{
			ModelName: "default", BatchSize: 2, SegmentLength: 0, SegmentOverlap: 0,
			ResistanceThreshold: 0.5, EnableSequenceAggregation: true,
		},
	}
	exec := NewExecutor(repo, DeterministicPredictor{}, dir)
	exec.Run(context.Background(), "job1")

	require.Equal(t, schema.JobCompleted, repo.status())
	require.Equal(t, 100.0, repo.job.Progress)
	require.NotNil(t, repo.job.ResultFilePath)
	require.FileExists(t, *repo.job.ResultFilePath)
	require.NotNil(t, repo.job.AggregatedResultFilePath)
	require.FileExists(t, *repo.job.AggregatedResultFilePath)
}

func TestExecutor_RunCompletesWithoutAggregation(t *testing.T) {
	dir := t.TempDir()
	input := writeFasta(t, dir, "in.fasta", ">s1\nACGTACGT\n")

	repo := &fakeJobRepository{
		job: schema.AMRJob{ID: "job1", Status: schema.JobSubmitted, InputFilePath: &input},
		params: schema.AMRJobParams{
			BatchSize: 4, ResistanceThreshold: 0.5, EnableSequenceAggregation: false,
		},
	}
	exec := NewExecutor(repo, DeterministicPredictor{}, dir)
	exec.Run(context.Background(), "job1")

	require.Equal(t, schema.JobCompleted, repo.status())
	require.Nil(t, repo.job.AggregatedResultFilePath)
}

func TestExecutor_RunFailsOnMissingInputFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "does-not-exist.fasta")
	repo := &fakeJobRepository{
		job:    schema.AMRJob{ID: "job1", Status: schema.JobSubmitted, InputFilePath: &missing},
		params: schema.AMRJobParams{BatchSize: 1, ResistanceThreshold: 0.5},
	}
	exec := NewExecutor(repo, DeterministicPredictor{}, dir)
	exec.Run(context.Background(), "job1")

	require.Equal(t, schema.JobError, repo.status())
	require.NotNil(t, repo.job.Error)
}

func TestExecutor_RunFailsOnInvalidFasta(t *testing.T) {
	dir := t.TempDir()
	input := writeFasta(t, dir, "bad.fasta", "not-a-fasta-file-at-all\n")
	repo := &fakeJobRepository{
		job:    schema.AMRJob{ID: "job1", Status: schema.JobSubmitted, InputFilePath: &input},
		params: schema.AMRJobParams{BatchSize: 1, ResistanceThreshold: 0.5},
	}
	exec := NewExecutor(repo, DeterministicPredictor{}, dir)
	exec.Run(context.Background(), "job1")

	require.Equal(t, schema.JobError, repo.status())
}

func TestExecutor_RunObservesCancellationAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	// Many windows over several batches so the cancellation check between
	// batches has a chance to fire before completion.
	fasta := ">s1\n"
	for i := 0; i < 50; i++ {
		fasta += "ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT\n"
	}
	input := writeFasta(t, dir, "in.fasta", fasta)

	repo := &fakeJobRepository{
		job: schema.AMRJob{ID: "job1", Status: schema.JobSubmitted, InputFilePath: &input},
		params: schema.AMRJobParams{
			BatchSize: 1, SegmentLength: 50, SegmentOverlap: 0, ResistanceThreshold: 0.5,
		},
		// Run's initial Get is call #1; the executor's first between-batch
		// cancellation check is call #2, at which point Get starts
		// reporting Cancelled.
		cancelOnGetN: 2,
	}

	exec := NewExecutor(repo, DeterministicPredictor{}, dir)
	exec.Run(context.Background(), "job1")

	// The executor observed cancellation before ever writing a Completed
	// or Error transition -- the last real transition stored is still
	// the initial Running one.
	require.Equal(t, schema.JobRunning, repo.status())
	jobDir := filepath.Join(dir, "job1")
	_, err := os.Stat(jobDir)
	require.True(t, os.IsNotExist(err))
}
