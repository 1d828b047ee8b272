package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

// newTestStore builds a throwaway in-memory sqlite3 Store, bypassing
// the process-wide Connect singleton so each test gets its own schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := connect(Config{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.DB.Close() })
	return s
}

func newTestJob(t *testing.T) *schema.AMRJob {
	t.Helper()
	return &schema.AMRJob{
		ID:        uuid.NewString(),
		JobName:   "test-job",
		Status:    schema.JobSubmitted,
		CreatedAt: time.Now().UTC(),
	}
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := NewJobRepository(s)
	ctx := context.Background()

	job := newTestJob(t)
	params := &schema.AMRJobParams{ModelName: "default", BatchSize: 4, ResistanceThreshold: 0.5}

	require.NoError(t, repo.Create(ctx, job, params))

	got, gotParams, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, schema.JobSubmitted, got.Status)
	require.Equal(t, 4, gotParams.BatchSize)
}

// status-history completeness: every transition appends exactly one row.
func TestJobRepository_StatusHistoryCompleteness(t *testing.T) {
	s := newTestStore(t)
	repo := NewJobRepository(s)
	ctx := context.Background()

	job := newTestJob(t)
	require.NoError(t, repo.Create(ctx, job, &schema.AMRJobParams{BatchSize: 1}))

	running := schema.JobRunning
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, schema.JobStatusUpdate{Status: &running}))

	completed := schema.JobCompleted
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, schema.JobStatusUpdate{Status: &completed}))

	hist, err := repo.History(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, string(schema.JobSubmitted), hist[0].Status)
	require.Equal(t, string(schema.JobRunning), hist[1].Status)
	require.Equal(t, string(schema.JobCompleted), hist[2].Status)
}

// monotonic progress: a lower value is clamped upward, never rejected.
func TestJobRepository_ProgressMonotonic(t *testing.T) {
	s := newTestStore(t)
	repo := NewJobRepository(s)
	ctx := context.Background()

	job := newTestJob(t)
	require.NoError(t, repo.Create(ctx, job, &schema.AMRJobParams{BatchSize: 1}))

	running := schema.JobRunning
	hi := 50.0
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, schema.JobStatusUpdate{Status: &running, Progress: &hi}))

	lo := 10.0
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, schema.JobStatusUpdate{Progress: &lo}))

	got, _, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 50.0, got.Progress)
}

// terminal finality: once in a terminal status, further updates are a no-op.
func TestJobRepository_TerminalFinality(t *testing.T) {
	s := newTestStore(t)
	repo := NewJobRepository(s)
	ctx := context.Background()

	job := newTestJob(t)
	require.NoError(t, repo.Create(ctx, job, &schema.AMRJobParams{BatchSize: 1}))

	cancelled := schema.JobCancelled
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, schema.JobStatusUpdate{Status: &cancelled}))

	running := schema.JobRunning
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, schema.JobStatusUpdate{Status: &running}))

	got, _, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, schema.JobCancelled, got.Status)

	hist, err := repo.History(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2) // Submitted, Cancelled -- the ignored Running never appended
}

func TestJobRepository_IllegalTransitionRejected(t *testing.T) {
	s := newTestStore(t)
	repo := NewJobRepository(s)
	ctx := context.Background()

	job := newTestJob(t)
	require.NoError(t, repo.Create(ctx, job, &schema.AMRJobParams{BatchSize: 1}))

	completed := schema.JobCompleted
	err := repo.UpdateStatus(ctx, job.ID, schema.JobStatusUpdate{Status: &completed})
	require.Error(t, err)
}

// cascade delete: removing a job removes its params and history.
func TestJobRepository_CascadeDelete(t *testing.T) {
	s := newTestStore(t)
	repo := NewJobRepository(s)
	ctx := context.Background()

	job := newTestJob(t)
	require.NoError(t, repo.Create(ctx, job, &schema.AMRJobParams{BatchSize: 1}))
	require.NoError(t, repo.Delete(ctx, job.ID))

	_, _, err := repo.Get(ctx, job.ID)
	require.Error(t, err)

	hist, err := repo.History(ctx, job.ID)
	require.NoError(t, err)
	require.Empty(t, hist)
}

func TestJobRepository_DeleteMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	repo := NewJobRepository(s)
	err := repo.Delete(context.Background(), uuid.NewString())
	require.Error(t, err)
}

func TestJobRepository_ListFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	repo := NewJobRepository(s)
	ctx := context.Background()

	j1 := newTestJob(t)
	require.NoError(t, repo.Create(ctx, j1, &schema.AMRJobParams{BatchSize: 1}))
	j2 := newTestJob(t)
	require.NoError(t, repo.Create(ctx, j2, &schema.AMRJobParams{BatchSize: 1}))

	running := schema.JobRunning
	require.NoError(t, repo.UpdateStatus(ctx, j2.ID, schema.JobStatusUpdate{Status: &running}))

	submitted := schema.JobSubmitted
	jobs, err := repo.List(ctx, ListOptions{Status: &submitted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, j1.ID, jobs[0].ID)
}

func TestBaktaRepository_CreateAndAnnotationRangeQuery(t *testing.T) {
	s := newTestStore(t)
	repo := NewBaktaRepository(s)
	ctx := context.Background()

	job := &schema.BaktaJob{
		ID: uuid.NewString(), Name: "genome-1", Status: schema.BaktaInit,
		FastaPath: "/tmp/x.fasta", ConfigJSON: "{}", CreatedAt: time.Now().UTC(),
	}
	seqs := []schema.BaktaSequence{{Header: "contig1", Sequence: "ACGT", Length: 4}}
	require.NoError(t, repo.CreateJob(ctx, job, seqs))

	annotations := []schema.BaktaAnnotation{
		{FeatureID: "f1", FeatureType: "CDS", Contig: "contig1", Start: 10, End: 20, Strand: "+", AttributesJSON: "{}"},
		{FeatureID: "f2", FeatureType: "CDS", Contig: "contig1", Start: 30, End: 40, Strand: "+", AttributesJSON: "{}"},
		{FeatureID: "f3", FeatureType: "CDS", Contig: "contig1", Start: 100, End: 200, Strand: "-", AttributesJSON: "{}"},
	}
	require.NoError(t, repo.SaveAnnotations(ctx, job.ID, annotations))

	rangeStart, rangeEnd := 15, 35
	got, err := repo.Annotations(ctx, job.ID, AnnotationQuery{RangeStart: &rangeStart, RangeEnd: &rangeEnd})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "f1", got[0].FeatureID)
	require.Equal(t, "f2", got[1].FeatureID)
}

func TestBaktaRepository_UpdateStatusTerminalNoop(t *testing.T) {
	s := newTestStore(t)
	repo := NewBaktaRepository(s)
	ctx := context.Background()

	job := &schema.BaktaJob{
		ID: uuid.NewString(), Name: "genome-2", Status: schema.BaktaInit,
		FastaPath: "/tmp/y.fasta", ConfigJSON: "{}", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateJob(ctx, job, nil))

	failed := schema.BaktaError
	require.NoError(t, repo.UpdateJobStatus(ctx, job.ID, BaktaStatusUpdate{Status: &failed}))

	running := schema.BaktaRunning
	require.NoError(t, repo.UpdateJobStatus(ctx, job.ID, BaktaStatusUpdate{Status: &running}))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, schema.BaktaError, got.Status)
}

// idempotent submission: replaying the same (key, body) returns the
// original job id; a different body under the same key conflicts.
func TestIdempotencyRepository_LookupAndConflict(t *testing.T) {
	s := newTestStore(t)
	repo := NewIdempotencyRepository(s)
	ctx := context.Background()

	jobID := uuid.NewString()
	rec := schema.IdempotencyKey{KeyHash: "k1", BodyHash: "b1", JobID: jobID, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Store(ctx, rec))

	got, err := repo.Lookup(ctx, "k1", "b1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobID, got)

	_, err = repo.Lookup(ctx, "k1", "different-body", time.Hour)
	require.Error(t, err)
}

func TestIdempotencyRepository_ExpiredKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	repo := NewIdempotencyRepository(s)
	ctx := context.Background()

	rec := schema.IdempotencyKey{
		KeyHash: "k2", BodyHash: "b2", JobID: uuid.NewString(),
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, repo.Store(ctx, rec))

	_, err := repo.Lookup(ctx, "k2", "b2", time.Hour)
	require.Error(t, err)
}

func TestArchiveRepository_LockMutualExclusion(t *testing.T) {
	s := newTestStore(t)
	repo := NewArchiveRepository(s)
	ctx := context.Background()

	ok, err := repo.AcquireLock(ctx, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.AcquireLock(ctx, time.Hour)
	require.NoError(t, err)
	require.False(t, ok, "a second acquire should fail while the first holds the lock")

	require.NoError(t, repo.ReleaseLock(ctx))

	ok, err = repo.AcquireLock(ctx, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestArchiveRepository_MoveTerminalJobOnly(t *testing.T) {
	s := newTestStore(t)
	jobs := NewJobRepository(s)
	arch := NewArchiveRepository(s)
	ctx := context.Background()

	terminalJob := newTestJob(t)
	require.NoError(t, jobs.Create(ctx, terminalJob, &schema.AMRJobParams{BatchSize: 1}))
	running := schema.JobRunning
	require.NoError(t, jobs.UpdateStatus(ctx, terminalJob.ID, schema.JobStatusUpdate{Status: &running}))
	completedAt := time.Now().UTC().Add(-48 * time.Hour)
	completed := schema.JobCompleted
	require.NoError(t, jobs.UpdateStatus(ctx, terminalJob.ID, schema.JobStatusUpdate{
		Status: &completed, CompletedAt: &completedAt,
	}))

	liveJob := newTestJob(t)
	require.NoError(t, jobs.Create(ctx, liveJob, &schema.AMRJobParams{BatchSize: 1}))

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	toArchive, err := arch.JobsToArchive(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, toArchive, 1)
	require.Equal(t, terminalJob.ID, toArchive[0].ID)

	require.NoError(t, arch.ArchiveJob(ctx, terminalJob.ID))

	_, _, err = jobs.Get(ctx, terminalJob.ID)
	require.Error(t, err, "archived job should be gone from the live table")

	toDelete, err := arch.ArchivedJobsToDelete(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Contains(t, toDelete, terminalJob.ID)
}
