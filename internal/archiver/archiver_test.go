package archiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gast-project/gast-orchestrator/internal/config"
	"github.com/gast-project/gast-orchestrator/internal/store"
	"github.com/gast-project/gast-orchestrator/pkg/log"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

type fakeArchiveRepo struct {
	locked           bool
	amrToArchive     []store.ArchivableJob
	baktaToArchive   []string
	amrArchived      []string
	baktaArchived    []string
	amrToDelete      []string
	baktaToDelete    []string
	amrDeleted       []string
	baktaDeleted     []string
}

func (f *fakeArchiveRepo) AcquireLock(ctx context.Context, staleAfter time.Duration) (bool, error) {
	if f.locked {
		return false, nil
	}
	f.locked = true
	return true, nil
}
func (f *fakeArchiveRepo) Heartbeat(ctx context.Context) error { return nil }
func (f *fakeArchiveRepo) ReleaseLock(ctx context.Context) error {
	f.locked = false
	return nil
}
func (f *fakeArchiveRepo) JobsToArchive(ctx context.Context, cutoff time.Time, limit int) ([]store.ArchivableJob, error) {
	out := f.amrToArchive
	f.amrToArchive = nil
	return out, nil
}
func (f *fakeArchiveRepo) ArchiveJob(ctx context.Context, id string) error {
	f.amrArchived = append(f.amrArchived, id)
	return nil
}
func (f *fakeArchiveRepo) ArchivedJobsToDelete(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	out := f.amrToDelete
	f.amrToDelete = nil
	return out, nil
}
func (f *fakeArchiveRepo) DeleteArchivedJob(ctx context.Context, id string) error {
	f.amrDeleted = append(f.amrDeleted, id)
	return nil
}
func (f *fakeArchiveRepo) BaktaJobsToArchive(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	out := f.baktaToArchive
	f.baktaToArchive = nil
	return out, nil
}
func (f *fakeArchiveRepo) ArchiveBaktaJob(ctx context.Context, id string) error {
	f.baktaArchived = append(f.baktaArchived, id)
	return nil
}
func (f *fakeArchiveRepo) ArchivedBaktaJobsToDelete(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	out := f.baktaToDelete
	f.baktaToDelete = nil
	return out, nil
}
func (f *fakeArchiveRepo) DeleteArchivedBaktaJob(ctx context.Context, id string) error {
	f.baktaDeleted = append(f.baktaDeleted, id)
	return nil
}

type fakeBaktaFiles struct {
	files map[string][]schema.BaktaResultFile
}

func (f *fakeBaktaFiles) ResultFiles(ctx context.Context, jobID string) ([]schema.BaktaResultFile, error) {
	return f.files[jobID], nil
}

func TestSweepArchivesAndRelocatesAMRResultFiles(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "amr_predictions_job1.tsv")
	require.NoError(t, os.WriteFile(resultPath, []byte("data"), 0o644))

	cold := NewFileColdStorage(filepath.Join(dir, "cold"))
	repo := &fakeArchiveRepo{
		amrToArchive: []store.ArchivableJob{{ID: "job1", ResultFilePath: &resultPath}},
	}
	a := &Archiver{archive: repo, baktaFile: &fakeBaktaFiles{}, cold: cold, retention: config.RetentionConfig{}, log: log.Component("archiver-test")}

	require.NoError(t, a.Sweep(context.Background()))

	assert.Equal(t, []string{"job1"}, repo.amrArchived)
	assert.NoFileExists(t, resultPath)
	assert.FileExists(t, filepath.Join(dir, "cold", "jo", "job1", "amr_predictions_job1.tsv"))
	assert.False(t, repo.locked, "lock must be released after sweep")
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	repo := &fakeArchiveRepo{locked: true, amrToArchive: []store.ArchivableJob{{ID: "job1"}}}
	a := &Archiver{archive: repo, baktaFile: &fakeBaktaFiles{}, cold: NewFileColdStorage(t.TempDir()), retention: config.RetentionConfig{}, log: log.Component("archiver-test")}

	require.NoError(t, a.Sweep(context.Background()))
	assert.Empty(t, repo.amrArchived, "sweep must not run while another holder has the lock")
}

func TestSweepDeletesExpiredArchivedRows(t *testing.T) {
	repo := &fakeArchiveRepo{amrToDelete: []string{"old1", "old2"}, baktaToDelete: []string{"old3"}}
	a := &Archiver{archive: repo, baktaFile: &fakeBaktaFiles{}, cold: NewFileColdStorage(t.TempDir()), retention: config.RetentionConfig{}, log: log.Component("archiver-test")}

	require.NoError(t, a.Sweep(context.Background()))
	assert.ElementsMatch(t, []string{"old1", "old2"}, repo.amrDeleted)
	assert.ElementsMatch(t, []string{"old3"}, repo.baktaDeleted)
}

func TestSweepRelocatesBaktaResultFiles(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "JSON.json")
	require.NoError(t, os.WriteFile(filePath, []byte("{}"), 0o644))

	cold := NewFileColdStorage(filepath.Join(dir, "cold"))
	repo := &fakeArchiveRepo{baktaToArchive: []string{"bjob1"}}
	files := &fakeBaktaFiles{files: map[string][]schema.BaktaResultFile{
		"bjob1": {{JobID: "bjob1", FileType: "JSON", FilePath: filePath}},
	}}
	a := &Archiver{archive: repo, baktaFile: files, cold: cold, retention: config.RetentionConfig{}, log: log.Component("archiver-test")}

	require.NoError(t, a.Sweep(context.Background()))
	assert.Equal(t, []string{"bjob1"}, repo.baktaArchived)
	assert.NoFileExists(t, filePath)
}
