package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// ArchiveRepository backs C6 (spec §4.6): moving terminal jobs older
// than archive_after into the archive tables, and deleting archived
// rows older than delete_after. Every moved job is its own
// transaction so a sweep is safe to interrupt mid-pass.
type ArchiveRepository struct {
	store *Store
	log   *log.ComponentLogger
}

func NewArchiveRepository(s *Store) *ArchiveRepository {
	return &ArchiveRepository{store: s, log: log.Component("store.archive")}
}

// AcquireLock claims the single-row advisory lock, refusing to start a
// second concurrent sweep. staleAfter treats a lock whose heartbeat
// hasn't moved in that long as abandoned by a crashed process and
// reclaims it.
func (r *ArchiveRepository) AcquireLock(ctx context.Context, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`UPDATE archiver_lock SET running = ?, heartbeat_at = ? WHERE id = 1 AND (running = ? OR heartbeat_at IS NULL OR heartbeat_at < ?)`),
		true, now, false, now.Add(-staleAfter))
	if err != nil {
		return false, apierror.Storage("acquiring archiver lock", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	return true, nil
}

// Heartbeat refreshes the lock's timestamp so a long sweep isn't
// mistaken for a crashed one by a later AcquireLock call.
func (r *ArchiveRepository) Heartbeat(ctx context.Context) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`UPDATE archiver_lock SET heartbeat_at = ? WHERE id = 1`), time.Now().UTC())
	if err != nil {
		return apierror.Storage("updating archiver heartbeat", err)
	}
	return nil
}

// ReleaseLock marks the sweep finished.
func (r *ArchiveRepository) ReleaseLock(ctx context.Context) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`UPDATE archiver_lock SET running = ? WHERE id = 1`), false)
	if err != nil {
		return apierror.Storage("releasing archiver lock", err)
	}
	return nil
}

// ArchivableJob is the minimal projection needed to decide whether a
// result file should be removed from the primary results directory
// after archival (spec §4.6 "removes their large result files...if
// copied to cold storage").
type ArchivableJob struct {
	ID                       string
	ResultFilePath           *string
	AggregatedResultFilePath *string
}

// JobsToArchive returns terminal jobs completed before cutoff, in id
// order for deterministic sweep progress.
func (r *ArchiveRepository) JobsToArchive(ctx context.Context, cutoff time.Time, limit int) ([]ArchivableJob, error) {
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(`
		SELECT id, result_file_path, aggregated_result_file_path FROM jobs
		WHERE status IN ('Completed', 'Error', 'Cancelled') AND completed_at IS NOT NULL AND completed_at < ?
		ORDER BY id ASC LIMIT ?`), cutoff, limit)
	if err != nil {
		return nil, apierror.Storage("listing jobs to archive", err)
	}
	defer rows.Close()

	var out []ArchivableJob
	for rows.Next() {
		var j ArchivableJob
		if err := rows.Scan(&j.ID, &j.ResultFilePath, &j.AggregatedResultFilePath); err != nil {
			return nil, apierror.Storage("scanning archivable job row", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ArchiveJob moves one job row (and its params/history, which the
// archive tables do not mirror individually -- the archive copy is a
// terminal snapshot, not a full audit trail) into jobs_archive inside
// a single transaction, then deletes the live row. Safe to call twice
// for the same id: the second call finds no live row and is a no-op.
func (r *ArchiveRepository) ArchiveJob(ctx context.Context, id string) error {
	return r.store.WithTransaction(ctx, func(uow *UnitOfWork) error {
		row := uow.Tx().QueryRowxContext(ctx, r.store.rebind(`
			SELECT id, user_id, job_name, status, progress, created_at, started_at, completed_at,
				error, input_file_path, result_file_path, aggregated_result_file_path
			FROM jobs WHERE id = ?`), id)

		var (
			jobID, jobName, status                                      string
			userID, errMsg, inputPath, resultPath, aggResultPath        *string
			progress                                                    float64
			createdAt                                                   time.Time
			startedAt, completedAt                                      *time.Time
		)
		if err := row.Scan(&jobID, &userID, &jobName, &status, &progress, &createdAt, &startedAt,
			&completedAt, &errMsg, &inputPath, &resultPath, &aggResultPath); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return apierror.Storage("reading job for archival", err)
		}

		_, err := uow.Tx().ExecContext(ctx, r.store.rebind(`
			INSERT INTO jobs_archive (id, user_id, job_name, status, progress, created_at, updated_at,
				started_at, completed_at, error, input_file_path, result_file_path,
				aggregated_result_file_path, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			jobID, userID, jobName, status, progress, createdAt, createdAt, startedAt, completedAt,
			errMsg, inputPath, resultPath, aggResultPath, time.Now().UTC())
		if err != nil {
			return apierror.Storage("inserting archived job", err)
		}

		if _, err := uow.Tx().ExecContext(ctx, r.store.rebind(`DELETE FROM jobs WHERE id = ?`), id); err != nil {
			return apierror.Storage("deleting archived job", err)
		}
		return nil
	})
}

// ArchivedJobsToDelete returns jobs_archive ids whose archived_at
// predates cutoff.
func (r *ArchiveRepository) ArchivedJobsToDelete(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	return r.idsOlderThan(ctx, "jobs_archive", cutoff, limit)
}

// DeleteArchivedJob permanently removes one row from jobs_archive.
func (r *ArchiveRepository) DeleteArchivedJob(ctx context.Context, id string) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(`DELETE FROM jobs_archive WHERE id = ?`), id)
	if err != nil {
		return apierror.Storage("deleting archived job row", err)
	}
	return nil
}

// BaktaJobsToArchive mirrors JobsToArchive for the Bakta domain.
func (r *ArchiveRepository) BaktaJobsToArchive(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(`
		SELECT id FROM bakta_jobs
		WHERE status IN ('Successful', 'Error') AND completed_at IS NOT NULL AND completed_at < ?
		ORDER BY id ASC LIMIT ?`), cutoff, limit)
	if err != nil {
		return nil, apierror.Storage("listing bakta jobs to archive", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.Storage("scanning bakta archivable id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ArchiveBaktaJob moves one bakta_jobs row into bakta_jobs_archive.
// Secret and fasta_path/config_json are intentionally dropped: the
// archive keeps only the lifecycle snapshot, never the credential used
// to fetch it from the remote service.
func (r *ArchiveRepository) ArchiveBaktaJob(ctx context.Context, id string) error {
	return r.store.WithTransaction(ctx, func(uow *UnitOfWork) error {
		row := uow.Tx().QueryRowxContext(ctx, r.store.rebind(`
			SELECT id, remote_id, name, status, created_at, started_at, completed_at, error
			FROM bakta_jobs WHERE id = ?`), id)

		var (
			jobID, name, status          string
			remoteID, errMsg             *string
			createdAt                    time.Time
			startedAt, completedAt       *time.Time
		)
		if err := row.Scan(&jobID, &remoteID, &name, &status, &createdAt, &startedAt, &completedAt, &errMsg); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return apierror.Storage("reading bakta job for archival", err)
		}

		_, err := uow.Tx().ExecContext(ctx, r.store.rebind(`
			INSERT INTO bakta_jobs_archive (id, remote_id, name, status, created_at, updated_at,
				started_at, completed_at, error, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			jobID, remoteID, name, status, createdAt, createdAt, startedAt, completedAt, errMsg, time.Now().UTC())
		if err != nil {
			return apierror.Storage("inserting archived bakta job", err)
		}

		if _, err := uow.Tx().ExecContext(ctx, r.store.rebind(`DELETE FROM bakta_jobs WHERE id = ?`), id); err != nil {
			return apierror.Storage("deleting archived bakta job", err)
		}
		return nil
	})
}

// ArchivedBaktaJobsToDelete mirrors ArchivedJobsToDelete.
func (r *ArchiveRepository) ArchivedBaktaJobsToDelete(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	return r.idsOlderThan(ctx, "bakta_jobs_archive", cutoff, limit)
}

// DeleteArchivedBaktaJob permanently removes one row from bakta_jobs_archive.
func (r *ArchiveRepository) DeleteArchivedBaktaJob(ctx context.Context, id string) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(`DELETE FROM bakta_jobs_archive WHERE id = ?`), id)
	if err != nil {
		return apierror.Storage("deleting archived bakta job row", err)
	}
	return nil
}

func (r *ArchiveRepository) idsOlderThan(ctx context.Context, table string, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(
		`SELECT id FROM `+table+` WHERE archived_at < ? ORDER BY id ASC LIMIT ?`), cutoff, limit)
	if err != nil {
		return nil, apierror.Storage("listing "+table+" ids to delete", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.Storage("scanning "+table+" id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
