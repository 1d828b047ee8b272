package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

// BaktaRepository hides the SQL for the external-annotation domain
// (BaktaJob/BaktaSequence/BaktaResultFile/BaktaAnnotation), mirroring
// JobRepository's shape.
type BaktaRepository struct {
	store *Store
	sb    sq.StatementBuilderType
	log   *log.ComponentLogger
}

func NewBaktaRepository(s *Store) *BaktaRepository {
	return &BaktaRepository{store: s, sb: s.squirrel(), log: log.Component("store.bakta")}
}

var baktaJobColumns = []string{
	"id", "remote_id", "secret", "name", "status", "fasta_path", "config_json",
	"created_at", "updated_at", "started_at", "completed_at", "error", "worker_id",
}

func scanBaktaJob(row interface{ Scan(...interface{}) error }) (*schema.BaktaJob, error) {
	j := &schema.BaktaJob{}
	if err := row.Scan(
		&j.ID, &j.RemoteID, &j.Secret, &j.Name, &j.Status, &j.FastaPath, &j.ConfigJSON,
		&j.CreatedAt, new(time.Time), &j.StartedAt, &j.CompletedAt, &j.Error, &j.WorkerID,
	); err != nil {
		return nil, err
	}
	return j, nil
}

// CreateJob persists the BaktaJob row plus its uploaded sequences in
// one transaction (spec §4.3 submit).
func (r *BaktaRepository) CreateJob(ctx context.Context, job *schema.BaktaJob, seqs []schema.BaktaSequence) error {
	return r.store.WithTransaction(ctx, func(uow *UnitOfWork) error {
		now := job.CreatedAt
		_, err := uow.Tx().ExecContext(ctx, r.store.rebind(`
			INSERT INTO bakta_jobs (id, remote_id, secret, name, status, fasta_path, config_json,
				created_at, updated_at, started_at, completed_at, error, worker_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			job.ID, job.RemoteID, job.Secret, job.Name, job.Status, job.FastaPath, job.ConfigJSON,
			now, now, job.StartedAt, job.CompletedAt, job.Error, job.WorkerID)
		if err != nil {
			return translateWriteErr(err, "creating bakta job")
		}

		for _, s := range seqs {
			_, err := uow.Tx().ExecContext(ctx, r.store.rebind(
				`INSERT INTO bakta_sequences (job_id, header, sequence, length) VALUES (?, ?, ?, ?)`),
				job.ID, s.Header, s.Sequence, s.Length)
			if err != nil {
				return apierror.Storage("inserting bakta sequence", err)
			}
		}

		_, err = uow.Tx().ExecContext(ctx, r.store.rebind(
			`INSERT INTO bakta_status_history (job_id, status, timestamp, message) VALUES (?, ?, ?, ?)`),
			job.ID, string(job.Status), now, nil)
		if err != nil {
			return apierror.Storage("inserting bakta status history", err)
		}
		return nil
	})
}

// GetJob fetches a BaktaJob by id (spec §4.3 getStatus).
func (r *BaktaRepository) GetJob(ctx context.Context, id string) (*schema.BaktaJob, error) {
	row := r.sb.Select(baktaJobColumns...).From("bakta_jobs").Where(sq.Eq{"id": id}).QueryRow()
	j, err := scanBaktaJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NotFound("bakta job %s not found", id)
		}
		return nil, apierror.Storage("fetching bakta job", err)
	}
	return j, nil
}

// GetJobByRemoteID is used by the poll loop to resolve a remote Bakta
// job id back to the local record (spec §4.3 poll/resume).
func (r *BaktaRepository) GetJobByRemoteID(ctx context.Context, remoteID string) (*schema.BaktaJob, error) {
	row := r.sb.Select(baktaJobColumns...).From("bakta_jobs").Where(sq.Eq{"remote_id": remoteID}).QueryRow()
	j, err := scanBaktaJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NotFound("bakta job with remote id %s not found", remoteID)
		}
		return nil, apierror.Storage("fetching bakta job by remote id", err)
	}
	return j, nil
}

// ListRunning returns every bakta job not yet in a terminal status, for
// crash-recovery resume at startup (spec §4.3/§5 "Bakta poll loops are
// independently resumable after a crash").
func (r *BaktaRepository) ListRunning(ctx context.Context) ([]*schema.BaktaJob, error) {
	rows, err := r.sb.Select(baktaJobColumns...).From("bakta_jobs").
		Where(sq.Eq{"status": []string{string(schema.BaktaInit), string(schema.BaktaRunning)}}).Query()
	if err != nil {
		return nil, apierror.Storage("listing running bakta jobs", err)
	}
	defer rows.Close()

	var out []*schema.BaktaJob
	for rows.Next() {
		j, err := scanBaktaJob(rows)
		if err != nil {
			return nil, apierror.Storage("scanning bakta job row", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// BaktaStatusUpdate is the set of optionally-supplied fields for
// UpdateJobStatus, mirroring StatusUpdate for AMR jobs.
type BaktaStatusUpdate struct {
	RemoteID    *string
	Secret      *string
	Status      *schema.BaktaStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
	WorkerID    *string
}

// UpdateJobStatus applies a partial update; re-applying a terminal
// status is a no-op, matching AMR job semantics (spec §4.3, §8 item 3).
func (r *BaktaRepository) UpdateJobStatus(ctx context.Context, id string, upd BaktaStatusUpdate) error {
	return r.store.WithTransaction(ctx, func(uow *UnitOfWork) error {
		row := uow.Tx().QueryRowxContext(ctx, r.store.rebind(
			`SELECT `+selectList(baktaJobColumns)+` FROM bakta_jobs WHERE id = ?`), id)
		current, err := scanBaktaJob(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apierror.NotFound("bakta job %s not found", id)
			}
			return apierror.Storage("fetching bakta job for update", err)
		}

		if current.Status.IsTerminal() {
			r.log.Debugf("bakta job %s already terminal (%s), ignoring update", id, current.Status)
			return nil
		}

		set := sq.Eq{"updated_at": time.Now().UTC()}
		if upd.RemoteID != nil {
			set["remote_id"] = *upd.RemoteID
		}
		if upd.Secret != nil {
			set["secret"] = *upd.Secret
		}
		if upd.Status != nil {
			set["status"] = string(*upd.Status)
		}
		if upd.StartedAt != nil {
			set["started_at"] = *upd.StartedAt
		}
		if upd.CompletedAt != nil {
			set["completed_at"] = *upd.CompletedAt
		}
		if upd.Error != nil {
			set["error"] = *upd.Error
		}
		if upd.WorkerID != nil {
			set["worker_id"] = *upd.WorkerID
		}

		updQ := sq.Update("bakta_jobs").Where(sq.Eq{"id": id})
		for col, val := range set {
			updQ = updQ.Set(col, val)
		}
		if r.store.Driver == "postgres" {
			updQ = updQ.PlaceholderFormat(sq.Dollar)
		}
		sqlStr, args, err := updQ.ToSql()
		if err != nil {
			return apierror.Internal("building bakta update statement", err)
		}
		if _, err := uow.Tx().ExecContext(ctx, sqlStr, args...); err != nil {
			return apierror.Storage("updating bakta job", err)
		}
		return nil
	})
}

// SaveResultFile records one downloaded artifact.
func (r *BaktaRepository) SaveResultFile(ctx context.Context, f schema.BaktaResultFile) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(`
		INSERT INTO bakta_result_files (job_id, file_type, file_path, download_url, downloaded_at)
		VALUES (?, ?, ?, ?, ?)`),
		f.JobID, f.FileType, f.FilePath, f.DownloadURL, f.DownloadedAt)
	if err != nil {
		return apierror.Storage("saving bakta result file", err)
	}
	return nil
}

// ResultFiles returns every downloaded artifact for a job.
func (r *BaktaRepository) ResultFiles(ctx context.Context, jobID string) ([]schema.BaktaResultFile, error) {
	rows, err := r.sb.Select("id", "job_id", "file_type", "file_path", "download_url", "downloaded_at").
		From("bakta_result_files").Where(sq.Eq{"job_id": jobID}).OrderBy("id ASC").Query()
	if err != nil {
		return nil, apierror.Storage("listing bakta result files", err)
	}
	defer rows.Close()

	var out []schema.BaktaResultFile
	for rows.Next() {
		var f schema.BaktaResultFile
		if err := rows.Scan(&f.ID, &f.JobID, &f.FileType, &f.FilePath, &f.DownloadURL, &f.DownloadedAt); err != nil {
			return nil, apierror.Storage("scanning bakta result file row", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveAnnotations inserts every parsed feature in one transaction so a
// partially-parsed result file never leaves partial rows behind (spec
// §4.3 parse, SPEC_FULL §9).
func (r *BaktaRepository) SaveAnnotations(ctx context.Context, jobID string, annotations []schema.BaktaAnnotation) error {
	if len(annotations) == 0 {
		return nil
	}
	return r.store.WithTransaction(ctx, func(uow *UnitOfWork) error {
		for _, a := range annotations {
			_, err := uow.Tx().ExecContext(ctx, r.store.rebind(`
				INSERT INTO bakta_annotations (job_id, feature_id, feature_type, contig, start, "end", strand, attributes_json)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
				jobID, a.FeatureID, a.FeatureType, a.Contig, a.Start, a.End, a.Strand, a.AttributesJSON)
			if err != nil {
				return apierror.Storage("inserting bakta annotation", err)
			}
		}
		return nil
	})
}

// AnnotationQuery captures the /bakta/{id}/annotations filters (spec
// §6.1, §8 item 5).
type AnnotationQuery struct {
	FeatureType *string
	Contig      *string
	RangeStart  *int
	RangeEnd    *int
	Limit       int
	Offset      int
}

// Annotations lists features for a job, applying the overlap predicate
// NOT (end < range_start OR start > range_end) when a range is given,
// ordered by (start, end) with feature_id ascending breaking ties
// deterministically (spec §8 item 5).
func (r *BaktaRepository) Annotations(ctx context.Context, jobID string, q AnnotationQuery) ([]schema.BaktaAnnotation, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	endCol := "end"
	if r.store.Driver == "postgres" {
		endCol = `"end"`
	}
	sel := r.sb.Select("id", "job_id", "feature_id", "feature_type", "contig", "start", endCol, "strand", "attributes_json").
		From("bakta_annotations").Where(sq.Eq{"job_id": jobID}).
		OrderBy("start ASC", endCol+" ASC", "feature_id ASC").Limit(uint64(limit)).Offset(uint64(q.Offset))
	if q.FeatureType != nil {
		sel = sel.Where(sq.Eq{"feature_type": *q.FeatureType})
	}
	if q.Contig != nil {
		sel = sel.Where(sq.Eq{"contig": *q.Contig})
	}
	if q.RangeStart != nil && q.RangeEnd != nil {
		sel = sel.Where(sq.And{
			sq.Expr(endCol+" >= ?", *q.RangeStart),
			sq.Expr("start <= ?", *q.RangeEnd),
		})
	}

	rows, err := sel.Query()
	if err != nil {
		return nil, apierror.Storage("listing bakta annotations", err)
	}
	defer rows.Close()

	var out []schema.BaktaAnnotation
	for rows.Next() {
		var a schema.BaktaAnnotation
		if err := rows.Scan(&a.ID, &a.JobID, &a.FeatureID, &a.FeatureType, &a.Contig, &a.Start, &a.End, &a.Strand, &a.AttributesJSON); err != nil {
			return nil, apierror.Storage("scanning bakta annotation row", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendHistory records one observed status unconditionally -- unlike
// JobRepository.UpdateStatus, the Bakta poll loop writes a row on
// every tick it observes, not only when the status actually changes
// (spec §4.4b step 2: "Record each observed remote status to
// JobStatusHistory").
func (r *BaktaRepository) AppendHistory(ctx context.Context, jobID string, status string, message *string) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`INSERT INTO bakta_status_history (job_id, status, timestamp, message) VALUES (?, ?, ?, ?)`),
		jobID, status, time.Now().UTC(), message)
	if err != nil {
		return apierror.Storage("appending bakta status history", err)
	}
	return nil
}

// StatusHistory returns every recorded observation for a job, oldest
// first.
func (r *BaktaRepository) StatusHistory(ctx context.Context, jobID string) ([]schema.JobStatusHistory, error) {
	rows, err := r.sb.Select("id", "job_id", "status", "timestamp", "message").
		From("bakta_status_history").Where(sq.Eq{"job_id": jobID}).OrderBy("id ASC").Query()
	if err != nil {
		return nil, apierror.Storage("fetching bakta status history", err)
	}
	defer rows.Close()

	var out []schema.JobStatusHistory
	for rows.Next() {
		var h schema.JobStatusHistory
		if err := rows.Scan(&h.ID, &h.JobID, &h.Status, &h.Timestamp, &h.Message); err != nil {
			return nil, apierror.Storage("scanning bakta status history row", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteJob cascades to sequences, result files and annotations.
func (r *BaktaRepository) DeleteJob(ctx context.Context, id string) error {
	res, err := r.store.DB.ExecContext(ctx, r.store.rebind(`DELETE FROM bakta_jobs WHERE id = ?`), id)
	if err != nil {
		return apierror.Storage("deleting bakta job", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFound("bakta job %s not found", id)
	}
	return nil
}
