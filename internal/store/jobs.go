package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

// JobRepository exposes AMR job domain operations and hides SQL,
// mirroring the teacher's JobRepository in internal/repository/job.go
// (squirrel query builder, singleton-free here since the Store itself
// is the process-wide singleton constructed once in Connect).
type JobRepository struct {
	store *Store
	sb    sq.StatementBuilderType
	log   *log.ComponentLogger
}

func NewJobRepository(s *Store) *JobRepository {
	return &JobRepository{store: s, sb: s.squirrel(), log: log.Component("store.jobs")}
}

func (s *Store) squirrel() sq.StatementBuilderType {
	b := sq.StatementBuilder.RunWith(s.stmtCache)
	if s.Driver == "postgres" {
		b = b.PlaceholderFormat(sq.Dollar)
	}
	return b
}

var jobColumns = []string{
	"id", "user_id", "job_name", "status", "progress", "created_at", "updated_at",
	"started_at", "completed_at", "error", "input_file_path", "result_file_path",
	"aggregated_result_file_path", "worker_id",
}

func scanJob(row interface{ Scan(...interface{}) error }) (*schema.AMRJob, error) {
	j := &schema.AMRJob{}
	if err := row.Scan(
		&j.ID, &j.UserID, &j.JobName, &j.Status, &j.Progress, &j.CreatedAt, new(time.Time),
		&j.StartedAt, &j.CompletedAt, &j.Error, &j.InputFilePath, &j.ResultFilePath,
		&j.AggregatedResultFilePath, &j.WorkerID,
	); err != nil {
		return nil, err
	}
	return j, nil
}

// Create writes the job row and its params row in one transaction,
// plus a Submitted status-history row (spec §4.2 create).
func (r *JobRepository) Create(ctx context.Context, job *schema.AMRJob, params *schema.AMRJobParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	return r.store.WithTransaction(ctx, func(uow *UnitOfWork) error {
		now := job.CreatedAt
		_, err := uow.Tx().ExecContext(ctx, r.store.rebind(`
			INSERT INTO jobs (id, user_id, job_name, status, progress, created_at, updated_at,
				started_at, completed_at, error, input_file_path, result_file_path,
				aggregated_result_file_path, worker_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			job.ID, job.UserID, job.JobName, job.Status, job.Progress, now, now,
			job.StartedAt, job.CompletedAt, job.Error, job.InputFilePath, job.ResultFilePath,
			job.AggregatedResultFilePath, job.WorkerID)
		if err != nil {
			return translateWriteErr(err, "creating job")
		}

		_, err = uow.Tx().ExecContext(ctx, r.store.rebind(`
			INSERT INTO job_params (job_id, model_name, batch_size, segment_length, segment_overlap,
				use_cpu, resistance_threshold, enable_sequence_aggregation)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			job.ID, params.ModelName, params.BatchSize, params.SegmentLength, params.SegmentOverlap,
			params.UseCPU, params.ResistanceThreshold, params.EnableSequenceAggregation)
		if err != nil {
			return apierror.Storage("inserting job params", err)
		}

		_, err = uow.Tx().ExecContext(ctx, r.store.rebind(
			`INSERT INTO status_history (job_id, status, timestamp, message) VALUES (?, ?, ?, ?)`),
			job.ID, string(schema.JobSubmitted), now, nil)
		if err != nil {
			return apierror.Storage("inserting status history", err)
		}
		return nil
	})
}

// rebind adapts a "?"-placeholder query for the active driver.
func (s *Store) rebind(query string) string {
	return s.DB.Rebind(query)
}

func translateWriteErr(err error, msg string) error {
	// sqlite3/postgres both surface a constraint violation as a driver
	// error whose text mentions "UNIQUE"/"duplicate key" -- there is no
	// portable sentinel across both drivers, so a substring check
	// stands in for an errors.As type switch here.
	s := err.Error()
	if strings.Contains(s, "UNIQUE") || strings.Contains(s, "duplicate key") {
		return apierror.Conflict("%s: id already exists", msg)
	}
	return apierror.Storage(msg, err)
}

// Get joins params eagerly (spec §4.2 get).
func (r *JobRepository) Get(ctx context.Context, id string) (*schema.AMRJob, *schema.AMRJobParams, error) {
	row := r.sb.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).QueryRow()
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apierror.NotFound("job %s not found", id)
		}
		return nil, nil, apierror.Storage("fetching job", err)
	}

	params := &schema.AMRJobParams{JobID: id}
	err = r.sb.Select("model_name", "batch_size", "segment_length", "segment_overlap",
		"use_cpu", "resistance_threshold", "enable_sequence_aggregation").
		From("job_params").Where(sq.Eq{"job_id": id}).
		QueryRow().Scan(&params.ModelName, &params.BatchSize, &params.SegmentLength,
		&params.SegmentOverlap, &params.UseCPU, &params.ResistanceThreshold, &params.EnableSequenceAggregation)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apierror.Storage("fetching job params", err)
	}

	return job, params, nil
}

// ListOptions captures the /jobs query parameters (spec §6.1/§4.2 list).
type ListOptions struct {
	Status *schema.JobStatus
	UserID *string
	Limit  int
	Offset int
}

// List returns jobs ordered by created_at DESC (spec §4.2 list, §8 S6).
func (r *JobRepository) List(ctx context.Context, opts ListOptions) ([]*schema.AMRJob, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	q := r.sb.Select(jobColumns...).From("jobs").OrderBy("created_at DESC").
		Limit(uint64(limit)).Offset(uint64(opts.Offset))
	if opts.Status != nil {
		q = q.Where(sq.Eq{"status": string(*opts.Status)})
	}
	if opts.UserID != nil {
		q = q.Where(sq.Eq{"user_id": *opts.UserID})
	}

	rows, err := q.Query()
	if err != nil {
		return nil, apierror.Storage("listing jobs", err)
	}
	defer rows.Close()

	jobs := make([]*schema.AMRJob, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apierror.Storage("scanning job row", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateStatus builds one UPDATE over only the supplied fields and
// appends a status-history row when Status changes. Applying the same
// terminal status twice is a no-op (spec §4.2, §8 item 3).
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, upd schema.JobStatusUpdate) error {
	return r.store.WithTransaction(ctx, func(uow *UnitOfWork) error {
		current, err := r.getForUpdate(ctx, uow, id)
		if err != nil {
			return err
		}

		if current.Status.IsTerminal() {
			r.log.Debugf("job %s already terminal (%s), ignoring update", id, current.Status)
			return nil
		}

		set := sq.Eq{"updated_at": time.Now().UTC()}
		statusChanged := false

		if upd.Status != nil {
			if err := validateTransition(current.Status, *upd.Status); err != nil {
				return err
			}
			if *upd.Status != current.Status {
				statusChanged = true
				set["status"] = string(*upd.Status)
			}
		}
		if upd.Progress != nil {
			p := *upd.Progress
			if p < current.Progress {
				r.log.Debugf("job %s: progress %v below stored %v, clamping upward", id, p, current.Progress)
				p = current.Progress
			}
			set["progress"] = p
		}
		if upd.Error != nil {
			set["error"] = *upd.Error
		}
		if upd.StartedAt != nil {
			set["started_at"] = *upd.StartedAt
		}
		if upd.CompletedAt != nil {
			set["completed_at"] = *upd.CompletedAt
		}
		if upd.ResultFilePath != nil {
			set["result_file_path"] = *upd.ResultFilePath
		}
		if upd.AggregatedResultFilePath != nil {
			set["aggregated_result_file_path"] = *upd.AggregatedResultFilePath
		}

		updQ := sq.Update("jobs").Where(sq.Eq{"id": id})
		for col, val := range set {
			updQ = updQ.Set(col, val)
		}
		if r.store.Driver == "postgres" {
			updQ = updQ.PlaceholderFormat(sq.Dollar)
		}
		sqlStr, args, err := updQ.ToSql()
		if err != nil {
			return apierror.Internal("building update statement", err)
		}
		if _, err := uow.Tx().ExecContext(ctx, sqlStr, args...); err != nil {
			return apierror.Storage("updating job", err)
		}

		if statusChanged {
			_, err := uow.Tx().ExecContext(ctx, r.store.rebind(
				`INSERT INTO status_history (job_id, status, timestamp, message) VALUES (?, ?, ?, ?)`),
				id, string(*upd.Status), time.Now().UTC(), upd.HistoryMessage)
			if err != nil {
				return apierror.Storage("appending status history", err)
			}
		}
		return nil
	})
}

// getForUpdate re-reads the job row inside uow's transaction.
func (r *JobRepository) getForUpdate(ctx context.Context, uow *UnitOfWork, id string) (*schema.AMRJob, error) {
	row := uow.Tx().QueryRowxContext(ctx, r.store.rebind(
		`SELECT `+selectList(jobColumns)+` FROM jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NotFound("job %s not found", id)
		}
		return nil, apierror.Storage("fetching job for update", err)
	}
	return j, nil
}

func selectList(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// validateTransition enforces the state machine in spec §4.2.
func validateTransition(from, to schema.JobStatus) error {
	if from.IsTerminal() {
		return apierror.Conflict("cannot transition out of terminal status %s", from)
	}
	switch from {
	case schema.JobSubmitted:
		switch to {
		case schema.JobSubmitted, schema.JobRunning, schema.JobCancelled, schema.JobError:
			return nil
		}
	case schema.JobRunning:
		switch to {
		case schema.JobRunning, schema.JobCompleted, schema.JobError, schema.JobCancelled:
			return nil
		}
	}
	return apierror.Conflict("illegal transition %s -> %s", from, to)
}

// AddParameters upserts free-form side parameters (spec §4.2
// addParameters). Any of the seven job_params columns may be updated;
// unknown keys are rejected rather than silently dropped.
func (r *JobRepository) AddParameters(ctx context.Context, jobID string, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	updQ := sq.Update("job_params").Where(sq.Eq{"job_id": jobID})
	for k, v := range values {
		switch k {
		case "model_name", "batch_size", "segment_length", "segment_overlap",
			"use_cpu", "resistance_threshold", "enable_sequence_aggregation":
			updQ = updQ.Set(k, v)
		default:
			return apierror.InvalidInput("unknown job parameter %q", k)
		}
	}
	if r.store.Driver == "postgres" {
		updQ = updQ.PlaceholderFormat(sq.Dollar)
	}
	sqlStr, args, err := updQ.ToSql()
	if err != nil {
		return apierror.Internal("building params update", err)
	}
	if _, err := r.store.DB.ExecContext(ctx, sqlStr, args...); err != nil {
		return apierror.Storage("updating job params", err)
	}
	return nil
}

// Delete cascades to params, history, and (via the same id namespace)
// any Bakta child rows are untouched -- AMR and Bakta jobs are
// distinct entities (spec §3 ownership/lifecycle, §4.2 delete).
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.store.DB.ExecContext(ctx, r.store.rebind(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return apierror.Storage("deleting job", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFound("job %s not found", id)
	}
	return nil
}

// History returns the append-only status history for a job, oldest
// first (spec §3 JobStatusHistory, §8 item 1).
func (r *JobRepository) History(ctx context.Context, jobID string) ([]schema.JobStatusHistory, error) {
	rows, err := r.sb.Select("id", "job_id", "status", "timestamp", "message").
		From("status_history").Where(sq.Eq{"job_id": jobID}).OrderBy("id ASC").Query()
	if err != nil {
		return nil, apierror.Storage("fetching status history", err)
	}
	defer rows.Close()

	var out []schema.JobStatusHistory
	for rows.Next() {
		var h schema.JobStatusHistory
		if err := rows.Scan(&h.ID, &h.JobID, &h.Status, &h.Timestamp, &h.Message); err != nil {
			return nil, apierror.Storage("scanning status history row", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
