package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

// IdempotencyRepository backs the Idempotency-Key contract (SPEC_FULL
// §3 ADD): a replayed (key, body) pair within the TTL window returns
// the job created by the original request instead of creating a
// second one (spec §8 item 8).
type IdempotencyRepository struct {
	store *Store
	sb    sq.StatementBuilderType
}

func NewIdempotencyRepository(s *Store) *IdempotencyRepository {
	return &IdempotencyRepository{store: s, sb: s.squirrel()}
}

// Lookup returns the job id previously associated with keyHash, if the
// stored row hasn't expired under ttl. A mismatched bodyHash for the
// same key is a conflict: the client reused a key with a different
// request body.
func (r *IdempotencyRepository) Lookup(ctx context.Context, keyHash, bodyHash string, ttl time.Duration) (string, error) {
	row := r.sb.Select("body_hash", "job_id", "created_at").
		From("idempotency_keys").Where(sq.Eq{"key_hash": keyHash}).QueryRow()

	var storedBodyHash, jobID string
	var createdAt time.Time
	if err := row.Scan(&storedBodyHash, &jobID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apierror.NotFound("idempotency key not found")
		}
		return "", apierror.Storage("fetching idempotency key", err)
	}

	if time.Since(createdAt) > ttl {
		return "", apierror.NotFound("idempotency key expired")
	}
	if storedBodyHash != bodyHash {
		return "", apierror.Conflict("idempotency key reused with a different request body")
	}
	return jobID, nil
}

// Store records a new (key, body) -> job association. A write into an
// already-used key_hash is treated as a caller bug rather than a race:
// the API layer is expected to check Lookup first within the same
// request, under whatever locking its handler provides.
func (r *IdempotencyRepository) Store(ctx context.Context, rec schema.IdempotencyKey) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`INSERT INTO idempotency_keys (key_hash, body_hash, job_id, created_at) VALUES (?, ?, ?, ?)`),
		rec.KeyHash, rec.BodyHash, rec.JobID, rec.CreatedAt)
	if err != nil {
		return translateWriteErr(err, "storing idempotency key")
	}
	return nil
}

// PurgeExpired deletes idempotency rows older than ttl. The archiver's
// retention sweep does not call it.
func (r *IdempotencyRepository) PurgeExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`DELETE FROM idempotency_keys WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, apierror.Storage("purging expired idempotency keys", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
