package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

// UnitOfWork bundles one or more statements into a single atomically
// committed transaction, per spec §4.1: "A single unit of work may
// contain multiple statements and is committed atomically or rolled
// back entirely."
type UnitOfWork struct {
	tx *sqlx.Tx
}

// WithTransaction runs fn inside a new transaction, committing on a
// nil return and rolling back otherwise -- the shape every C2
// operation that mutates a job row plus appends history uses, mirroring
// the teacher's TransactionInit/Commit/End bundling in
// internal/repository/transaction.go.
func (s *Store) WithTransaction(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return apierror.Storage("beginning transaction", err)
	}

	uow := &UnitOfWork{tx: tx}
	if err := fn(uow); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return apierror.Storage("rolling back transaction after error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.Storage("committing transaction", err)
	}
	return nil
}

func (u *UnitOfWork) Tx() *sqlx.Tx { return u.tx }
