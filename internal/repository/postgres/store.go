package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/DongNguyen06/lib-v2/internal/repository"
)

// Store implements repository.Store on a single pgx transaction per unit of work.
type Store struct{ db *DB }

// NewStore constructs a transactional store.
func NewStore(db *DB) *Store { return &Store{db: db} }

var _ repository.Store = (*Store)(nil)

// InTx runs fn inside a read-committed transaction. Row locks taken by the
// queries (SELECT ... FOR UPDATE) serialize concurrent transitions.
func (s *Store) InTx(ctx context.Context, fn func(context.Context, repository.Tx) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	return fn(ctx, &queries{q: tx})
}

// queries implements repository.Tx over any querier.
type queries struct{ q querier }

var _ repository.Tx = (*queries)(nil)
