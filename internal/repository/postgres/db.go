package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-checkin/internal/repository"
)

// maxTxAttempts bounds how many times a transaction is re-run after a
// serialization failure or deadlock.
const maxTxAttempts = 3

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements repository.Store on a pgx pool. A Store bound to a
// transaction (db != nil) routes every repository through it.
type Store struct {
	pool *pgxpool.Pool
	db   DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTxOnce(ctx, txOpts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}

	return err
}

func (s *Store) runTxOnce(
	ctx context.Context,
	txOpts pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return translateDBErr(err)
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translateDBErr(err))
	}

	return nil
}

// InTx runs fn in a transaction. Called on a Store that is already bound to
// a transaction, it joins that transaction.
func (s *Store) InTx(
	ctx context.Context,
	opts repository.TxOptions,
	fn func(ctx context.Context, tx repository.Store) error,
) error {
	if s.db != nil {
		return fn(ctx, s)
	}

	txOpts := &pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}
	if opts.IsoLevel == repository.Serializable {
		txOpts.IsoLevel = pgx.Serializable
	}

	return s.RunTx(ctx, txOpts, func(ctx context.Context, tx DB) error {
		return fn(ctx, &Store{pool: s.pool, db: tx})
	})
}

func (s *Store) Tickets() repository.Tickets {
	return (&TicketRepo{pool: s.pool}).With(s.db)
}

func (s *Store) CheckIns() repository.CheckIns {
	return (&CheckInRepo{pool: s.pool}).With(s.db)
}

func (s *Store) Windows() repository.Windows {
	return (&WindowRepo{pool: s.pool}).With(s.db)
}
