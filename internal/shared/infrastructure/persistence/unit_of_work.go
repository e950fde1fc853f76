package persistence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUnitOfWork spans one pgx transaction over every repository
// call made with the context returned from Begin.
type PostgresUnitOfWork struct {
	pool *pgxpool.Pool
}

func NewPostgresUnitOfWork(pool *pgxpool.Pool) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{pool: pool}
}

// Begin opens a transaction and stamps it onto the context. When the
// context already carries one, the existing transaction is reused and
// this unit does not take ownership of it.
func (u *PostgresUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	if info, ok := TxInfoFromContext(ctx); ok {
		return WithTx(ctx, info.Tx, false), nil
	}

	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return WithTx(ctx, tx, true), nil
}

// Commit commits the context's transaction. A non-owning unit is a
// no-op so a nested commit cannot end the outer transaction early.
func (u *PostgresUnitOfWork) Commit(ctx context.Context) error {
	info, ok := TxInfoFromContext(ctx)
	switch {
	case !ok:
		return ErrNoTransaction
	case !info.Owned:
		return nil
	}
	return info.Tx.Commit(ctx)
}

// Rollback rolls back the context's transaction, again only when this
// unit owns it.
func (u *PostgresUnitOfWork) Rollback(ctx context.Context) error {
	info, ok := TxInfoFromContext(ctx)
	switch {
	case !ok:
		return ErrNoTransaction
	case !info.Owned:
		return nil
	}
	return info.Tx.Rollback(ctx)
}
