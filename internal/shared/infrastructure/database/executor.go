package database

import (
	"context"
	"database/sql"
)

// Row is one result row, covering pgx.Row and *sql.Row alike.
type Row interface {
	Scan(dest ...any) error
}

// Rows is an iterable result set, covering pgx.Rows and *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Result reports what a write statement did.
type Result interface {
	RowsAffected() (int64, error)
	LastInsertId() (int64, error)
}

// Executor runs SQL without caring which driver sits underneath.
// The store code is written against this so the same queries serve
// the Postgres deployment and the single-file local mode.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Transaction is an Executor whose writes land only on Commit.
type Transaction interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is a live database handle. It executes directly and
// hands out transactions.
type Connection interface {
	Executor
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
	Ping(ctx context.Context) error
	Driver() Driver
}

type sqlResult struct {
	inner sql.Result
}

func (r sqlResult) RowsAffected() (int64, error) { return r.inner.RowsAffected() }
func (r sqlResult) LastInsertId() (int64, error) { return r.inner.LastInsertId() }

// WrapSQLResult adapts a database/sql result to Result.
func WrapSQLResult(r sql.Result) Result {
	return sqlResult{inner: r}
}

type sqlRows struct {
	inner *sql.Rows
}

func (r sqlRows) Next() bool             { return r.inner.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.inner.Scan(dest...) }
func (r sqlRows) Close() error           { return r.inner.Close() }
func (r sqlRows) Err() error             { return r.inner.Err() }

// WrapSQLRows adapts database/sql rows to Rows.
func WrapSQLRows(r *sql.Rows) Rows {
	return sqlRows{inner: r}
}
