// Package migrations applies embedded schema migrations for both database drivers.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

// RunSQLite applies all pending SQLite migrations.
func RunSQLite(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(sqliteFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "sqlite"); err != nil {
		return fmt.Errorf("apply sqlite migrations: %w", err)
	}

	return nil
}

// RunPostgres applies all pending PostgreSQL migrations over the given pool.
func RunPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(postgresFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "postgres"); err != nil {
		return fmt.Errorf("apply postgres migrations: %w", err)
	}

	return nil
}

// StatusSQLite prints the migration status for a SQLite database.
func StatusSQLite(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(sqliteFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.StatusContext(ctx, db, "sqlite"); err != nil {
		return fmt.Errorf("sqlite migration status: %w", err)
	}

	return nil
}

// StatusPostgres prints the migration status for a PostgreSQL database.
func StatusPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(postgresFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.StatusContext(ctx, db, "postgres"); err != nil {
		return fmt.Errorf("postgres migration status: %w", err)
	}

	return nil
}
