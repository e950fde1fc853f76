package database

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoRows is returned when a query expected to return a row returns none.
var ErrNoRows = errors.New("no rows in result set")

// ErrStorageUnavailable marks infrastructure failures. Callers must never
// interpret it as missing data or denied access.
var ErrStorageUnavailable = errors.New("storage unavailable")

// IsNoRows returns true if the error indicates no rows were found.
// This handles both pgx.ErrNoRows and sql.ErrNoRows.
func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrNoRows)
}

// Unavailable wraps err so callers can detect infrastructure failures
// with errors.Is(err, ErrStorageUnavailable). The original error stays
// inspectable through the chain.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStorageUnavailable, err)
}

// IsUnavailable returns true if the error indicates an infrastructure failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// PgUniqueViolation reports whether err is a PostgreSQL unique violation on
// the named constraint or index.
func PgUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// SQLiteUniqueViolation reports whether err is a SQLite unique violation
// naming the given column. SQLite lists the violated columns in the error
// text.
func SQLiteUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
