package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/devices/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
)

const sqliteSelectBinding = `
	SELECT id, account_id, fingerprint, first_seen_at, last_seen_at
	FROM device_bindings
`

// SQLiteBindingRepository implements domain.BindingRepository using SQLite.
type SQLiteBindingRepository struct {
	dbConn *sql.DB
}

// NewSQLiteBindingRepository creates a new SQLite binding repository.
func NewSQLiteBindingRepository(dbConn *sql.DB) *SQLiteBindingRepository {
	return &SQLiteBindingRepository{dbConn: dbConn}
}

// executor returns the transaction from context when present, otherwise the connection.
func (r *SQLiteBindingRepository) executor(ctx context.Context) sqliteExecutor {
	if info, ok := sharedPersistence.SQLiteTxInfoFromContext(ctx); ok {
		return info.Tx
	}
	return r.dbConn
}

// LockAccount is a no-op. The SQLite pool runs a single connection, so binding
// writes are already serialized.
func (r *SQLiteBindingRepository) LockAccount(ctx context.Context, accountID uuid.UUID) error {
	return nil
}

// Insert stores a new binding.
func (r *SQLiteBindingRepository) Insert(ctx context.Context, binding *domain.DeviceBinding) error {
	query := `
		INSERT INTO device_bindings (id, account_id, fingerprint, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.executor(ctx).ExecContext(ctx, query,
		binding.ID().String(),
		binding.AccountID().String(),
		binding.Fingerprint(),
		sharedPersistence.FormatSQLiteTime(binding.FirstSeenAt()),
		sharedPersistence.FormatSQLiteTime(binding.LastSeenAt()),
	)
	if err != nil {
		if database.SQLiteUniqueViolation(err, "device_bindings.account_id") {
			return domain.ErrBindingExists
		}
		return database.Unavailable(err)
	}
	return nil
}

// Touch bumps last_seen_at for an existing binding.
func (r *SQLiteBindingRepository) Touch(ctx context.Context, accountID uuid.UUID, fingerprint string, seenAt time.Time) (int64, error) {
	query := `
		UPDATE device_bindings
		SET last_seen_at = ?
		WHERE account_id = ? AND fingerprint = ?
	`
	result, err := r.executor(ctx).ExecContext(ctx, query,
		sharedPersistence.FormatSQLiteTime(seenAt),
		accountID.String(),
		fingerprint,
	)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	refreshed, err := result.RowsAffected()
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return refreshed, nil
}

// Find retrieves a binding by account and fingerprint.
func (r *SQLiteBindingRepository) Find(ctx context.Context, accountID uuid.UUID, fingerprint string) (*domain.DeviceBinding, error) {
	query := sqliteSelectBinding + `WHERE account_id = ? AND fingerprint = ?`
	row := r.executor(ctx).QueryRowContext(ctx, query, accountID.String(), fingerprint)
	return r.scanBindingRow(row)
}

// ListByAccount returns the account's bindings, most recently seen first.
func (r *SQLiteBindingRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.DeviceBinding, error) {
	query := sqliteSelectBinding + `WHERE account_id = ? ORDER BY last_seen_at DESC`
	rows, err := r.executor(ctx).QueryContext(ctx, query, accountID.String())
	if err != nil {
		return nil, database.Unavailable(err)
	}
	defer rows.Close()

	var bindings []*domain.DeviceBinding
	for rows.Next() {
		binding, err := r.scanBindingColumns(rows.Scan)
		if err != nil {
			return nil, database.Unavailable(err)
		}
		bindings = append(bindings, binding)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable(err)
	}
	return bindings, nil
}

// CountFresh counts bindings seen at or after the cutoff.
func (r *SQLiteBindingRepository) CountFresh(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM device_bindings
		WHERE account_id = ? AND last_seen_at >= ?
	`
	var count int64
	err := r.executor(ctx).QueryRowContext(ctx, query,
		accountID.String(),
		sharedPersistence.FormatSQLiteTime(since),
	).Scan(&count)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return count, nil
}

// DeleteStale removes bindings last seen before the cutoff.
func (r *SQLiteBindingRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.executor(ctx).ExecContext(ctx,
		`DELETE FROM device_bindings WHERE last_seen_at < ?`,
		sharedPersistence.FormatSQLiteTime(cutoff),
	)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return removed, nil
}

func (r *SQLiteBindingRepository) scanBindingRow(row *sql.Row) (*domain.DeviceBinding, error) {
	binding, err := r.scanBindingColumns(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}
	return binding, nil
}

func (r *SQLiteBindingRepository) scanBindingColumns(scan func(dest ...any) error) (*domain.DeviceBinding, error) {
	var (
		id          string
		accountID   string
		fingerprint string
		firstSeenAt string
		lastSeenAt  string
	)
	if err := scan(&id, &accountID, &fingerprint, &firstSeenAt, &lastSeenAt); err != nil {
		return nil, err
	}

	bindingID, _ := uuid.Parse(id)
	account, _ := uuid.Parse(accountID)
	firstSeen, _ := time.Parse(time.RFC3339Nano, firstSeenAt)
	lastSeen, _ := time.Parse(time.RFC3339Nano, lastSeenAt)

	return domain.RehydrateDeviceBinding(bindingID, account, fingerprint, firstSeen, lastSeen), nil
}

var _ domain.BindingRepository = (*SQLiteBindingRepository)(nil)

type sqliteExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
