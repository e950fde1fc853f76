package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/devices/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSelectBinding = `
	SELECT id, account_id, fingerprint, first_seen_at, last_seen_at
	FROM device_bindings
`

// PostgresBindingRepository implements domain.BindingRepository using PostgreSQL.
type PostgresBindingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBindingRepository creates a new PostgreSQL binding repository.
func NewPostgresBindingRepository(pool *pgxpool.Pool) *PostgresBindingRepository {
	return &PostgresBindingRepository{pool: pool}
}

// LockAccount takes a transaction-scoped advisory lock keyed by the account.
// It only serializes anything when called inside a unit of work; the lock is
// released when that transaction ends.
func (r *PostgresBindingRepository) LockAccount(ctx context.Context, accountID uuid.UUID) error {
	exec := sharedPersistence.Executor(ctx, r.pool)
	if _, err := exec.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, accountID.String()); err != nil {
		return database.Unavailable(err)
	}
	return nil
}

// Insert stores a new binding.
func (r *PostgresBindingRepository) Insert(ctx context.Context, binding *domain.DeviceBinding) error {
	query := `
		INSERT INTO device_bindings (id, account_id, fingerprint, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	_, err := exec.Exec(ctx, query,
		binding.ID(),
		binding.AccountID(),
		binding.Fingerprint(),
		binding.FirstSeenAt(),
		binding.LastSeenAt(),
	)
	if err != nil {
		if database.PgUniqueViolation(err, "device_bindings_account_id_fingerprint_key") {
			return domain.ErrBindingExists
		}
		return database.Unavailable(err)
	}
	return nil
}

// Touch bumps last_seen_at for an existing binding.
func (r *PostgresBindingRepository) Touch(ctx context.Context, accountID uuid.UUID, fingerprint string, seenAt time.Time) (int64, error) {
	query := `
		UPDATE device_bindings
		SET last_seen_at = $3
		WHERE account_id = $1 AND fingerprint = $2
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	tag, err := exec.Exec(ctx, query, accountID, fingerprint, seenAt)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return tag.RowsAffected(), nil
}

// Find retrieves a binding by account and fingerprint.
func (r *PostgresBindingRepository) Find(ctx context.Context, accountID uuid.UUID, fingerprint string) (*domain.DeviceBinding, error) {
	query := pgSelectBinding + `WHERE account_id = $1 AND fingerprint = $2`
	exec := sharedPersistence.Executor(ctx, r.pool)
	return r.scanBinding(exec.QueryRow(ctx, query, accountID, fingerprint))
}

// ListByAccount returns the account's bindings, most recently seen first.
func (r *PostgresBindingRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.DeviceBinding, error) {
	query := pgSelectBinding + `WHERE account_id = $1 ORDER BY last_seen_at DESC`
	exec := sharedPersistence.Executor(ctx, r.pool)

	rows, err := exec.Query(ctx, query, accountID)
	if err != nil {
		return nil, database.Unavailable(err)
	}
	defer rows.Close()

	var bindings []*domain.DeviceBinding
	for rows.Next() {
		binding, err := r.scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, binding)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable(err)
	}
	return bindings, nil
}

// CountFresh counts bindings seen at or after the cutoff.
func (r *PostgresBindingRepository) CountFresh(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM device_bindings
		WHERE account_id = $1 AND last_seen_at >= $2
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	var count int64
	if err := exec.QueryRow(ctx, query, accountID, since).Scan(&count); err != nil {
		return 0, database.Unavailable(err)
	}
	return count, nil
}

// DeleteStale removes bindings last seen before the cutoff.
func (r *PostgresBindingRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	tag, err := exec.Exec(ctx, `DELETE FROM device_bindings WHERE last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresBindingRepository) scanBinding(row pgx.Row) (*domain.DeviceBinding, error) {
	var (
		id          uuid.UUID
		accountID   uuid.UUID
		fingerprint string
		firstSeenAt time.Time
		lastSeenAt  time.Time
	)
	err := row.Scan(&id, &accountID, &fingerprint, &firstSeenAt, &lastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}

	return domain.RehydrateDeviceBinding(id, accountID, fingerprint, firstSeenAt, lastSeenAt), nil
}
