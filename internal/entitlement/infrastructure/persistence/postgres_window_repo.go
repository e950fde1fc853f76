package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresWindowRepository implements domain.WindowRepository using PostgreSQL.
type PostgresWindowRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresWindowRepository creates a new PostgreSQL window repository.
func NewPostgresWindowRepository(pool *pgxpool.Pool) *PostgresWindowRepository {
	return &PostgresWindowRepository{pool: pool}
}

const pgSelectWindow = `
	SELECT id, account_id, server_id, source, status, starts_at, expires_at,
	       last_notified_threshold, created_at, updated_at, version
	FROM subscription_windows
`

// Save persists a window. A version 0 aggregate inserts; anything else is a
// compare-and-swap update that fails with ErrVersionConflict when the stored
// version moved.
func (r *PostgresWindowRepository) Save(ctx context.Context, window *domain.SubscriptionWindow) error {
	if window.Version() == 0 {
		return r.insert(ctx, window)
	}
	return r.update(ctx, window)
}

func (r *PostgresWindowRepository) insert(ctx context.Context, window *domain.SubscriptionWindow) error {
	query := `
		INSERT INTO subscription_windows (id, account_id, server_id, source, status, starts_at,
			expires_at, last_notified_threshold, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	_, err := exec.Exec(ctx, query,
		window.ID(),
		window.AccountID(),
		window.ServerID(),
		string(window.Source()),
		string(window.Status()),
		window.StartsAt(),
		window.ExpiresAt(),
		string(window.LastNotified()),
		window.CreatedAt(),
		window.UpdatedAt(),
	)
	if err != nil {
		// The partial unique index allows one active row per account and
		// server pair.
		if database.PgUniqueViolation(err, "idx_windows_one_active") {
			return domain.ErrActiveWindowExists
		}
		return database.Unavailable(err)
	}
	window.SetVersion(1)
	return nil
}

func (r *PostgresWindowRepository) update(ctx context.Context, window *domain.SubscriptionWindow) error {
	query := `
		UPDATE subscription_windows
		SET status = $2, expires_at = $3, last_notified_threshold = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $6
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	tag, err := exec.Exec(ctx, query,
		window.ID(),
		string(window.Status()),
		window.ExpiresAt(),
		string(window.LastNotified()),
		window.UpdatedAt(),
		window.Version(),
	)
	if err != nil {
		return database.Unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	window.IncrementVersion()
	return nil
}

// FindByID retrieves a window by its ID.
func (r *PostgresWindowRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.SubscriptionWindow, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	return r.scanWindow(exec.QueryRow(ctx, pgSelectWindow+` WHERE id = $1`, id))
}

// FindActive retrieves the single active window for an account on a server.
func (r *PostgresWindowRepository) FindActive(ctx context.Context, accountID uuid.UUID, serverID string) (*domain.SubscriptionWindow, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	return r.scanWindow(exec.QueryRow(ctx,
		pgSelectWindow+` WHERE account_id = $1 AND server_id = $2 AND status = 'active'`,
		accountID, serverID))
}

// ListByAccount returns all windows for an account, newest first.
func (r *PostgresWindowRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.SubscriptionWindow, error) {
	return r.list(ctx, pgSelectWindow+` WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
}

// ListActiveByAccount returns the account's active windows across servers.
func (r *PostgresWindowRepository) ListActiveByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.SubscriptionWindow, error) {
	return r.list(ctx,
		pgSelectWindow+` WHERE account_id = $1 AND status = 'active' ORDER BY created_at DESC`,
		accountID)
}

// ListExpired returns active windows whose expiry has passed, oldest expiry
// first, so the sweep drains the backlog in order.
func (r *PostgresWindowRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.SubscriptionWindow, error) {
	return r.list(ctx,
		pgSelectWindow+` WHERE status = 'active' AND expires_at <= $1 ORDER BY expires_at LIMIT $2`,
		now, limit)
}

// ListExpiringWithin returns active windows that end inside the lookahead and
// have not been warned yet. Extending a window resets its threshold, so a
// window re-enters this set with each new expiry.
func (r *PostgresWindowRepository) ListExpiringWithin(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]*domain.SubscriptionWindow, error) {
	until := now.Add(lookahead)
	return r.list(ctx,
		pgSelectWindow+` WHERE status = 'active' AND expires_at > $1 AND expires_at <= $2
			AND last_notified_threshold = 'none' ORDER BY expires_at LIMIT $3`,
		now, until, limit)
}

// ListExpiredUnnotified returns expired windows whose expired notice has not
// been queued.
func (r *PostgresWindowRepository) ListExpiredUnnotified(ctx context.Context, limit int) ([]*domain.SubscriptionWindow, error) {
	return r.list(ctx,
		pgSelectWindow+` WHERE status = 'expired' AND last_notified_threshold IN ('none', 'expiring')
			ORDER BY updated_at LIMIT $1`,
		limit)
}

// CountActive returns the number of currently active windows.
func (r *PostgresWindowRepository) CountActive(ctx context.Context) (int64, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	var count int64
	err := exec.QueryRow(ctx, `SELECT COUNT(*) FROM subscription_windows WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return count, nil
}

func (r *PostgresWindowRepository) list(ctx context.Context, query string, args ...any) ([]*domain.SubscriptionWindow, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, database.Unavailable(err)
	}
	defer rows.Close()

	var windows []*domain.SubscriptionWindow
	for rows.Next() {
		window, err := r.scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, window)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable(err)
	}
	return windows, nil
}

func (r *PostgresWindowRepository) scanWindow(row pgx.Row) (*domain.SubscriptionWindow, error) {
	var (
		id           uuid.UUID
		accountID    uuid.UUID
		serverID     string
		source       string
		status       string
		startsAt     time.Time
		expiresAt    time.Time
		lastNotified string
		createdAt    time.Time
		updatedAt    time.Time
		version      int
	)
	err := row.Scan(&id, &accountID, &serverID, &source, &status, &startsAt, &expiresAt,
		&lastNotified, &createdAt, &updatedAt, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}

	return domain.RehydrateSubscriptionWindow(
		id,
		accountID,
		serverID,
		domain.Source(source),
		domain.Status(status),
		startsAt,
		expiresAt,
		domain.Threshold(lastNotified),
		createdAt,
		updatedAt,
		version,
	), nil
}
