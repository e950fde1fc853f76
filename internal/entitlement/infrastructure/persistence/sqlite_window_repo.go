package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
)

// SQLiteWindowRepository implements domain.WindowRepository using SQLite.
type SQLiteWindowRepository struct {
	dbConn *sql.DB
}

// NewSQLiteWindowRepository creates a new SQLite window repository.
func NewSQLiteWindowRepository(dbConn *sql.DB) *SQLiteWindowRepository {
	return &SQLiteWindowRepository{dbConn: dbConn}
}

// executor returns the transaction from context when present, otherwise the connection.
func (r *SQLiteWindowRepository) executor(ctx context.Context) sqliteExecutor {
	if info, ok := sharedPersistence.SQLiteTxInfoFromContext(ctx); ok {
		return info.Tx
	}
	return r.dbConn
}

const sqliteSelectWindow = `
	SELECT id, account_id, server_id, source, status, starts_at, expires_at,
	       last_notified_threshold, created_at, updated_at, version
	FROM subscription_windows
`

// Save persists a window. A version 0 aggregate inserts; anything else is a
// compare-and-swap update that fails with ErrVersionConflict when the stored
// version moved.
func (r *SQLiteWindowRepository) Save(ctx context.Context, window *domain.SubscriptionWindow) error {
	if window.Version() == 0 {
		return r.insert(ctx, window)
	}
	return r.update(ctx, window)
}

func (r *SQLiteWindowRepository) insert(ctx context.Context, window *domain.SubscriptionWindow) error {
	query := `
		INSERT INTO subscription_windows (id, account_id, server_id, source, status, starts_at,
			expires_at, last_notified_threshold, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	_, err := r.executor(ctx).ExecContext(ctx, query,
		window.ID().String(),
		window.AccountID().String(),
		window.ServerID(),
		string(window.Source()),
		string(window.Status()),
		sharedPersistence.FormatSQLiteTime(window.StartsAt()),
		sharedPersistence.FormatSQLiteTime(window.ExpiresAt()),
		string(window.LastNotified()),
		sharedPersistence.FormatSQLiteTime(window.CreatedAt()),
		sharedPersistence.FormatSQLiteTime(window.UpdatedAt()),
	)
	if err != nil {
		// The partial unique index allows one active row per account and
		// server pair.
		if database.SQLiteUniqueViolation(err, "subscription_windows.account_id") {
			return domain.ErrActiveWindowExists
		}
		return database.Unavailable(err)
	}
	window.SetVersion(1)
	return nil
}

func (r *SQLiteWindowRepository) update(ctx context.Context, window *domain.SubscriptionWindow) error {
	query := `
		UPDATE subscription_windows
		SET status = ?, expires_at = ?, last_notified_threshold = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := r.executor(ctx).ExecContext(ctx, query,
		string(window.Status()),
		sharedPersistence.FormatSQLiteTime(window.ExpiresAt()),
		string(window.LastNotified()),
		sharedPersistence.FormatSQLiteTime(window.UpdatedAt()),
		window.ID().String(),
		window.Version(),
	)
	if err != nil {
		return database.Unavailable(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return database.Unavailable(err)
	}
	if affected == 0 {
		return domain.ErrVersionConflict
	}
	window.IncrementVersion()
	return nil
}

// FindByID retrieves a window by its ID.
func (r *SQLiteWindowRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.SubscriptionWindow, error) {
	row := r.executor(ctx).QueryRowContext(ctx, sqliteSelectWindow+` WHERE id = ?`, id.String())
	return r.scanWindowRow(row)
}

// FindActive retrieves the single active window for an account on a server.
func (r *SQLiteWindowRepository) FindActive(ctx context.Context, accountID uuid.UUID, serverID string) (*domain.SubscriptionWindow, error) {
	row := r.executor(ctx).QueryRowContext(ctx,
		sqliteSelectWindow+` WHERE account_id = ? AND server_id = ? AND status = 'active'`,
		accountID.String(), serverID)
	return r.scanWindowRow(row)
}

// ListByAccount returns all windows for an account, newest first.
func (r *SQLiteWindowRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.SubscriptionWindow, error) {
	return r.list(ctx, sqliteSelectWindow+` WHERE account_id = ? ORDER BY created_at DESC`, accountID.String())
}

// ListActiveByAccount returns the account's active windows across servers.
func (r *SQLiteWindowRepository) ListActiveByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.SubscriptionWindow, error) {
	return r.list(ctx,
		sqliteSelectWindow+` WHERE account_id = ? AND status = 'active' ORDER BY created_at DESC`,
		accountID.String())
}

// ListExpired returns active windows whose expiry has passed, oldest expiry
// first, so the sweep drains the backlog in order.
func (r *SQLiteWindowRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.SubscriptionWindow, error) {
	return r.list(ctx,
		sqliteSelectWindow+` WHERE status = 'active' AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
		sharedPersistence.FormatSQLiteTime(now), limit)
}

// ListExpiringWithin returns active windows that end inside the lookahead and
// have not been warned yet. Extending a window resets its threshold, so a
// window re-enters this set with each new expiry.
func (r *SQLiteWindowRepository) ListExpiringWithin(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]*domain.SubscriptionWindow, error) {
	until := now.Add(lookahead)
	return r.list(ctx,
		sqliteSelectWindow+` WHERE status = 'active' AND expires_at > ? AND expires_at <= ?
			AND last_notified_threshold = 'none' ORDER BY expires_at LIMIT ?`,
		sharedPersistence.FormatSQLiteTime(now), sharedPersistence.FormatSQLiteTime(until), limit)
}

// ListExpiredUnnotified returns expired windows whose expired notice has not
// been queued.
func (r *SQLiteWindowRepository) ListExpiredUnnotified(ctx context.Context, limit int) ([]*domain.SubscriptionWindow, error) {
	return r.list(ctx,
		sqliteSelectWindow+` WHERE status = 'expired' AND last_notified_threshold IN ('none', 'expiring')
			ORDER BY updated_at LIMIT ?`,
		limit)
}

// CountActive returns the number of currently active windows.
func (r *SQLiteWindowRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.executor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscription_windows WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return count, nil
}

func (r *SQLiteWindowRepository) list(ctx context.Context, query string, args ...any) ([]*domain.SubscriptionWindow, error) {
	rows, err := r.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Unavailable(err)
	}
	defer rows.Close()

	var windows []*domain.SubscriptionWindow
	for rows.Next() {
		window, err := scanWindowColumns(rows.Scan)
		if err != nil {
			return nil, database.Unavailable(err)
		}
		windows = append(windows, window)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable(err)
	}
	return windows, nil
}

func (r *SQLiteWindowRepository) scanWindowRow(row *sql.Row) (*domain.SubscriptionWindow, error) {
	window, err := scanWindowColumns(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}
	return window, nil
}

func scanWindowColumns(scan func(dest ...any) error) (*domain.SubscriptionWindow, error) {
	var (
		id           string
		accountID    string
		serverID     string
		source       string
		status       string
		startsAt     string
		expiresAt    string
		lastNotified string
		createdAt    string
		updatedAt    string
		version      int
	)
	err := scan(&id, &accountID, &serverID, &source, &status, &startsAt, &expiresAt,
		&lastNotified, &createdAt, &updatedAt, &version)
	if err != nil {
		return nil, err
	}

	windowID, _ := uuid.Parse(id)
	account, _ := uuid.Parse(accountID)
	starts, _ := time.Parse(time.RFC3339Nano, startsAt)
	expires, _ := time.Parse(time.RFC3339Nano, expiresAt)
	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	updated, _ := time.Parse(time.RFC3339Nano, updatedAt)

	return domain.RehydrateSubscriptionWindow(
		windowID,
		account,
		serverID,
		domain.Source(source),
		domain.Status(status),
		starts,
		expires,
		domain.Threshold(lastNotified),
		created,
		updated,
		version,
	), nil
}

var _ domain.WindowRepository = (*SQLiteWindowRepository)(nil)
