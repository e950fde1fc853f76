package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
)

// SQLiteAccountRepository implements domain.AccountRepository using SQLite.
type SQLiteAccountRepository struct {
	dbConn *sql.DB
}

// NewSQLiteAccountRepository creates a new SQLite account repository.
func NewSQLiteAccountRepository(dbConn *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{dbConn: dbConn}
}

// executor returns the transaction from context when present, otherwise the connection.
func (r *SQLiteAccountRepository) executor(ctx context.Context) sqliteExecutor {
	if info, ok := sharedPersistence.SQLiteTxInfoFromContext(ctx); ok {
		return info.Tx
	}
	return r.dbConn
}

const sqliteSelectAccount = `
	SELECT id, telegram_id, username, trial_used, banned, created_at, updated_at, version
	FROM accounts
`

// Save persists an account. A version 0 aggregate inserts; anything else is a
// compare-and-swap update that fails with ErrVersionConflict when the stored
// version moved.
func (r *SQLiteAccountRepository) Save(ctx context.Context, account *domain.Account) error {
	if account.Version() == 0 {
		return r.insert(ctx, account)
	}
	return r.update(ctx, account)
}

func (r *SQLiteAccountRepository) insert(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, telegram_id, username, trial_used, banned, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`
	_, err := r.executor(ctx).ExecContext(ctx, query,
		account.ID().String(),
		account.TelegramID().Int64(),
		account.Username(),
		boolToInt(account.TrialUsed()),
		boolToInt(account.IsBanned()),
		sharedPersistence.FormatSQLiteTime(account.CreatedAt()),
		sharedPersistence.FormatSQLiteTime(account.UpdatedAt()),
	)
	if err != nil {
		if database.SQLiteUniqueViolation(err, "accounts.telegram_id") {
			return domain.ErrAccountExists
		}
		return database.Unavailable(err)
	}
	account.SetVersion(1)
	return nil
}

func (r *SQLiteAccountRepository) update(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET username = ?, trial_used = ?, banned = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := r.executor(ctx).ExecContext(ctx, query,
		account.Username(),
		boolToInt(account.TrialUsed()),
		boolToInt(account.IsBanned()),
		sharedPersistence.FormatSQLiteTime(account.UpdatedAt()),
		account.ID().String(),
		account.Version(),
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
	account.IncrementVersion()
	return nil
}

// FindByID retrieves an account by its ID.
func (r *SQLiteAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.executor(ctx).QueryRowContext(ctx, sqliteSelectAccount+` WHERE id = ?`, id.String())
	return r.scanAccount(row)
}

// FindByTelegramID retrieves an account by Telegram user ID.
func (r *SQLiteAccountRepository) FindByTelegramID(ctx context.Context, telegramID sharedDomain.TelegramID) (*domain.Account, error) {
	row := r.executor(ctx).QueryRowContext(ctx, sqliteSelectAccount+` WHERE telegram_id = ?`, telegramID.Int64())
	return r.scanAccount(row)
}

// MarkTrialUsed flips the trial flag with a conditional update. The flag is
// the serialization point for concurrent activations: exactly one caller sees
// a row change.
func (r *SQLiteAccountRepository) MarkTrialUsed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET trial_used = 1, updated_at = ?, version = version + 1
		WHERE id = ? AND trial_used = 0
	`
	exec := r.executor(ctx)
	result, err := exec.ExecContext(ctx, query, sharedPersistence.FormatSQLiteTime(time.Now()), id.String())
	if err != nil {
		return database.Unavailable(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return database.Unavailable(err)
	}
	if affected == 0 {
		var used int64
		err := exec.QueryRowContext(ctx, `SELECT trial_used FROM accounts WHERE id = ?`, id.String()).Scan(&used)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return database.Unavailable(err)
		}
		return domain.ErrTrialAlreadyUsed
	}
	return nil
}

// Count returns the total number of accounts.
func (r *SQLiteAccountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.executor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return count, nil
}

func (r *SQLiteAccountRepository) scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		id         string
		telegramID int64
		username   string
		trialUsed  int64
		banned     int64
		createdAt  string
		updatedAt  string
		version    int
	)
	err := row.Scan(&id, &telegramID, &username, &trialUsed, &banned, &createdAt, &updatedAt, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}

	accountID, _ := uuid.Parse(id)
	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	updated, _ := time.Parse(time.RFC3339Nano, updatedAt)

	return domain.RehydrateAccount(
		accountID,
		sharedDomain.NewTelegramID(telegramID),
		username,
		trialUsed != 0,
		banned != 0,
		created,
		updated,
		version,
	), nil
}

var _ domain.AccountRepository = (*SQLiteAccountRepository)(nil)

type sqliteExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
