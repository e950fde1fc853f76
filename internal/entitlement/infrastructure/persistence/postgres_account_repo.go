package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAccountRepository implements domain.AccountRepository using PostgreSQL.
type PostgresAccountRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAccountRepository creates a new PostgreSQL account repository.
func NewPostgresAccountRepository(pool *pgxpool.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

const pgSelectAccount = `
	SELECT id, telegram_id, username, trial_used, banned, created_at, updated_at, version
	FROM accounts
`

// Save persists an account. A version 0 aggregate inserts; anything else is a
// compare-and-swap update that fails with ErrVersionConflict when the stored
// version moved.
func (r *PostgresAccountRepository) Save(ctx context.Context, account *domain.Account) error {
	if account.Version() == 0 {
		return r.insert(ctx, account)
	}
	return r.update(ctx, account)
}

func (r *PostgresAccountRepository) insert(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, telegram_id, username, trial_used, banned, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	_, err := exec.Exec(ctx, query,
		account.ID(),
		account.TelegramID().Int64(),
		account.Username(),
		account.TrialUsed(),
		account.IsBanned(),
		account.CreatedAt(),
		account.UpdatedAt(),
	)
	if err != nil {
		if database.PgUniqueViolation(err, "accounts_telegram_id_key") {
			return domain.ErrAccountExists
		}
		return database.Unavailable(err)
	}
	account.SetVersion(1)
	return nil
}

func (r *PostgresAccountRepository) update(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET username = $2, trial_used = $3, banned = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $6
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	tag, err := exec.Exec(ctx, query,
		account.ID(),
		account.Username(),
		account.TrialUsed(),
		account.IsBanned(),
		account.UpdatedAt(),
		account.Version(),
	)
	if err != nil {
		return database.Unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	account.IncrementVersion()
	return nil
}

// FindByID retrieves an account by its ID.
func (r *PostgresAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	return r.scanAccount(exec.QueryRow(ctx, pgSelectAccount+` WHERE id = $1`, id))
}

// FindByTelegramID retrieves an account by Telegram user ID.
func (r *PostgresAccountRepository) FindByTelegramID(ctx context.Context, telegramID sharedDomain.TelegramID) (*domain.Account, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	return r.scanAccount(exec.QueryRow(ctx, pgSelectAccount+` WHERE telegram_id = $1`, telegramID.Int64()))
}

// MarkTrialUsed flips the trial flag with a conditional update. The flag is
// the serialization point for concurrent activations: exactly one caller sees
// a row change.
func (r *PostgresAccountRepository) MarkTrialUsed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET trial_used = TRUE, updated_at = NOW(), version = version + 1
		WHERE id = $1 AND trial_used = FALSE
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	tag, err := exec.Exec(ctx, query, id)
	if err != nil {
		return database.Unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		var used bool
		err := exec.QueryRow(ctx, `SELECT trial_used FROM accounts WHERE id = $1`, id).Scan(&used)
		if errors.Is(err, pgx.ErrNoRows) {
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
func (r *PostgresAccountRepository) Count(ctx context.Context) (int64, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	var count int64
	if err := exec.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, database.Unavailable(err)
	}
	return count, nil
}

func (r *PostgresAccountRepository) scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		id         uuid.UUID
		telegramID int64
		username   string
		trialUsed  bool
		banned     bool
		createdAt  time.Time
		updatedAt  time.Time
		version    int
	)
	err := row.Scan(&id, &telegramID, &username, &trialUsed, &banned, &createdAt, &updatedAt, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}

	return domain.RehydrateAccount(
		id,
		sharedDomain.NewTelegramID(telegramID),
		username,
		trialUsed,
		banned,
		createdAt,
		updatedAt,
		version,
	), nil
}
