package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/migrations"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database with migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	// A second connection would see a different, empty in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, migrations.RunSQLite(context.Background(), sqlDB))

	return sqlDB
}

// saveTestAccount persists a fresh account and returns it.
func saveTestAccount(t *testing.T, sqlDB *sql.DB, telegramID int64) *domain.Account {
	t.Helper()

	account, err := domain.NewAccount(sharedDomain.NewTelegramID(telegramID), "tester")
	require.NoError(t, err)

	repo := NewSQLiteAccountRepository(sqlDB)
	require.NoError(t, repo.Save(context.Background(), account))

	return account
}

func TestNewSQLiteAccountRepository(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	assert.NotNil(t, repo)
}

func TestSQLiteAccountRepository_Save_Create(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	ctx := context.Background()

	account, err := domain.NewAccount(sharedDomain.NewTelegramID(100200300), "alice")
	require.NoError(t, err)

	err = repo.Save(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 1, account.Version())

	retrieved, err := repo.FindByID(ctx, account.ID())
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, account.ID(), retrieved.ID())
	assert.Equal(t, int64(100200300), retrieved.TelegramID().Int64())
	assert.Equal(t, "alice", retrieved.Username())
	assert.False(t, retrieved.TrialUsed())
	assert.False(t, retrieved.IsBanned())
	assert.Equal(t, 1, retrieved.Version())
	assert.True(t, retrieved.CreatedAt().Equal(account.CreatedAt()))
}

func TestSQLiteAccountRepository_Save_Update(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	ctx := context.Background()

	account := saveTestAccount(t, sqlDB, 100200300)

	account.SetUsername("alice_renamed")
	account.Ban()
	require.NoError(t, repo.Save(ctx, account))

	retrieved, err := repo.FindByID(ctx, account.ID())
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, "alice_renamed", retrieved.Username())
	assert.True(t, retrieved.IsBanned())
	assert.Equal(t, 2, retrieved.Version())
}

func TestSQLiteAccountRepository_Save_DuplicateTelegramID(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	ctx := context.Background()

	saveTestAccount(t, sqlDB, 100200300)

	duplicate, err := domain.NewAccount(sharedDomain.NewTelegramID(100200300), "impostor")
	require.NoError(t, err)

	err = repo.Save(ctx, duplicate)
	assert.ErrorIs(t, err, domain.ErrAccountExists)
}

func TestSQLiteAccountRepository_Save_VersionConflict(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	ctx := context.Background()

	account := saveTestAccount(t, sqlDB, 100200300)

	fresh, err := repo.FindByID(ctx, account.ID())
	require.NoError(t, err)
	stale, err := repo.FindByID(ctx, account.ID())
	require.NoError(t, err)

	fresh.Ban()
	require.NoError(t, repo.Save(ctx, fresh))

	stale.Ban()
	err = repo.Save(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestSQLiteAccountRepository_FindByID_NotFound(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)

	retrieved, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSQLiteAccountRepository_FindByTelegramID(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	ctx := context.Background()

	account := saveTestAccount(t, sqlDB, 100200300)

	retrieved, err := repo.FindByTelegramID(ctx, sharedDomain.NewTelegramID(100200300))
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, account.ID(), retrieved.ID())

	missing, err := repo.FindByTelegramID(ctx, sharedDomain.NewTelegramID(999))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteAccountRepository_MarkTrialUsed(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	ctx := context.Background()

	account := saveTestAccount(t, sqlDB, 100200300)

	require.NoError(t, repo.MarkTrialUsed(ctx, account.ID()))

	retrieved, err := repo.FindByID(ctx, account.ID())
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.True(t, retrieved.TrialUsed())
}

func TestSQLiteAccountRepository_MarkTrialUsed_AlreadyUsed(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	ctx := context.Background()

	account := saveTestAccount(t, sqlDB, 100200300)

	require.NoError(t, repo.MarkTrialUsed(ctx, account.ID()))

	err := repo.MarkTrialUsed(ctx, account.ID())
	assert.ErrorIs(t, err, domain.ErrTrialAlreadyUsed)
}

func TestSQLiteAccountRepository_MarkTrialUsed_NotFound(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)

	err := repo.MarkTrialUsed(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestSQLiteAccountRepository_Count(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteAccountRepository(sqlDB)
	ctx := context.Background()

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	saveTestAccount(t, sqlDB, 100200300)
	saveTestAccount(t, sqlDB, 400500600)

	count, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
