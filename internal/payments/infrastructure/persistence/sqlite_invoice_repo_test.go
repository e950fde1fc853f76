package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelzhukov/raylink/internal/payments/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/migrations"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"

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

// insertTestAccount inserts an account row for invoices to reference.
func insertTestAccount(t *testing.T, sqlDB *sql.DB) uuid.UUID {
	t.Helper()

	id := uuid.New()
	now := sharedPersistence.FormatSQLiteTime(time.Now())
	_, err := sqlDB.Exec(`
		INSERT INTO accounts (id, telegram_id, username, trial_used, banned, created_at, updated_at, version)
		VALUES (?, ?, 'tester', 0, 0, ?, ?, 1)
	`, id.String(), time.Now().UnixNano(), now, now)
	require.NoError(t, err)

	return id
}

// insertInvoice persists a pending invoice created at the given instant.
func insertInvoice(t *testing.T, repo *SQLiteInvoiceRepository, accountID uuid.UUID, provider, providerInvoiceID string, createdAt time.Time) *domain.Invoice {
	t.Helper()

	invoice := domain.RehydrateInvoice(uuid.New(), accountID, provider, providerInvoiceID,
		"month-1", "nl-1", 500, "USD", domain.StatusPending, "", "https://pay.example/x", createdAt, createdAt)
	require.NoError(t, repo.Insert(context.Background(), invoice))

	return invoice
}

func TestNewSQLiteInvoiceRepository(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteInvoiceRepository(sqlDB)
	assert.NotNil(t, repo)
}

func TestSQLiteInvoiceRepository_Insert_FindByID(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteInvoiceRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)

	invoice, err := domain.NewInvoice(accountID, "cryptopay", "84512", "month-1", "nl-1",
		500, "USD", "https://pay.example/84512", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, invoice))

	found, err := repo.FindByID(ctx, invoice.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, invoice.ID(), found.ID())
	assert.Equal(t, accountID, found.AccountID())
	assert.Equal(t, "cryptopay", found.Provider())
	assert.Equal(t, "84512", found.ProviderInvoiceID())
	assert.Equal(t, int64(500), found.AmountMinor())
	assert.Equal(t, domain.StatusPending, found.Status())
	assert.Equal(t, "https://pay.example/84512", found.PayURL())
	assert.True(t, found.CreatedAt().Equal(invoice.CreatedAt()))
}

func TestSQLiteInvoiceRepository_Insert_Duplicate(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteInvoiceRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)

	insertInvoice(t, repo, accountID, "cryptopay", "84512", time.Now())

	duplicate := domain.RehydrateInvoice(uuid.New(), accountID, "cryptopay", "84512",
		"month-3", "nl-1", 1200, "USD", domain.StatusPending, "", "", time.Now(), time.Now())
	err := repo.Insert(ctx, duplicate)
	assert.ErrorIs(t, err, domain.ErrInvoiceExists)

	// The same provider reference under another provider is a different invoice.
	other := domain.RehydrateInvoice(uuid.New(), accountID, "yookassa", "84512",
		"month-1", "nl-1", 500, "USD", domain.StatusPending, "", "", time.Now(), time.Now())
	assert.NoError(t, repo.Insert(ctx, other))
}

func TestSQLiteInvoiceRepository_FindByProviderRef(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteInvoiceRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)

	invoice := insertInvoice(t, repo, accountID, "cryptopay", "84512", time.Now())

	found, err := repo.FindByProviderRef(ctx, "cryptopay", "84512")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, invoice.ID(), found.ID())

	missing, err := repo.FindByProviderRef(ctx, "yookassa", "84512")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteInvoiceRepository_ListPending(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteInvoiceRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)
	now := time.Now()

	oldest := insertInvoice(t, repo, accountID, "cryptopay", "111", now.Add(-3*time.Hour))
	newest := insertInvoice(t, repo, accountID, "cryptopay", "333", now.Add(-time.Hour))
	middle := insertInvoice(t, repo, accountID, "cryptopay", "222", now.Add(-2*time.Hour))

	settled := insertInvoice(t, repo, accountID, "cryptopay", "444", now.Add(-4*time.Hour))
	ok, err := repo.MarkSettled(ctx, settled.ID(), "444", now)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, oldest.ID(), pending[0].ID())
	assert.Equal(t, middle.ID(), pending[1].ID())
	assert.Equal(t, newest.ID(), pending[2].ID())

	limited, err := repo.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, oldest.ID(), limited[0].ID())
}

func TestSQLiteInvoiceRepository_MarkSettled(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteInvoiceRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)
	now := time.Now()

	invoice := insertInvoice(t, repo, accountID, "cryptopay", "84512", now.Add(-time.Minute))

	settled, err := repo.MarkSettled(ctx, invoice.ID(), "84512", now)
	require.NoError(t, err)
	assert.True(t, settled)

	found, err := repo.FindByID(ctx, invoice.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, found.Status())
	assert.Equal(t, "84512", found.PaymentRef())

	// Settling twice reports that nothing moved.
	again, err := repo.MarkSettled(ctx, invoice.ID(), "84512", now)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestSQLiteInvoiceRepository_MarkExpired(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteInvoiceRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)
	now := time.Now()

	invoice := insertInvoice(t, repo, accountID, "cryptopay", "84512", now.Add(-2*time.Hour))

	expired, err := repo.MarkExpired(ctx, invoice.ID(), now)
	require.NoError(t, err)
	assert.True(t, expired)

	found, err := repo.FindByID(ctx, invoice.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, found.Status())

	// An expired invoice cannot be settled afterwards.
	settled, err := repo.MarkSettled(ctx, invoice.ID(), "84512", now)
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestSQLiteInvoiceRepository_FindByID_NotFound(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteInvoiceRepository(sqlDB)

	found, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)
}
