package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/pavelzhukov/raylink/internal/devices/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/migrations"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
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

// insertTestAccount inserts an account row for bindings to reference.
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

// insertBinding persists a binding seen at the given instant.
func insertBinding(t *testing.T, repo *SQLiteBindingRepository, accountID uuid.UUID, fingerprint string, seenAt time.Time) *domain.DeviceBinding {
	t.Helper()

	binding := domain.RehydrateDeviceBinding(uuid.New(), accountID, fingerprint, seenAt, seenAt)
	require.NoError(t, repo.Insert(context.Background(), binding))

	return binding
}

func TestNewSQLiteBindingRepository(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	assert.NotNil(t, repo)
}

func TestSQLiteBindingRepository_Insert_Find(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)

	binding, err := domain.NewDeviceBinding(accountID, "203.0.113.7", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, binding))

	found, err := repo.Find(ctx, accountID, "203.0.113.7")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, binding.ID(), found.ID())
	assert.Equal(t, accountID, found.AccountID())
	assert.Equal(t, "203.0.113.7", found.Fingerprint())
	assert.True(t, binding.FirstSeenAt().Equal(found.FirstSeenAt()))
	assert.True(t, binding.LastSeenAt().Equal(found.LastSeenAt()))
}

func TestSQLiteBindingRepository_Insert_Duplicate(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)
	now := time.Now()

	insertBinding(t, repo, accountID, "203.0.113.7", now)

	duplicate := domain.RehydrateDeviceBinding(uuid.New(), accountID, "203.0.113.7", now, now)
	err := repo.Insert(ctx, duplicate)
	assert.ErrorIs(t, err, domain.ErrBindingExists)

	// The same fingerprint under another account is a distinct binding.
	otherAccount := insertTestAccount(t, sqlDB)
	insertBinding(t, repo, otherAccount, "203.0.113.7", now)
}

func TestSQLiteBindingRepository_Touch(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)

	firstSeen := time.Now().Add(-2 * time.Hour)
	insertBinding(t, repo, accountID, "203.0.113.7", firstSeen)

	seenAt := time.Now()
	refreshed, err := repo.Touch(ctx, accountID, "203.0.113.7", seenAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refreshed)

	found, err := repo.Find(ctx, accountID, "203.0.113.7")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.FirstSeenAt().Equal(firstSeen))
	assert.True(t, found.LastSeenAt().Equal(seenAt))
}

func TestSQLiteBindingRepository_Touch_Absent(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	accountID := insertTestAccount(t, sqlDB)

	refreshed, err := repo.Touch(context.Background(), accountID, "unknown", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), refreshed)
}

func TestSQLiteBindingRepository_Find_NotFound(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	accountID := insertTestAccount(t, sqlDB)

	found, err := repo.Find(context.Background(), accountID, "203.0.113.7")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSQLiteBindingRepository_ListByAccount(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)
	otherAccount := insertTestAccount(t, sqlDB)
	now := time.Now()

	insertBinding(t, repo, accountID, "older", now.Add(-3*time.Hour))
	insertBinding(t, repo, accountID, "newest", now)
	insertBinding(t, repo, accountID, "old", now.Add(-1*time.Hour))
	insertBinding(t, repo, otherAccount, "elsewhere", now)

	bindings, err := repo.ListByAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, bindings, 3)
	assert.Equal(t, "newest", bindings[0].Fingerprint())
	assert.Equal(t, "old", bindings[1].Fingerprint())
	assert.Equal(t, "older", bindings[2].Fingerprint())
}

func TestSQLiteBindingRepository_CountFresh(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)
	now := time.Now()

	insertBinding(t, repo, accountID, "fresh-1", now.Add(-1*time.Hour))
	insertBinding(t, repo, accountID, "fresh-2", now.Add(-23*time.Hour))
	insertBinding(t, repo, accountID, "stale", now.Add(-25*time.Hour))

	count, err := repo.CountFresh(ctx, accountID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSQLiteBindingRepository_DeleteStale(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	repo := NewSQLiteBindingRepository(sqlDB)
	ctx := context.Background()
	accountID := insertTestAccount(t, sqlDB)
	now := time.Now()

	insertBinding(t, repo, accountID, "stale-1", now.Add(-48*time.Hour))
	insertBinding(t, repo, accountID, "stale-2", now.Add(-30*time.Hour))
	insertBinding(t, repo, accountID, "fresh", now)

	removed, err := repo.DeleteStale(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	remaining, err := repo.ListByAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh", remaining[0].Fingerprint())
}
