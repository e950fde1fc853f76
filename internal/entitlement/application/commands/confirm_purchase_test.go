package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stubPlanCatalog maps plan IDs to paid days.
type stubPlanCatalog map[string]int

func (c stubPlanCatalog) PlanDays(planID string) (int, bool) {
	days, ok := c[planID]
	return days, ok
}

func createActiveWindow(accountID uuid.UUID, serverID string, startsAt, expiresAt time.Time) *domain.SubscriptionWindow {
	return domain.RehydrateSubscriptionWindow(
		uuid.New(),
		accountID,
		serverID,
		domain.SourcePurchaseStars,
		domain.StatusActive,
		startsAt,
		expiresAt,
		domain.ThresholdNone,
		startsAt,
		startsAt,
		1,
	)
}

func TestConfirmPurchaseHandler_Handle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	plans := stubPlanCatalog{"m1": 30, "m3": 90}

	t.Run("opens a fresh window for the first purchase", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		ctx := context.Background()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		account := createTestAccount(100200300)

		uow.On("Begin", ctx).Return(txCtx, nil)
		uow.On("Commit", txCtx).Return(nil)
		accountRepo.On("FindByID", txCtx, account.ID()).Return(account, nil)
		windowRepo.On("FindActive", txCtx, account.ID(), "nl-1").Return(nil, nil)
		paymentRepo.On("Record", txCtx, mock.AnythingOfType("*domain.PaymentRecord")).Return(nil)
		windowRepo.On("Save", txCtx, mock.AnythingOfType("*domain.SubscriptionWindow")).Return(nil)
		outboxRepo.On("SaveBatch", txCtx, mock.AnythingOfType("[]*outbox.Message")).Return(nil)

		cmd := ConfirmPurchaseCommand{
			AccountID:   account.ID(),
			ServerID:    "nl-1",
			PlanID:      "m1",
			PaymentRef:  "stars:12345",
			Provider:    ProviderStars,
			AmountMinor: 150,
			Currency:    "XTR",
			Now:         now,
		}

		result, err := handler.Handle(ctx, cmd)

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.NotEqual(t, uuid.Nil, result.WindowID)
		assert.False(t, result.Extended)
		assert.False(t, result.AlreadyProcessed)
		assert.True(t, result.ExpiresAt.Equal(now.AddDate(0, 0, 30)))

		accountRepo.AssertExpectations(t)
		windowRepo.AssertExpectations(t)
		paymentRepo.AssertExpectations(t)
		outboxRepo.AssertExpectations(t)
		uow.AssertExpectations(t)
	})

	t.Run("extends the active window from its current expiry", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		ctx := context.Background()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		account := createTestAccount(100200300)
		currentExpiry := now.AddDate(0, 0, 10)
		window := createActiveWindow(account.ID(), "nl-1", now.AddDate(0, 0, -20), currentExpiry)

		uow.On("Begin", ctx).Return(txCtx, nil)
		uow.On("Commit", txCtx).Return(nil)
		accountRepo.On("FindByID", txCtx, account.ID()).Return(account, nil)
		windowRepo.On("FindActive", txCtx, account.ID(), "nl-1").Return(window, nil)
		paymentRepo.On("Record", txCtx, mock.AnythingOfType("*domain.PaymentRecord")).Return(nil)
		windowRepo.On("Save", txCtx, window).Return(nil)
		outboxRepo.On("SaveBatch", txCtx, mock.AnythingOfType("[]*outbox.Message")).Return(nil)

		cmd := ConfirmPurchaseCommand{
			AccountID:   account.ID(),
			ServerID:    "nl-1",
			PlanID:      "m1",
			PaymentRef:  "crypto:inv-77",
			Provider:    ProviderCryptoPay,
			AmountMinor: 500,
			Currency:    "USDT",
			Now:         now,
		}

		result, err := handler.Handle(ctx, cmd)

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, window.ID(), result.WindowID)
		assert.True(t, result.Extended)
		assert.True(t, result.ExpiresAt.Equal(currentExpiry.AddDate(0, 0, 30)))

		windowRepo.AssertExpectations(t)
		paymentRepo.AssertExpectations(t)
	})

	t.Run("extends a lapsed unswept window from the payment instant", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		ctx := context.Background()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		account := createTestAccount(100200300)
		// Expiry passed two days ago but the sweep has not flipped the row yet.
		window := createActiveWindow(account.ID(), "nl-1", now.AddDate(0, 0, -32), now.AddDate(0, 0, -2))

		uow.On("Begin", ctx).Return(txCtx, nil)
		uow.On("Commit", txCtx).Return(nil)
		accountRepo.On("FindByID", txCtx, account.ID()).Return(account, nil)
		windowRepo.On("FindActive", txCtx, account.ID(), "nl-1").Return(window, nil)
		paymentRepo.On("Record", txCtx, mock.AnythingOfType("*domain.PaymentRecord")).Return(nil)
		windowRepo.On("Save", txCtx, window).Return(nil)
		outboxRepo.On("SaveBatch", txCtx, mock.AnythingOfType("[]*outbox.Message")).Return(nil)

		cmd := ConfirmPurchaseCommand{
			AccountID:   account.ID(),
			ServerID:    "nl-1",
			PlanID:      "m1",
			PaymentRef:  "yk:pay-9",
			Provider:    ProviderYooKassa,
			AmountMinor: 29900,
			Currency:    "RUB",
			Now:         now,
		}

		result, err := handler.Handle(ctx, cmd)

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.Extended)
		assert.True(t, result.ExpiresAt.Equal(now.AddDate(0, 0, 30)),
			"lapsed time is not sold retroactively")

		windowRepo.AssertExpectations(t)
	})

	t.Run("returns the original outcome for a replayed payment reference", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		ctx := context.Background()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		account := createTestAccount(100200300)
		window := createActiveWindow(account.ID(), "nl-1", now.AddDate(0, 0, -5), now.AddDate(0, 0, 55))
		original := &domain.PaymentRecord{
			PaymentRef:  "stars:12345",
			AccountID:   account.ID(),
			WindowID:    window.ID(),
			Provider:    ProviderStars,
			PlanID:      "m1",
			AmountMinor: 150,
			Currency:    "XTR",
			ProcessedAt: now.AddDate(0, 0, -5),
		}

		uow.On("Begin", ctx).Return(txCtx, nil)
		uow.On("Rollback", txCtx).Return(nil)
		accountRepo.On("FindByID", txCtx, account.ID()).Return(account, nil)
		windowRepo.On("FindActive", txCtx, account.ID(), "nl-1").Return(window, nil)
		paymentRepo.On("Record", txCtx, mock.AnythingOfType("*domain.PaymentRecord")).Return(domain.ErrDuplicatePaymentReference)
		paymentRepo.On("FindByRef", ctx, "stars:12345").Return(original, nil)
		windowRepo.On("FindByID", ctx, window.ID()).Return(window, nil)

		cmd := ConfirmPurchaseCommand{
			AccountID:   account.ID(),
			ServerID:    "nl-1",
			PlanID:      "m1",
			PaymentRef:  "stars:12345",
			Provider:    ProviderStars,
			AmountMinor: 150,
			Currency:    "XTR",
			Now:         now,
		}

		result, err := handler.Handle(ctx, cmd)

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.AlreadyProcessed)
		assert.Equal(t, window.ID(), result.WindowID)

		paymentRepo.AssertExpectations(t)
		uow.AssertExpectations(t)
	})

	t.Run("fails with ErrInvalidPlan for an unknown plan", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		cmd := ConfirmPurchaseCommand{
			AccountID:  uuid.New(),
			ServerID:   "nl-1",
			PlanID:     "lifetime",
			PaymentRef: "stars:1",
			Provider:   ProviderStars,
			Now:        now,
		}

		result, err := handler.Handle(context.Background(), cmd)

		assert.ErrorIs(t, err, domain.ErrInvalidPlan)
		assert.Nil(t, result)
	})

	t.Run("fails with ErrInvalidSource for an unknown provider", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		cmd := ConfirmPurchaseCommand{
			AccountID:  uuid.New(),
			ServerID:   "nl-1",
			PlanID:     "m1",
			PaymentRef: "x:1",
			Provider:   "paypal",
			Now:        now,
		}

		result, err := handler.Handle(context.Background(), cmd)

		assert.ErrorIs(t, err, domain.ErrInvalidSource)
		assert.Nil(t, result)
	})

	t.Run("returns ErrAccountBanned for a banned account", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		ctx := context.Background()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		account := createBannedAccount(100200300)

		uow.On("Begin", ctx).Return(txCtx, nil)
		uow.On("Rollback", txCtx).Return(nil)
		accountRepo.On("FindByID", txCtx, account.ID()).Return(account, nil)

		cmd := ConfirmPurchaseCommand{
			AccountID:  account.ID(),
			ServerID:   "nl-1",
			PlanID:     "m1",
			PaymentRef: "stars:1",
			Provider:   ProviderStars,
			Now:        now,
		}

		result, err := handler.Handle(ctx, cmd)

		assert.ErrorIs(t, err, domain.ErrAccountBanned)
		assert.Nil(t, result)

		uow.AssertExpectations(t)
	})

	t.Run("retries after losing the optimistic save", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		ctx := context.Background()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		account := createTestAccount(100200300)

		uow.On("Begin", ctx).Return(txCtx, nil)
		uow.On("Rollback", txCtx).Return(nil).Once()
		uow.On("Commit", txCtx).Return(nil).Once()
		accountRepo.On("FindByID", txCtx, account.ID()).Return(account, nil)
		windowRepo.On("FindActive", txCtx, account.ID(), "nl-1").Return(nil, nil)
		paymentRepo.On("Record", txCtx, mock.AnythingOfType("*domain.PaymentRecord")).Return(nil)
		windowRepo.On("Save", txCtx, mock.AnythingOfType("*domain.SubscriptionWindow")).Return(domain.ErrVersionConflict).Once()
		windowRepo.On("Save", txCtx, mock.AnythingOfType("*domain.SubscriptionWindow")).Return(nil).Once()
		outboxRepo.On("SaveBatch", txCtx, mock.AnythingOfType("[]*outbox.Message")).Return(nil)

		cmd := ConfirmPurchaseCommand{
			AccountID:   account.ID(),
			ServerID:    "nl-1",
			PlanID:      "m1",
			PaymentRef:  "stars:777",
			Provider:    ProviderStars,
			AmountMinor: 150,
			Currency:    "XTR",
			Now:         now,
		}

		result, err := handler.Handle(ctx, cmd)

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.ExpiresAt.Equal(now.AddDate(0, 0, 30)))

		windowRepo.AssertExpectations(t)
		uow.AssertExpectations(t)
	})

	t.Run("gives up after repeated version conflicts", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		ctx := context.Background()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		account := createTestAccount(100200300)

		uow.On("Begin", ctx).Return(txCtx, nil).Times(3)
		uow.On("Rollback", txCtx).Return(nil).Times(3)
		accountRepo.On("FindByID", txCtx, account.ID()).Return(account, nil)
		windowRepo.On("FindActive", txCtx, account.ID(), "nl-1").Return(nil, nil)
		paymentRepo.On("Record", txCtx, mock.AnythingOfType("*domain.PaymentRecord")).Return(nil)
		windowRepo.On("Save", txCtx, mock.AnythingOfType("*domain.SubscriptionWindow")).Return(domain.ErrVersionConflict)

		cmd := ConfirmPurchaseCommand{
			AccountID:   account.ID(),
			ServerID:    "nl-1",
			PlanID:      "m1",
			PaymentRef:  "stars:778",
			Provider:    ProviderStars,
			AmountMinor: 150,
			Currency:    "XTR",
			Now:         now,
		}

		result, err := handler.Handle(ctx, cmd)

		assert.ErrorIs(t, err, domain.ErrVersionConflict)
		assert.Nil(t, result)

		uow.AssertExpectations(t)
	})

	t.Run("fails when the ledger insert fails", func(t *testing.T) {
		accountRepo := new(mockAccountRepo)
		windowRepo := new(mockWindowRepo)
		paymentRepo := new(mockPaymentRepo)
		outboxRepo := new(mockOutboxRepo)
		uow := new(mockUnitOfWork)
		handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, plans)

		ctx := context.Background()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		account := createTestAccount(100200300)

		uow.On("Begin", ctx).Return(txCtx, nil)
		uow.On("Rollback", txCtx).Return(nil)
		accountRepo.On("FindByID", txCtx, account.ID()).Return(account, nil)
		windowRepo.On("FindActive", txCtx, account.ID(), "nl-1").Return(nil, nil)
		paymentRepo.On("Record", txCtx, mock.AnythingOfType("*domain.PaymentRecord")).Return(errors.New("database error"))

		cmd := ConfirmPurchaseCommand{
			AccountID:   account.ID(),
			ServerID:    "nl-1",
			PlanID:      "m1",
			PaymentRef:  "stars:779",
			Provider:    ProviderStars,
			AmountMinor: 150,
			Currency:    "XTR",
			Now:         now,
		}

		result, err := handler.Handle(ctx, cmd)

		assert.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "database error")

		paymentRepo.AssertExpectations(t)
		uow.AssertExpectations(t)
	})
}

func TestNewConfirmPurchaseHandler(t *testing.T) {
	accountRepo := new(mockAccountRepo)
	windowRepo := new(mockWindowRepo)
	paymentRepo := new(mockPaymentRepo)
	outboxRepo := new(mockOutboxRepo)
	uow := new(mockUnitOfWork)

	handler := NewConfirmPurchaseHandler(accountRepo, windowRepo, paymentRepo, outboxRepo, uow, stubPlanCatalog{})

	require.NotNil(t, handler)
}
