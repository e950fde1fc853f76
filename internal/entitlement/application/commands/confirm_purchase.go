package commands

import (
	"context"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedApplication "github.com/pavelzhukov/raylink/internal/shared/application"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// maxSaveAttempts bounds optimistic-concurrency retries. A conflict means a
// sweep or another purchase touched the window between our read and write.
const maxSaveAttempts = 3

// PlanCatalog resolves plan identifiers to their paid duration.
type PlanCatalog interface {
	PlanDays(planID string) (int, bool)
}

// Payment providers accepted by ConfirmPurchase.
const (
	ProviderStars     = "stars"
	ProviderCryptoPay = "cryptopay"
	ProviderYooKassa  = "yookassa"
)

func sourceForProvider(provider string) (domain.Source, bool) {
	switch provider {
	case ProviderStars:
		return domain.SourcePurchaseStars, true
	case ProviderCryptoPay:
		return domain.SourcePurchaseCrypto, true
	case ProviderYooKassa:
		return domain.SourcePurchaseFiat, true
	default:
		return "", false
	}
}

// ConfirmPurchaseCommand applies a settled payment to the account's window.
type ConfirmPurchaseCommand struct {
	AccountID   uuid.UUID
	ServerID    string
	PlanID      string
	PaymentRef  string
	Provider    string
	AmountMinor int64
	Currency    string
	Now         time.Time
}

// ConfirmPurchaseResult reports the window the payment landed on.
type ConfirmPurchaseResult struct {
	WindowID  uuid.UUID
	ExpiresAt time.Time
	// Extended is true when an existing window was lengthened rather than a
	// fresh one opened.
	Extended bool
	// AlreadyProcessed is true when this payment reference had been applied
	// before; the window was not touched again.
	AlreadyProcessed bool
}

// ConfirmPurchaseHandler handles the ConfirmPurchaseCommand.
type ConfirmPurchaseHandler struct {
	accountRepo domain.AccountRepository
	windowRepo  domain.WindowRepository
	paymentRepo domain.PaymentRepository
	outboxRepo  outbox.Repository
	uow         sharedApplication.UnitOfWork
	plans       PlanCatalog
}

// NewConfirmPurchaseHandler creates a new ConfirmPurchaseHandler.
func NewConfirmPurchaseHandler(
	accountRepo domain.AccountRepository,
	windowRepo domain.WindowRepository,
	paymentRepo domain.PaymentRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	plans PlanCatalog,
) *ConfirmPurchaseHandler {
	return &ConfirmPurchaseHandler{
		accountRepo: accountRepo,
		windowRepo:  windowRepo,
		paymentRepo: paymentRepo,
		outboxRepo:  outboxRepo,
		uow:         uow,
		plans:       plans,
	}
}

// Handle executes the ConfirmPurchaseCommand. Confirmation is idempotent on
// the payment reference: the ledger insert and the window change commit in
// one transaction, so a redelivered confirmation rolls back before touching
// the window and reports the original outcome.
func (h *ConfirmPurchaseHandler) Handle(ctx context.Context, cmd ConfirmPurchaseCommand) (*ConfirmPurchaseResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	var (
		result *ConfirmPurchaseResult
		err    error
	)
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		result, err = h.confirm(ctx, cmd, now)
		if !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
	}

	if errors.Is(err, domain.ErrDuplicatePaymentReference) {
		return h.alreadyProcessed(ctx, cmd.PaymentRef)
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (h *ConfirmPurchaseHandler) confirm(ctx context.Context, cmd ConfirmPurchaseCommand, now time.Time) (*ConfirmPurchaseResult, error) {
	days, ok := h.plans.PlanDays(cmd.PlanID)
	if !ok {
		return nil, domain.ErrInvalidPlan
	}
	source, ok := sourceForProvider(cmd.Provider)
	if !ok {
		return nil, domain.ErrInvalidSource
	}

	var result *ConfirmPurchaseResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		account, err := h.accountRepo.FindByID(txCtx, cmd.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrAccountNotFound
		}
		if account.IsBanned() {
			return domain.ErrAccountBanned
		}

		window, err := h.windowRepo.FindActive(txCtx, cmd.AccountID, cmd.ServerID)
		if err != nil {
			return err
		}

		extended := window != nil
		if extended {
			if err := window.Extend(days, now); err != nil {
				return err
			}
		} else {
			// Expired or revoked history never bleeds into a new purchase:
			// the account gets a fresh window.
			window, err = domain.NewSubscriptionWindow(cmd.AccountID, cmd.ServerID, source, now, now.AddDate(0, 0, days))
			if err != nil {
				return err
			}
		}

		payment, err := domain.NewPaymentRecord(cmd.PaymentRef, cmd.AccountID, window.ID(), cmd.Provider, cmd.PlanID, cmd.AmountMinor, cmd.Currency, now)
		if err != nil {
			return err
		}
		if err := h.paymentRepo.Record(txCtx, payment); err != nil {
			return err
		}

		window.AddDomainEvent(domain.NewPaymentRecorded(window, payment))

		if err := h.windowRepo.Save(txCtx, window); err != nil {
			return err
		}

		if err := saveEventsToOutbox(txCtx, h.outboxRepo, cmd.AccountID, window.DomainEvents()); err != nil {
			return err
		}

		result = &ConfirmPurchaseResult{
			WindowID:  window.ID(),
			ExpiresAt: window.ExpiresAt(),
			Extended:  extended,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// alreadyProcessed reconstructs the original outcome for a replayed payment.
func (h *ConfirmPurchaseHandler) alreadyProcessed(ctx context.Context, paymentRef string) (*ConfirmPurchaseResult, error) {
	payment, err := h.paymentRepo.FindByRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrDuplicatePaymentReference
	}

	result := &ConfirmPurchaseResult{
		WindowID:         payment.WindowID,
		AlreadyProcessed: true,
	}
	if window, err := h.windowRepo.FindByID(ctx, payment.WindowID); err == nil && window != nil {
		result.ExpiresAt = window.ExpiresAt()
	}
	return result, nil
}
