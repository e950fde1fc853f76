package commands

import (
	"context"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedApplication "github.com/pavelzhukov/raylink/internal/shared/application"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// ActivateTrialCommand grants the account its one free window.
type ActivateTrialCommand struct {
	AccountID uuid.UUID
	ServerID  string
	Now       time.Time
}

// ActivateTrialResult reports the opened trial window.
type ActivateTrialResult struct {
	WindowID  uuid.UUID
	ServerID  string
	ExpiresAt time.Time
}

// ActivateTrialHandler handles the ActivateTrialCommand.
type ActivateTrialHandler struct {
	accountRepo  domain.AccountRepository
	windowRepo   domain.WindowRepository
	outboxRepo   outbox.Repository
	uow          sharedApplication.UnitOfWork
	trialEnabled bool
	trialDays    int
}

// NewActivateTrialHandler creates a new ActivateTrialHandler.
func NewActivateTrialHandler(
	accountRepo domain.AccountRepository,
	windowRepo domain.WindowRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	trialEnabled bool,
	trialDays int,
) *ActivateTrialHandler {
	return &ActivateTrialHandler{
		accountRepo:  accountRepo,
		windowRepo:   windowRepo,
		outboxRepo:   outboxRepo,
		uow:          uow,
		trialEnabled: trialEnabled,
		trialDays:    trialDays,
	}
}

// Handle executes the ActivateTrialCommand. The trial flag and the new
// window commit in one transaction: either the account burns its trial and
// gets a window, or neither happens. Two concurrent activations race on the
// conditional flag update and exactly one wins.
func (h *ActivateTrialHandler) Handle(ctx context.Context, cmd ActivateTrialCommand) (*ActivateTrialResult, error) {
	if !h.trialEnabled {
		return nil, domain.ErrTrialDisabled
	}

	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	var result *ActivateTrialResult

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

		if err := h.accountRepo.MarkTrialUsed(txCtx, cmd.AccountID); err != nil {
			return err
		}

		window, err := domain.NewSubscriptionWindow(cmd.AccountID, cmd.ServerID, domain.SourceTrial, now, now.AddDate(0, 0, h.trialDays))
		if err != nil {
			return err
		}

		if err := h.windowRepo.Save(txCtx, window); err != nil {
			return err
		}

		events := append([]sharedDomain.DomainEvent{}, window.DomainEvents()...)
		events = append(events, domain.NewTrialActivated(account, window, h.trialDays))
		if err := saveEventsToOutbox(txCtx, h.outboxRepo, cmd.AccountID, events); err != nil {
			return err
		}

		result = &ActivateTrialResult{
			WindowID:  window.ID(),
			ServerID:  window.ServerID(),
			ExpiresAt: window.ExpiresAt(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
