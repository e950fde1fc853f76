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

// GrantWindowCommand gives an account access to a server by operator
// decision, outside any payment: goodwill, refund compensation, testing.
type GrantWindowCommand struct {
	AccountID uuid.UUID
	ServerID  string
	Days      int
	Now       time.Time
}

// GrantWindowResult reports the window the grant landed on.
type GrantWindowResult struct {
	WindowID  uuid.UUID
	ExpiresAt time.Time
	// Extended is true when an existing window was lengthened rather than a
	// fresh one opened.
	Extended bool
}

// GrantWindowHandler handles the GrantWindowCommand.
type GrantWindowHandler struct {
	accountRepo domain.AccountRepository
	windowRepo  domain.WindowRepository
	outboxRepo  outbox.Repository
	uow         sharedApplication.UnitOfWork
}

// NewGrantWindowHandler creates a new GrantWindowHandler.
func NewGrantWindowHandler(
	accountRepo domain.AccountRepository,
	windowRepo domain.WindowRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
) *GrantWindowHandler {
	return &GrantWindowHandler{
		accountRepo: accountRepo,
		windowRepo:  windowRepo,
		outboxRepo:  outboxRepo,
		uow:         uow,
	}
}

// Handle executes the GrantWindowCommand. A grant extends the active window
// when one exists and opens a fresh one when none does, exactly like a
// purchase, but writes no ledger entry: there is no payment reference to be
// idempotent on.
func (h *GrantWindowHandler) Handle(ctx context.Context, cmd GrantWindowCommand) (*GrantWindowResult, error) {
	if cmd.Days <= 0 {
		return nil, domain.ErrInvalidPlan
	}
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	var (
		result *GrantWindowResult
		err    error
	)
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		result, err = h.grant(ctx, cmd, now)
		if !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (h *GrantWindowHandler) grant(ctx context.Context, cmd GrantWindowCommand, now time.Time) (*GrantWindowResult, error) {
	var result *GrantWindowResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		account, err := h.accountRepo.FindByID(txCtx, cmd.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrAccountNotFound
		}

		window, err := h.windowRepo.FindActive(txCtx, cmd.AccountID, cmd.ServerID)
		if err != nil {
			return err
		}

		extended := window != nil
		if extended {
			if err := window.Extend(cmd.Days, now); err != nil {
				return err
			}
		} else {
			window, err = domain.NewSubscriptionWindow(cmd.AccountID, cmd.ServerID, domain.SourceAdmin, now, now.AddDate(0, 0, cmd.Days))
			if err != nil {
				return err
			}
		}

		if err := h.windowRepo.Save(txCtx, window); err != nil {
			return err
		}

		if err := saveEventsToOutbox(txCtx, h.outboxRepo, cmd.AccountID, window.DomainEvents()); err != nil {
			return err
		}

		result = &GrantWindowResult{
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
