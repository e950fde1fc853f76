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

// ExpireWindowCommand moves a lapsed window to expired. Both the periodic
// sweep and lazy expiry during access checks funnel through this command,
// so the deprovision and the expired notice are emitted exactly once no
// matter who notices the lapse first.
type ExpireWindowCommand struct {
	WindowID uuid.UUID
	Now      time.Time
}

// ExpireWindowResult reports whether this call performed the transition.
type ExpireWindowResult struct {
	Expired   bool
	AccountID uuid.UUID
	ServerID  string
}

// ExpireWindowHandler handles the ExpireWindowCommand.
type ExpireWindowHandler struct {
	windowRepo domain.WindowRepository
	outboxRepo outbox.Repository
	uow        sharedApplication.UnitOfWork
}

// NewExpireWindowHandler creates a new ExpireWindowHandler.
func NewExpireWindowHandler(windowRepo domain.WindowRepository, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork) *ExpireWindowHandler {
	return &ExpireWindowHandler{
		windowRepo: windowRepo,
		outboxRepo: outboxRepo,
		uow:        uow,
	}
}

// Handle executes the ExpireWindowCommand. Losing the optimistic save means
// someone else transitioned or extended the window first; the command
// re-reads and either retries or reports a clean no-op.
func (h *ExpireWindowHandler) Handle(ctx context.Context, cmd ExpireWindowCommand) (*ExpireWindowResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	var (
		result *ExpireWindowResult
		err    error
	)
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		result, err = h.expire(ctx, cmd.WindowID, now)
		if !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (h *ExpireWindowHandler) expire(ctx context.Context, windowID uuid.UUID, now time.Time) (*ExpireWindowResult, error) {
	var result *ExpireWindowResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		window, err := h.windowRepo.FindByID(txCtx, windowID)
		if err != nil {
			return err
		}
		if window == nil {
			return domain.ErrWindowNotFound
		}

		if err := window.Expire(now); err != nil {
			if errors.Is(err, domain.ErrWindowNotActive) {
				// Already transitioned, or an extension outran the sweep.
				result = &ExpireWindowResult{
					Expired:   false,
					AccountID: window.AccountID(),
					ServerID:  window.ServerID(),
				}
				return nil
			}
			return err
		}

		if err := h.windowRepo.Save(txCtx, window); err != nil {
			return err
		}

		if err := saveEventsToOutbox(txCtx, h.outboxRepo, window.AccountID(), window.DomainEvents()); err != nil {
			return err
		}

		result = &ExpireWindowResult{
			Expired:   true,
			AccountID: window.AccountID(),
			ServerID:  window.ServerID(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
