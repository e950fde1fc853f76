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

// RevokeWindowCommand withdraws an account's access to a server before the
// window's natural expiry, e.g. for refunds or abuse.
type RevokeWindowCommand struct {
	AccountID uuid.UUID
	ServerID  string
	Now       time.Time
}

// RevokeWindowResult reports the revoked window.
type RevokeWindowResult struct {
	WindowID uuid.UUID
}

// RevokeWindowHandler handles the RevokeWindowCommand.
type RevokeWindowHandler struct {
	windowRepo domain.WindowRepository
	outboxRepo outbox.Repository
	uow        sharedApplication.UnitOfWork
}

// NewRevokeWindowHandler creates a new RevokeWindowHandler.
func NewRevokeWindowHandler(windowRepo domain.WindowRepository, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork) *RevokeWindowHandler {
	return &RevokeWindowHandler{
		windowRepo: windowRepo,
		outboxRepo: outboxRepo,
		uow:        uow,
	}
}

// Handle executes the RevokeWindowCommand.
func (h *RevokeWindowHandler) Handle(ctx context.Context, cmd RevokeWindowCommand) (*RevokeWindowResult, error) {
	var (
		result *RevokeWindowResult
		err    error
	)
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		result, err = h.revoke(ctx, cmd)
		if !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (h *RevokeWindowHandler) revoke(ctx context.Context, cmd RevokeWindowCommand) (*RevokeWindowResult, error) {
	var result *RevokeWindowResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		window, err := h.windowRepo.FindActive(txCtx, cmd.AccountID, cmd.ServerID)
		if err != nil {
			return err
		}
		if window == nil {
			return domain.ErrNoActiveSubscription
		}

		if err := window.Revoke(); err != nil {
			return err
		}

		if err := h.windowRepo.Save(txCtx, window); err != nil {
			return err
		}

		if err := saveEventsToOutbox(txCtx, h.outboxRepo, window.AccountID(), window.DomainEvents()); err != nil {
			return err
		}

		result = &RevokeWindowResult{WindowID: window.ID()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
