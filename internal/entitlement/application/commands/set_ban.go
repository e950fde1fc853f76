package commands

import (
	"context"
	"errors"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedApplication "github.com/pavelzhukov/raylink/internal/shared/application"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// SetBanCommand blocks or unblocks an account. Banning stops purchases,
// trials, and config delivery; existing windows keep running until revoked.
type SetBanCommand struct {
	AccountID uuid.UUID
	Banned    bool
}

// SetBanResult reports the account's state after the command.
type SetBanResult struct {
	AccountID uuid.UUID
	Banned    bool
	// Changed is false when the account was already in the requested state.
	Changed bool
}

// SetBanHandler handles the SetBanCommand.
type SetBanHandler struct {
	accountRepo domain.AccountRepository
	outboxRepo  outbox.Repository
	uow         sharedApplication.UnitOfWork
}

// NewSetBanHandler creates a new SetBanHandler.
func NewSetBanHandler(accountRepo domain.AccountRepository, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork) *SetBanHandler {
	return &SetBanHandler{
		accountRepo: accountRepo,
		outboxRepo:  outboxRepo,
		uow:         uow,
	}
}

// Handle executes the SetBanCommand.
func (h *SetBanHandler) Handle(ctx context.Context, cmd SetBanCommand) (*SetBanResult, error) {
	var (
		result *SetBanResult
		err    error
	)
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		result, err = h.setBan(ctx, cmd)
		if !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (h *SetBanHandler) setBan(ctx context.Context, cmd SetBanCommand) (*SetBanResult, error) {
	var result *SetBanResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		account, err := h.accountRepo.FindByID(txCtx, cmd.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrAccountNotFound
		}

		if account.IsBanned() == cmd.Banned {
			result = &SetBanResult{AccountID: account.ID(), Banned: cmd.Banned}
			return nil
		}

		if cmd.Banned {
			account.Ban()
		} else {
			account.Unban()
		}

		if err := h.accountRepo.Save(txCtx, account); err != nil {
			return err
		}

		if err := saveEventsToOutbox(txCtx, h.outboxRepo, account.ID(), account.DomainEvents()); err != nil {
			return err
		}

		result = &SetBanResult{AccountID: account.ID(), Banned: cmd.Banned, Changed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
