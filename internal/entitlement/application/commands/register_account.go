package commands

import (
	"context"
	"errors"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedApplication "github.com/pavelzhukov/raylink/internal/shared/application"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// RegisterAccountCommand records a Telegram user on first contact.
type RegisterAccountCommand struct {
	TelegramID sharedDomain.TelegramID
	Username   string
}

// RegisterAccountResult reports the resolved account.
type RegisterAccountResult struct {
	AccountID uuid.UUID
	Created   bool
	TrialUsed bool
	Banned    bool
}

// RegisterAccountHandler handles the RegisterAccountCommand.
type RegisterAccountHandler struct {
	accountRepo domain.AccountRepository
	outboxRepo  outbox.Repository
	uow         sharedApplication.UnitOfWork
}

// NewRegisterAccountHandler creates a new RegisterAccountHandler.
func NewRegisterAccountHandler(accountRepo domain.AccountRepository, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		accountRepo: accountRepo,
		outboxRepo:  outboxRepo,
		uow:         uow,
	}
}

// Handle executes the RegisterAccountCommand. Registration is idempotent:
// a second /start refreshes the username and returns the existing account.
func (h *RegisterAccountHandler) Handle(ctx context.Context, cmd RegisterAccountCommand) (*RegisterAccountResult, error) {
	result, err := h.register(ctx, cmd)
	if errors.Is(err, domain.ErrAccountExists) {
		// Two first contacts raced on the unique telegram_id; the loser
		// re-reads the winner's row.
		return h.register(ctx, cmd)
	}
	return result, err
}

func (h *RegisterAccountHandler) register(ctx context.Context, cmd RegisterAccountCommand) (*RegisterAccountResult, error) {
	var result *RegisterAccountResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		existing, err := h.accountRepo.FindByTelegramID(txCtx, cmd.TelegramID)
		if err != nil {
			return err
		}

		if existing != nil {
			existing.SetUsername(cmd.Username)
			if err := h.accountRepo.Save(txCtx, existing); err != nil {
				return err
			}
			result = &RegisterAccountResult{
				AccountID: existing.ID(),
				Created:   false,
				TrialUsed: existing.TrialUsed(),
				Banned:    existing.IsBanned(),
			}
			return nil
		}

		account, err := domain.NewAccount(cmd.TelegramID, cmd.Username)
		if err != nil {
			return err
		}

		if err := h.accountRepo.Save(txCtx, account); err != nil {
			return err
		}

		if err := saveEventsToOutbox(txCtx, h.outboxRepo, account.ID(), account.DomainEvents()); err != nil {
			return err
		}

		result = &RegisterAccountResult{
			AccountID: account.ID(),
			Created:   true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// saveEventsToOutbox stamps metadata on events and stores them in the outbox.
func saveEventsToOutbox(ctx context.Context, outboxRepo outbox.Repository, accountID uuid.UUID, events []sharedDomain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(accountID))

	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return outboxRepo.SaveBatch(ctx, msgs)
}
