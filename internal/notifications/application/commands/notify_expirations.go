package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedApplication "github.com/pavelzhukov/raylink/internal/shared/application"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// NotifyExpirationsCommand runs one notification pass over subscription
// windows.
type NotifyExpirationsCommand struct {
	Now       time.Time
	BatchSize int
}

// NotifyExpirationsResult summarizes one pass.
type NotifyExpirationsResult struct {
	Scanned        int
	ExpiringQueued int
	ExpiredQueued  int
	Failed         int
}

// NotifyExpirationsHandler queues expiry notices. A window is told about each
// threshold at most once: the threshold advance and the outbox row commit in
// the same transaction, and the threshold ladder only moves forward.
type NotifyExpirationsHandler struct {
	windowRepo domain.WindowRepository
	outboxRepo outbox.Repository
	uow        sharedApplication.UnitOfWork
	logger     *slog.Logger
	lookahead  time.Duration
}

// NewNotifyExpirationsHandler creates a new NotifyExpirationsHandler.
func NewNotifyExpirationsHandler(
	windowRepo domain.WindowRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	logger *slog.Logger,
	lookahead time.Duration,
) *NotifyExpirationsHandler {
	return &NotifyExpirationsHandler{
		windowRepo: windowRepo,
		outboxRepo: outboxRepo,
		uow:        uow,
		logger:     logger,
		lookahead:  lookahead,
	}
}

// Handle executes one pass: first the pre-expiry warnings for windows inside
// the lookahead, then a reconciliation sweep for windows that reached expired
// without a notice, e.g. rows imported from another system. Each window is
// processed in its own transaction; a failure is logged and the pass moves on.
func (h *NotifyExpirationsHandler) Handle(ctx context.Context, cmd NotifyExpirationsCommand) (*NotifyExpirationsResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}
	batchSize := cmd.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	result := &NotifyExpirationsResult{}

	expiring, err := h.windowRepo.ListExpiringWithin(ctx, now, h.lookahead, batchSize)
	if err != nil {
		return nil, err
	}
	result.Scanned += len(expiring)
	for _, window := range expiring {
		queued, err := h.queueNotice(ctx, window.ID(), domain.ThresholdExpiring, now)
		if err != nil {
			result.Failed++
			h.logger.Error("failed to queue expiry warning",
				"window_id", window.ID(),
				"account_id", window.AccountID(),
				"error", err,
			)
			continue
		}
		if queued {
			result.ExpiringQueued++
		}
	}

	unnotified, err := h.windowRepo.ListExpiredUnnotified(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	result.Scanned += len(unnotified)
	for _, window := range unnotified {
		queued, err := h.queueNotice(ctx, window.ID(), domain.ThresholdExpired, now)
		if err != nil {
			result.Failed++
			h.logger.Error("failed to queue expired notice",
				"window_id", window.ID(),
				"account_id", window.AccountID(),
				"error", err,
			)
			continue
		}
		if queued {
			result.ExpiredQueued++
		}
	}

	return result, nil
}

// queueNotice advances one window's notification threshold and stores the
// notice in the outbox. The window is re-read inside the transaction, so a
// concurrent extension or an earlier pass turns this into a clean no-op.
func (h *NotifyExpirationsHandler) queueNotice(ctx context.Context, windowID uuid.UUID, threshold domain.Threshold, now time.Time) (bool, error) {
	var queued bool

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		window, err := h.windowRepo.FindByID(txCtx, windowID)
		if err != nil {
			return err
		}
		if window == nil {
			return domain.ErrWindowNotFound
		}

		var markErr error
		if threshold == domain.ThresholdExpiring {
			// An extension between the list and this transaction moves the
			// expiry out of the lookahead; that window's warning belongs to
			// a later pass.
			if !window.ExpiresWithin(now, h.lookahead) {
				return nil
			}
			markErr = window.MarkExpiringNotified()
		} else {
			markErr = window.MarkExpiredNotified()
		}
		if markErr != nil {
			if errors.Is(markErr, domain.ErrNotificationAlreadySent) || errors.Is(markErr, domain.ErrWindowNotActive) {
				return nil
			}
			return markErr
		}

		if err := h.windowRepo.Save(txCtx, window); err != nil {
			return err
		}

		if err := saveEventsToOutbox(txCtx, h.outboxRepo, window.AccountID(), window.DomainEvents()); err != nil {
			return err
		}

		queued = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			// Lost the save race; the next pass sees the fresh state.
			return false, nil
		}
		return false, err
	}

	return queued, nil
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
