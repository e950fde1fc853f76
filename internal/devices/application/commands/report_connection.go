package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelzhukov/raylink/internal/devices/domain"
	"github.com/pavelzhukov/raylink/internal/devices/infrastructure/cache"
	sharedApplication "github.com/pavelzhukov/raylink/internal/shared/application"
	"github.com/google/uuid"
)

// ReportConnectionCommand records that a fingerprint connected as an account.
type ReportConnectionCommand struct {
	AccountID   uuid.UUID
	Fingerprint string
	Now         time.Time
}

// ReportConnectionResult reports whether the fingerprint was already known.
type ReportConnectionResult struct {
	Refreshed bool
}

// ReportConnectionHandler handles the ReportConnectionCommand.
type ReportConnectionHandler struct {
	bindingRepo     domain.BindingRepository
	cache           cache.FreshnessCache
	uow             sharedApplication.UnitOfWork
	logger          *slog.Logger
	maxDevices      int
	freshnessWindow time.Duration
}

// NewReportConnectionHandler creates a new ReportConnectionHandler.
func NewReportConnectionHandler(
	bindingRepo domain.BindingRepository,
	freshnessCache cache.FreshnessCache,
	uow sharedApplication.UnitOfWork,
	logger *slog.Logger,
	maxDevices int,
	freshnessWindow time.Duration,
) *ReportConnectionHandler {
	return &ReportConnectionHandler{
		bindingRepo:     bindingRepo,
		cache:           freshnessCache,
		uow:             uow,
		logger:          logger,
		maxDevices:      maxDevices,
		freshnessWindow: freshnessWindow,
	}
}

// Handle executes the ReportConnectionCommand. Refreshing a fingerprint that
// is already fresh is always allowed; a new fingerprint (or a stale one
// coming back) takes a device slot and is rejected once the fresh count is
// at the limit. The admission decision and the write happen under the
// per-account lock, so concurrent reports cannot race past the limit. A
// cache hit skips the locked path entirely; the cache never admits anything
// the store has not.
func (h *ReportConnectionHandler) Handle(ctx context.Context, cmd ReportConnectionCommand) (*ReportConnectionResult, error) {
	fingerprint := strings.TrimSpace(cmd.Fingerprint)
	if fingerprint == "" {
		return nil, domain.ErrEmptyFingerprint
	}

	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	if h.cache != nil {
		fresh, err := h.cache.IsFresh(ctx, cmd.AccountID, fingerprint)
		if err != nil {
			h.logger.Warn("freshness cache read failed, using store",
				"account_id", cmd.AccountID,
				"error", err)
		} else if fresh {
			refreshed, err := h.bindingRepo.Touch(ctx, cmd.AccountID, fingerprint, now)
			if err != nil {
				return nil, err
			}
			if refreshed > 0 {
				h.markCache(ctx, cmd.AccountID, fingerprint)
				return &ReportConnectionResult{Refreshed: true}, nil
			}
			// Cached but the row is gone; decide against the store.
		}
	}

	var result *ReportConnectionResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		if err := h.bindingRepo.LockAccount(txCtx, cmd.AccountID); err != nil {
			return err
		}

		binding, err := h.bindingRepo.Find(txCtx, cmd.AccountID, fingerprint)
		if err != nil {
			return err
		}

		since := now.Add(-h.freshnessWindow)

		if binding != nil {
			if !binding.IsFresh(now, h.freshnessWindow) {
				// A stale fingerprint coming back takes a slot again.
				count, err := h.bindingRepo.CountFresh(txCtx, cmd.AccountID, since)
				if err != nil {
					return err
				}
				if count >= int64(h.maxDevices) {
					return domain.ErrDeviceLimitExceeded
				}
			}
			if _, err := h.bindingRepo.Touch(txCtx, cmd.AccountID, fingerprint, now); err != nil {
				return err
			}
			result = &ReportConnectionResult{Refreshed: true}
			return nil
		}

		count, err := h.bindingRepo.CountFresh(txCtx, cmd.AccountID, since)
		if err != nil {
			return err
		}
		if count >= int64(h.maxDevices) {
			return domain.ErrDeviceLimitExceeded
		}

		fresh, err := domain.NewDeviceBinding(cmd.AccountID, fingerprint, now)
		if err != nil {
			return err
		}
		if err := h.bindingRepo.Insert(txCtx, fresh); err != nil {
			return err
		}

		result = &ReportConnectionResult{Refreshed: false}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.markCache(ctx, cmd.AccountID, fingerprint)
	return result, nil
}

func (h *ReportConnectionHandler) markCache(ctx context.Context, accountID uuid.UUID, fingerprint string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Mark(ctx, accountID, fingerprint, h.freshnessWindow); err != nil {
		h.logger.Warn("freshness cache write failed",
			"account_id", accountID,
			"error", err)
	}
}
