package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
)

// SweepExpirationsCommand scans for lapsed windows and expires each one.
type SweepExpirationsCommand struct {
	Now       time.Time
	BatchSize int
}

// SweepExpirationsResult summarizes one sweep pass.
type SweepExpirationsResult struct {
	Scanned int
	Expired int
	Failed  int
}

// SweepExpirationsHandler handles the SweepExpirationsCommand.
type SweepExpirationsHandler struct {
	windowRepo domain.WindowRepository
	expirer    *ExpireWindowHandler
	logger     *slog.Logger
}

// NewSweepExpirationsHandler creates a new SweepExpirationsHandler.
func NewSweepExpirationsHandler(windowRepo domain.WindowRepository, expirer *ExpireWindowHandler, logger *slog.Logger) *SweepExpirationsHandler {
	return &SweepExpirationsHandler{
		windowRepo: windowRepo,
		expirer:    expirer,
		logger:     logger,
	}
}

// Handle executes one sweep pass. Each window transitions independently: a
// failure on one row is logged and the sweep moves on, so a single bad row
// cannot stall everyone else's deprovisioning.
func (h *SweepExpirationsHandler) Handle(ctx context.Context, cmd SweepExpirationsCommand) (*SweepExpirationsResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}
	batchSize := cmd.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	windows, err := h.windowRepo.ListExpired(ctx, now, batchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepExpirationsResult{Scanned: len(windows)}

	for _, window := range windows {
		expireResult, err := h.expirer.Handle(ctx, ExpireWindowCommand{WindowID: window.ID(), Now: now})
		if err != nil {
			result.Failed++
			h.logger.Error("failed to expire window",
				"window_id", window.ID(),
				"account_id", window.AccountID(),
				"error", err,
			)
			continue
		}
		if expireResult.Expired {
			result.Expired++
		}
	}

	return result, nil
}
