package commands

import (
	"context"
	"time"

	"github.com/pavelzhukov/raylink/internal/devices/domain"
)

// EvictStaleCommand removes bindings not seen within the freshness window.
type EvictStaleCommand struct {
	Now time.Time
}

// EvictStaleResult reports how many bindings were removed.
type EvictStaleResult struct {
	Removed int64
}

// EvictStaleHandler handles the EvictStaleCommand.
type EvictStaleHandler struct {
	bindingRepo     domain.BindingRepository
	freshnessWindow time.Duration
}

// NewEvictStaleHandler creates a new EvictStaleHandler.
func NewEvictStaleHandler(bindingRepo domain.BindingRepository, freshnessWindow time.Duration) *EvictStaleHandler {
	return &EvictStaleHandler{
		bindingRepo:     bindingRepo,
		freshnessWindow: freshnessWindow,
	}
}

// Handle executes the EvictStaleCommand. Pure garbage collection: stale
// bindings are already excluded from every admission count, deleting them
// changes no decision.
func (h *EvictStaleHandler) Handle(ctx context.Context, cmd EvictStaleCommand) (*EvictStaleResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	removed, err := h.bindingRepo.DeleteStale(ctx, now.Add(-h.freshnessWindow))
	if err != nil {
		return nil, err
	}

	return &EvictStaleResult{Removed: removed}, nil
}
