package queries

import (
	"context"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
)

// SystemStatsQuery fetches operator-facing counters.
type SystemStatsQuery struct{}

// SystemStatsDTO aggregates counters for the admin /stats command.
type SystemStatsDTO struct {
	Accounts         int64            `json:"accounts"`
	ActiveWindows    int64            `json:"active_windows"`
	Payments         int64            `json:"payments"`
	TotalsByCurrency map[string]int64 `json:"totals_by_currency"`
}

// SystemStatsHandler handles the SystemStatsQuery.
type SystemStatsHandler struct {
	accountRepo domain.AccountRepository
	windowRepo  domain.WindowRepository
	paymentRepo domain.PaymentRepository
}

// NewSystemStatsHandler creates a new SystemStatsHandler.
func NewSystemStatsHandler(
	accountRepo domain.AccountRepository,
	windowRepo domain.WindowRepository,
	paymentRepo domain.PaymentRepository,
) *SystemStatsHandler {
	return &SystemStatsHandler{
		accountRepo: accountRepo,
		windowRepo:  windowRepo,
		paymentRepo: paymentRepo,
	}
}

// Handle executes the SystemStatsQuery.
func (h *SystemStatsHandler) Handle(ctx context.Context, _ SystemStatsQuery) (*SystemStatsDTO, error) {
	accounts, err := h.accountRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	active, err := h.windowRepo.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	payments, err := h.paymentRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := h.paymentRepo.TotalsByCurrency(ctx)
	if err != nil {
		return nil, err
	}
	return &SystemStatsDTO{
		Accounts:         accounts,
		ActiveWindows:    active,
		Payments:         payments,
		TotalsByCurrency: totals,
	}, nil
}
