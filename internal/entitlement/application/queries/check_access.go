package queries

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/google/uuid"
)

// Denial reasons reported by CheckAccess.
const (
	ReasonNoAccount      = "no_account"
	ReasonBanned         = "banned"
	ReasonNoSubscription = "no_subscription"
	ReasonExpired        = "expired"
)

// CheckAccessQuery asks whether an account may use a server right now.
type CheckAccessQuery struct {
	AccountID uuid.UUID
	ServerID  string
	Now       time.Time
}

// AccessDTO is the access decision.
type AccessDTO struct {
	Entitled  bool       `json:"entitled"`
	Reason    string     `json:"reason,omitempty"`
	WindowID  uuid.UUID  `json:"window_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CheckAccessHandler handles the CheckAccessQuery.
type CheckAccessHandler struct {
	accountRepo domain.AccountRepository
	windowRepo  domain.WindowRepository
	expirer     *commands.ExpireWindowHandler
	logger      *slog.Logger
}

// NewCheckAccessHandler creates a new CheckAccessHandler.
func NewCheckAccessHandler(
	accountRepo domain.AccountRepository,
	windowRepo domain.WindowRepository,
	expirer *commands.ExpireWindowHandler,
	logger *slog.Logger,
) *CheckAccessHandler {
	return &CheckAccessHandler{
		accountRepo: accountRepo,
		windowRepo:  windowRepo,
		expirer:     expirer,
		logger:      logger,
	}
}

// Handle executes the CheckAccessQuery. The decision depends only on the
// stored expiry and the supplied instant, never on whether the sweep has
// caught up. A lapsed row found here is handed to the shared expire
// transition; if that write fails the answer is still correct, so the
// failure is logged and the decision returned.
//
// Storage errors propagate to the caller: an unreachable store is not the
// same as an unentitled account.
func (h *CheckAccessHandler) Handle(ctx context.Context, query CheckAccessQuery) (*AccessDTO, error) {
	now := query.Now
	if now.IsZero() {
		now = time.Now()
	}

	account, err := h.accountRepo.FindByID(ctx, query.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &AccessDTO{Entitled: false, Reason: ReasonNoAccount}, nil
	}
	if account.IsBanned() {
		return &AccessDTO{Entitled: false, Reason: ReasonBanned}, nil
	}

	window, err := h.windowRepo.FindActive(ctx, query.AccountID, query.ServerID)
	if err != nil {
		return nil, err
	}
	if window == nil {
		return &AccessDTO{Entitled: false, Reason: ReasonNoSubscription}, nil
	}

	if window.IsActiveAt(now) {
		expiresAt := window.ExpiresAt()
		return &AccessDTO{
			Entitled:  true,
			WindowID:  window.ID(),
			ExpiresAt: &expiresAt,
		}, nil
	}

	// Lapsed but unswept. Expire it now so deprovisioning does not wait for
	// the next sweep tick.
	if h.expirer != nil {
		if _, err := h.expirer.Handle(ctx, commands.ExpireWindowCommand{WindowID: window.ID(), Now: now}); err != nil {
			h.logger.Warn("lazy expiry failed, sweep will retry",
				"window_id", window.ID(),
				"error", err,
			)
		}
	}

	return &AccessDTO{Entitled: false, Reason: ReasonExpired, WindowID: window.ID()}, nil
}
