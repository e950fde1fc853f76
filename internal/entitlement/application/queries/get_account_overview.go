package queries

import (
	"context"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/google/uuid"
)

// ErrAccountNotFound is returned when an account cannot be found.
var ErrAccountNotFound = errors.New("account not found")

// GetAccountOverviewQuery fetches an account and its subscription windows
// by Telegram ID.
type GetAccountOverviewQuery struct {
	TelegramID int64
	Now        time.Time
}

// AccountOverviewDTO is the account projection used by the bot and the CLI.
type AccountOverviewDTO struct {
	AccountID  uuid.UUID   `json:"account_id"`
	TelegramID int64       `json:"telegram_id"`
	Username   string      `json:"username,omitempty"`
	TrialUsed  bool        `json:"trial_used"`
	Banned     bool        `json:"banned"`
	CreatedAt  time.Time   `json:"created_at"`
	Windows    []WindowDTO `json:"windows"`
}

// WindowDTO is a single subscription window projection.
type WindowDTO struct {
	WindowID  uuid.UUID `json:"window_id"`
	ServerID  string    `json:"server_id"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	StartsAt  time.Time `json:"starts_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

// GetAccountOverviewHandler handles the GetAccountOverviewQuery.
type GetAccountOverviewHandler struct {
	accountRepo domain.AccountRepository
	windowRepo  domain.WindowRepository
}

// NewGetAccountOverviewHandler creates a new GetAccountOverviewHandler.
func NewGetAccountOverviewHandler(
	accountRepo domain.AccountRepository,
	windowRepo domain.WindowRepository,
) *GetAccountOverviewHandler {
	return &GetAccountOverviewHandler{
		accountRepo: accountRepo,
		windowRepo:  windowRepo,
	}
}

// Handle executes the GetAccountOverviewQuery.
func (h *GetAccountOverviewHandler) Handle(ctx context.Context, query GetAccountOverviewQuery) (*AccountOverviewDTO, error) {
	now := query.Now
	if now.IsZero() {
		now = time.Now()
	}

	account, err := h.accountRepo.FindByTelegramID(ctx, sharedDomain.NewTelegramID(query.TelegramID))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	windows, err := h.windowRepo.ListByAccount(ctx, account.ID())
	if err != nil {
		return nil, err
	}

	dto := &AccountOverviewDTO{
		AccountID:  account.ID(),
		TelegramID: account.TelegramID().Int64(),
		Username:   account.Username(),
		TrialUsed:  account.TrialUsed(),
		Banned:     account.IsBanned(),
		CreatedAt:  account.CreatedAt(),
		Windows:    make([]WindowDTO, 0, len(windows)),
	}
	for _, w := range windows {
		dto.Windows = append(dto.Windows, WindowDTO{
			WindowID:  w.ID(),
			ServerID:  w.ServerID(),
			Source:    string(w.Source()),
			Status:    string(w.Status()),
			StartsAt:  w.StartsAt(),
			ExpiresAt: w.ExpiresAt(),
			Active:    w.IsActiveAt(now),
		})
	}
	return dto, nil
}
