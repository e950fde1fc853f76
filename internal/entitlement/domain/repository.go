package domain

import (
	"context"
	"time"

	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/google/uuid"
)

// AccountRepository defines the interface for account persistence.
type AccountRepository interface {
	// Save persists an account (create or update). Updates compare the
	// aggregate version and return ErrVersionConflict on a lost race.
	Save(ctx context.Context, account *Account) error

	// FindByID finds an account by its ID. Returns (nil, nil) when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByTelegramID finds an account by Telegram user ID.
	// Returns (nil, nil) when absent.
	FindByTelegramID(ctx context.Context, telegramID sharedDomain.TelegramID) (*Account, error)

	// MarkTrialUsed flips the trial flag with a single conditional update.
	// Returns ErrTrialAlreadyUsed if the flag was already set and
	// ErrAccountNotFound if the account does not exist.
	MarkTrialUsed(ctx context.Context, id uuid.UUID) error

	// Count returns the total number of accounts.
	Count(ctx context.Context) (int64, error)
}

// WindowRepository defines the interface for subscription window persistence.
type WindowRepository interface {
	// Save persists a window (create or update). Updates compare the
	// aggregate version and return ErrVersionConflict on a lost race.
	Save(ctx context.Context, window *SubscriptionWindow) error

	// FindByID finds a window by its ID. Returns (nil, nil) when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*SubscriptionWindow, error)

	// FindActive finds the single active window for an account on a server.
	// Returns (nil, nil) when there is none.
	FindActive(ctx context.Context, accountID uuid.UUID, serverID string) (*SubscriptionWindow, error)

	// ListByAccount returns all windows for an account, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*SubscriptionWindow, error)

	// ListActiveByAccount returns the account's active windows across servers.
	ListActiveByAccount(ctx context.Context, accountID uuid.UUID) ([]*SubscriptionWindow, error)

	// ListExpired returns active windows whose expiry has passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*SubscriptionWindow, error)

	// ListExpiringWithin returns active, not yet warned windows that end
	// inside the lookahead.
	ListExpiringWithin(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]*SubscriptionWindow, error)

	// ListExpiredUnnotified returns expired windows whose expired notice has
	// not been queued.
	ListExpiredUnnotified(ctx context.Context, limit int) ([]*SubscriptionWindow, error)

	// CountActive returns the number of currently active windows.
	CountActive(ctx context.Context) (int64, error)
}

// PaymentRepository defines the interface for the payment ledger.
type PaymentRepository interface {
	// Record inserts a ledger entry. Returns ErrDuplicatePaymentReference
	// if the payment reference was already recorded.
	Record(ctx context.Context, payment *PaymentRecord) error

	// FindByRef finds a ledger entry by payment reference.
	// Returns (nil, nil) when absent.
	FindByRef(ctx context.Context, paymentRef string) (*PaymentRecord, error)

	// Count returns the number of recorded payments.
	Count(ctx context.Context) (int64, error)

	// TotalsByCurrency sums recorded amounts grouped by currency.
	TotalsByCurrency(ctx context.Context) (map[string]int64, error)
}
