package domain

import (
	"time"

	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/google/uuid"
)

const (
	accountAggregateType = "Account"
	windowAggregateType  = "SubscriptionWindow"
)

// AccountRegistered is emitted when a Telegram user first appears.
type AccountRegistered struct {
	sharedDomain.BaseEvent
	AccountID  uuid.UUID `json:"account_id"`
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username,omitempty"`
}

// NewAccountRegistered creates an AccountRegistered event.
func NewAccountRegistered(a *Account) *AccountRegistered {
	return &AccountRegistered{
		BaseEvent:  sharedDomain.NewBaseEvent(a.ID(), accountAggregateType, "entitlement.account.registered"),
		AccountID:  a.ID(),
		TelegramID: a.TelegramID().Int64(),
		Username:   a.Username(),
	}
}

// AccountBanned is emitted when an account is blocked.
type AccountBanned struct {
	sharedDomain.BaseEvent
	AccountID  uuid.UUID `json:"account_id"`
	TelegramID int64     `json:"telegram_id"`
}

// NewAccountBanned creates an AccountBanned event.
func NewAccountBanned(a *Account) *AccountBanned {
	return &AccountBanned{
		BaseEvent:  sharedDomain.NewBaseEvent(a.ID(), accountAggregateType, "entitlement.account.banned"),
		AccountID:  a.ID(),
		TelegramID: a.TelegramID().Int64(),
	}
}

// AccountUnbanned is emitted when a ban is lifted.
type AccountUnbanned struct {
	sharedDomain.BaseEvent
	AccountID  uuid.UUID `json:"account_id"`
	TelegramID int64     `json:"telegram_id"`
}

// NewAccountUnbanned creates an AccountUnbanned event.
func NewAccountUnbanned(a *Account) *AccountUnbanned {
	return &AccountUnbanned{
		BaseEvent:  sharedDomain.NewBaseEvent(a.ID(), accountAggregateType, "entitlement.account.unbanned"),
		AccountID:  a.ID(),
		TelegramID: a.TelegramID().Int64(),
	}
}

// TrialActivated is emitted when an account consumes its trial.
type TrialActivated struct {
	sharedDomain.BaseEvent
	AccountID uuid.UUID `json:"account_id"`
	WindowID  uuid.UUID `json:"window_id"`
	ServerID  string    `json:"server_id"`
	Days      int       `json:"days"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTrialActivated creates a TrialActivated event.
func NewTrialActivated(a *Account, w *SubscriptionWindow, days int) *TrialActivated {
	return &TrialActivated{
		BaseEvent: sharedDomain.NewBaseEvent(a.ID(), accountAggregateType, "entitlement.trial.activated"),
		AccountID: a.ID(),
		WindowID:  w.ID(),
		ServerID:  w.ServerID(),
		Days:      days,
		ExpiresAt: w.ExpiresAt(),
	}
}

// WindowProvisioned is emitted when a window opens and access must be granted.
type WindowProvisioned struct {
	sharedDomain.BaseEvent
	WindowID  uuid.UUID `json:"window_id"`
	AccountID uuid.UUID `json:"account_id"`
	ServerID  string    `json:"server_id"`
	Source    string    `json:"source"`
	StartsAt  time.Time `json:"starts_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewWindowProvisioned creates a WindowProvisioned event.
func NewWindowProvisioned(w *SubscriptionWindow) *WindowProvisioned {
	return &WindowProvisioned{
		BaseEvent: sharedDomain.NewBaseEvent(w.ID(), windowAggregateType, "entitlement.window.provisioned"),
		WindowID:  w.ID(),
		AccountID: w.AccountID(),
		ServerID:  w.ServerID(),
		Source:    string(w.Source()),
		StartsAt:  w.StartsAt(),
		ExpiresAt: w.ExpiresAt(),
	}
}

// WindowExtended is emitted when a paid extension moves the expiry out.
type WindowExtended struct {
	sharedDomain.BaseEvent
	WindowID  uuid.UUID `json:"window_id"`
	AccountID uuid.UUID `json:"account_id"`
	ServerID  string    `json:"server_id"`
	AddedDays int       `json:"added_days"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewWindowExtended creates a WindowExtended event.
func NewWindowExtended(w *SubscriptionWindow, addedDays int) *WindowExtended {
	return &WindowExtended{
		BaseEvent: sharedDomain.NewBaseEvent(w.ID(), windowAggregateType, "entitlement.window.extended"),
		WindowID:  w.ID(),
		AccountID: w.AccountID(),
		ServerID:  w.ServerID(),
		AddedDays: addedDays,
		ExpiresAt: w.ExpiresAt(),
	}
}

// WindowDeprovisioned is emitted exactly once per window when access must be
// withdrawn, whether by expiry or revocation.
type WindowDeprovisioned struct {
	sharedDomain.BaseEvent
	WindowID  uuid.UUID `json:"window_id"`
	AccountID uuid.UUID `json:"account_id"`
	ServerID  string    `json:"server_id"`
	Reason    string    `json:"reason"`
}

// NewWindowDeprovisioned creates a WindowDeprovisioned event.
func NewWindowDeprovisioned(w *SubscriptionWindow, reason DeprovisionReason) *WindowDeprovisioned {
	return &WindowDeprovisioned{
		BaseEvent: sharedDomain.NewBaseEvent(w.ID(), windowAggregateType, "entitlement.window.deprovisioned"),
		WindowID:  w.ID(),
		AccountID: w.AccountID(),
		ServerID:  w.ServerID(),
		Reason:    string(reason),
	}
}

// ExpiryNotificationDue is emitted when the user should be told their window
// is about to end or has ended.
type ExpiryNotificationDue struct {
	sharedDomain.BaseEvent
	WindowID  uuid.UUID `json:"window_id"`
	AccountID uuid.UUID `json:"account_id"`
	ServerID  string    `json:"server_id"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewExpiryNotificationDue creates an ExpiryNotificationDue event.
func NewExpiryNotificationDue(w *SubscriptionWindow, threshold Threshold) *ExpiryNotificationDue {
	return &ExpiryNotificationDue{
		BaseEvent: sharedDomain.NewBaseEvent(w.ID(), windowAggregateType, "notification.expiry.due"),
		WindowID:  w.ID(),
		AccountID: w.AccountID(),
		ServerID:  w.ServerID(),
		Kind:      string(threshold),
		ExpiresAt: w.ExpiresAt(),
	}
}

// PaymentRecorded is emitted when a payment reference enters the ledger.
type PaymentRecorded struct {
	sharedDomain.BaseEvent
	PaymentRef  string    `json:"payment_ref"`
	AccountID   uuid.UUID `json:"account_id"`
	WindowID    uuid.UUID `json:"window_id"`
	Provider    string    `json:"provider"`
	PlanID      string    `json:"plan_id"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency,omitempty"`
}

// NewPaymentRecorded creates a PaymentRecorded event.
func NewPaymentRecorded(w *SubscriptionWindow, p *PaymentRecord) *PaymentRecorded {
	return &PaymentRecorded{
		BaseEvent:   sharedDomain.NewBaseEvent(w.ID(), windowAggregateType, "entitlement.payment.recorded"),
		PaymentRef:  p.PaymentRef,
		AccountID:   p.AccountID,
		WindowID:    p.WindowID,
		Provider:    p.Provider,
		PlanID:      p.PlanID,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
	}
}
