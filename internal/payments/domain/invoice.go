// Package domain models provider invoices: payment requests handed to an
// external provider and polled until they settle or lapse.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks an invoice through its provider lifecycle.
type Status string

const (
	// StatusPending means the provider has not reported the invoice paid yet.
	StatusPending Status = "pending"
	// StatusSettled means the payment was verified and credited to a window.
	StatusSettled Status = "settled"
	// StatusExpired means the invoice lapsed unpaid and is no longer polled.
	StatusExpired Status = "expired"
)

// Invoice is one payment request issued through an external provider. The
// provider's own invoice ID, not ours, is what the watcher polls with and
// what becomes the payment reference once paid.
type Invoice struct {
	id                uuid.UUID
	accountID         uuid.UUID
	provider          string
	providerInvoiceID string
	planID            string
	serverID          string
	amountMinor       int64
	currency          string
	status            Status
	paymentRef        string
	payURL            string
	createdAt         time.Time
	updatedAt         time.Time
}

// NewInvoice records a freshly created provider invoice as pending.
func NewInvoice(
	accountID uuid.UUID,
	provider string,
	providerInvoiceID string,
	planID string,
	serverID string,
	amountMinor int64,
	currency string,
	payURL string,
	now time.Time,
) (*Invoice, error) {
	if accountID == uuid.Nil {
		return nil, ErrInvalidInvoice
	}
	if provider == "" || providerInvoiceID == "" || planID == "" || serverID == "" {
		return nil, ErrInvalidInvoice
	}
	if amountMinor <= 0 || currency == "" {
		return nil, ErrInvalidInvoice
	}

	return &Invoice{
		id:                uuid.New(),
		accountID:         accountID,
		provider:          provider,
		providerInvoiceID: providerInvoiceID,
		planID:            planID,
		serverID:          serverID,
		amountMinor:       amountMinor,
		currency:          currency,
		status:            StatusPending,
		payURL:            payURL,
		createdAt:         now,
		updatedAt:         now,
	}, nil
}

// RehydrateInvoice reconstructs an invoice from persistence.
func RehydrateInvoice(
	id uuid.UUID,
	accountID uuid.UUID,
	provider string,
	providerInvoiceID string,
	planID string,
	serverID string,
	amountMinor int64,
	currency string,
	status Status,
	paymentRef string,
	payURL string,
	createdAt time.Time,
	updatedAt time.Time,
) *Invoice {
	return &Invoice{
		id:                id,
		accountID:         accountID,
		provider:          provider,
		providerInvoiceID: providerInvoiceID,
		planID:            planID,
		serverID:          serverID,
		amountMinor:       amountMinor,
		currency:          currency,
		status:            status,
		paymentRef:        paymentRef,
		payURL:            payURL,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

func (i *Invoice) ID() uuid.UUID             { return i.id }
func (i *Invoice) AccountID() uuid.UUID      { return i.accountID }
func (i *Invoice) Provider() string          { return i.provider }
func (i *Invoice) ProviderInvoiceID() string { return i.providerInvoiceID }
func (i *Invoice) PlanID() string            { return i.planID }
func (i *Invoice) ServerID() string          { return i.serverID }
func (i *Invoice) AmountMinor() int64        { return i.amountMinor }
func (i *Invoice) Currency() string          { return i.currency }
func (i *Invoice) Status() Status            { return i.status }
func (i *Invoice) PaymentRef() string        { return i.paymentRef }
func (i *Invoice) PayURL() string            { return i.payURL }
func (i *Invoice) CreatedAt() time.Time      { return i.createdAt }
func (i *Invoice) UpdatedAt() time.Time      { return i.updatedAt }

// IsPending reports whether the watcher should still poll this invoice.
func (i *Invoice) IsPending() bool {
	return i.status == StatusPending
}

// TTLExceeded reports whether a pending invoice has outlived its allotted
// payment window and should stop being polled.
func (i *Invoice) TTLExceeded(now time.Time, ttl time.Duration) bool {
	return i.status == StatusPending && !now.Before(i.createdAt.Add(ttl))
}
