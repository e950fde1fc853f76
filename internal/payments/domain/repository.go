package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvoiceRepository persists provider invoices.
//
// Find methods return (nil, nil) when no invoice matches. The Mark methods
// transition only out of pending and report whether a row moved, so a
// watcher pass that lost a race observes false instead of double-settling.
type InvoiceRepository interface {
	// Insert stores a new invoice. A duplicate (provider, providerInvoiceID)
	// pair returns ErrInvoiceExists.
	Insert(ctx context.Context, invoice *Invoice) error

	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	FindByProviderRef(ctx context.Context, provider, providerInvoiceID string) (*Invoice, error)

	// ListPending returns pending invoices, oldest first.
	ListPending(ctx context.Context, limit int) ([]*Invoice, error)

	// MarkSettled records the verified payment reference. Returns false when
	// the invoice was not pending.
	MarkSettled(ctx context.Context, id uuid.UUID, paymentRef string, now time.Time) (bool, error)

	// MarkExpired closes a pending invoice that lapsed unpaid. Returns false
	// when the invoice was not pending.
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}
