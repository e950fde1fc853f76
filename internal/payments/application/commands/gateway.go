package commands

import (
	"context"
	"time"
)

// PaymentStatus is a provider's view of one of its invoices.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentExpired PaymentStatus = "expired"
)

// GatewayInvoiceRequest describes the invoice a gateway should open.
type GatewayInvoiceRequest struct {
	AmountMinor int64
	Currency    string
	Description string
	// TTL is how long the provider should keep the invoice payable.
	TTL time.Duration
}

// GatewayInvoice is the provider's handle on a created invoice.
type GatewayInvoice struct {
	ProviderInvoiceID string
	PayURL            string
}

// Gateway is one external payment provider the bot sells through.
// Telegram Stars never appear here; they settle in-band through the bot
// update stream rather than by polling.
type Gateway interface {
	Name() string
	CreateInvoice(ctx context.Context, req GatewayInvoiceRequest) (*GatewayInvoice, error)
	CheckInvoice(ctx context.Context, providerInvoiceID string) (PaymentStatus, error)
}
