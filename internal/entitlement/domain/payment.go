package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentRecord is the ledger entry that makes purchase confirmation
// idempotent. The payment reference is unique across all providers; a
// second confirmation with the same reference is detected by the insert
// failing, not by reading first.
type PaymentRecord struct {
	PaymentRef  string
	AccountID   uuid.UUID
	WindowID    uuid.UUID
	Provider    string
	PlanID      string
	AmountMinor int64
	Currency    string
	ProcessedAt time.Time
}

// NewPaymentRecord validates and builds a ledger entry.
func NewPaymentRecord(paymentRef string, accountID, windowID uuid.UUID, provider, planID string, amountMinor int64, currency string, processedAt time.Time) (*PaymentRecord, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, ErrEmptyPaymentReference
	}

	return &PaymentRecord{
		PaymentRef:  paymentRef,
		AccountID:   accountID,
		WindowID:    windowID,
		Provider:    provider,
		PlanID:      planID,
		AmountMinor: amountMinor,
		Currency:    currency,
		ProcessedAt: processedAt,
	}, nil
}
