package domain

import "errors"

var (
	ErrInvalidInvoice  = errors.New("invoice is missing required fields")
	ErrInvoiceExists   = errors.New("invoice already recorded for this provider reference")
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrProviderUnavailable means the requested payment provider is not
	// configured on this deployment.
	ErrProviderUnavailable = errors.New("payment provider not available")
)
