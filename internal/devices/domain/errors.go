package domain

import "errors"

var (
	ErrEmptyFingerprint   = errors.New("fingerprint cannot be empty")
	ErrFingerprintTooLong = errors.New("fingerprint exceeds maximum length")

	// ErrDeviceLimitExceeded rejects a connection that would push the number
	// of fresh devices past the configured maximum.
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")

	ErrBindingExists = errors.New("device binding already recorded")
)
