package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxFingerprintLength caps stored fingerprints; anything longer is neither
// an IP nor a device token.
const MaxFingerprintLength = 256

// DeviceBinding records one fingerprint recently seen connecting as an
// account. Bindings are evidence, not grants: the device limit counts the
// set of fresh bindings, not open connections.
type DeviceBinding struct {
	id          uuid.UUID
	accountID   uuid.UUID
	fingerprint string
	firstSeenAt time.Time
	lastSeenAt  time.Time
}

// NewDeviceBinding records a fingerprint first seen now.
func NewDeviceBinding(accountID uuid.UUID, fingerprint string, now time.Time) (*DeviceBinding, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, ErrEmptyFingerprint
	}
	if len(fingerprint) > MaxFingerprintLength {
		return nil, ErrFingerprintTooLong
	}

	return &DeviceBinding{
		id:          uuid.New(),
		accountID:   accountID,
		fingerprint: fingerprint,
		firstSeenAt: now,
		lastSeenAt:  now,
	}, nil
}

// Getters
func (b *DeviceBinding) ID() uuid.UUID          { return b.id }
func (b *DeviceBinding) AccountID() uuid.UUID   { return b.accountID }
func (b *DeviceBinding) Fingerprint() string    { return b.fingerprint }
func (b *DeviceBinding) FirstSeenAt() time.Time { return b.firstSeenAt }
func (b *DeviceBinding) LastSeenAt() time.Time  { return b.lastSeenAt }

// IsFresh reports whether the binding was seen within the freshness window
// ending at now.
func (b *DeviceBinding) IsFresh(now time.Time, window time.Duration) bool {
	return !b.lastSeenAt.Before(now.Add(-window))
}

// RehydrateDeviceBinding recreates a binding from persisted state.
func RehydrateDeviceBinding(id, accountID uuid.UUID, fingerprint string, firstSeenAt, lastSeenAt time.Time) *DeviceBinding {
	return &DeviceBinding{
		id:          id,
		accountID:   accountID,
		fingerprint: fingerprint,
		firstSeenAt: firstSeenAt,
		lastSeenAt:  lastSeenAt,
	}
}
