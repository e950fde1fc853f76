package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BindingRepository defines the interface for device binding persistence.
type BindingRepository interface {
	// LockAccount serializes binding writes for one account within the
	// current transaction. Admission decisions made after the lock cannot
	// race each other past the device limit.
	LockAccount(ctx context.Context, accountID uuid.UUID) error

	// Insert stores a new binding. Returns ErrBindingExists when the
	// fingerprint is already recorded for the account.
	Insert(ctx context.Context, binding *DeviceBinding) error

	// Touch bumps last_seen_at for an existing binding and reports the
	// number of rows refreshed (0 when the binding is absent).
	Touch(ctx context.Context, accountID uuid.UUID, fingerprint string, seenAt time.Time) (int64, error)

	// Find returns the binding for a fingerprint. Returns (nil, nil) when
	// absent.
	Find(ctx context.Context, accountID uuid.UUID, fingerprint string) (*DeviceBinding, error)

	// ListByAccount returns the account's bindings, most recently seen first.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*DeviceBinding, error)

	// CountFresh counts bindings seen at or after the cutoff.
	CountFresh(ctx context.Context, accountID uuid.UUID, since time.Time) (int64, error)

	// DeleteStale removes bindings last seen before the cutoff and returns
	// the number removed.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}
