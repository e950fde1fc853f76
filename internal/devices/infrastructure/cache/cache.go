// Package cache tracks fingerprints counted within the freshness window so
// repeat connection reports can skip the SQL admission path.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FreshnessCache remembers fingerprints recently admitted for an account.
// The SQL store stays authoritative: a cache hit can only short-circuit a
// refresh, never admit a new fingerprint.
type FreshnessCache interface {
	// IsFresh reports whether the fingerprint was marked within its TTL.
	IsFresh(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error)

	// Mark records the fingerprint as counted for the given TTL.
	Mark(ctx context.Context, accountID uuid.UUID, fingerprint string, ttl time.Duration) error
}
