package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache is an in-process FreshnessCache for tests and installs that
// run without Redis.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryCache creates a new in-memory freshness cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]time.Time)}
}

// IsFresh reports whether the fingerprint was marked within its TTL.
func (c *MemoryCache) IsFresh(_ context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := accountID.String() + ":" + fingerprint
	expiry, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

// Mark records the fingerprint as counted for the given TTL.
func (c *MemoryCache) Mark(_ context.Context, accountID uuid.UUID, fingerprint string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[accountID.String()+":"+fingerprint] = time.Now().Add(ttl)
	return nil
}

var _ FreshnessCache = (*MemoryCache)(nil)
