package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements FreshnessCache on a namespaced Redis keyspace.
// Keys expire on their own, so eviction needs no bookkeeping here.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis-backed freshness cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// key creates a fully-qualified key: device:{account_id}:{fingerprint}
func (c *RedisCache) key(accountID uuid.UUID, fingerprint string) string {
	return fmt.Sprintf("device:%s:%s", accountID, fingerprint)
}

// IsFresh reports whether the fingerprint was marked within its TTL.
func (c *RedisCache) IsFresh(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	count, err := c.client.Exists(ctx, c.key(accountID, fingerprint)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Mark records the fingerprint as counted for the given TTL.
func (c *RedisCache) Mark(ctx context.Context, accountID uuid.UUID, fingerprint string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(accountID, fingerprint), "1", ttl).Err()
}

var _ FreshnessCache = (*RedisCache)(nil)
