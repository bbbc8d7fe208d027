package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDepthTTL = 5 * time.Second

// RedisDepthCache stores the latest depth snapshot per pair as JSON with a
// short TTL. Stale entries expire on their own, so the cache never serves a
// book that the engine stopped updating.
type RedisDepthCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDepthCache(client *redis.Client, prefix string, ttl time.Duration) *RedisDepthCache {
	if prefix == "" {
		prefix = "depth"
	}
	if ttl <= 0 {
		ttl = defaultDepthTTL
	}
	return &RedisDepthCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisDepthCache) key(base, quote string) string {
	return c.prefix + ":" + base + "/" + quote
}

func (c *RedisDepthCache) Store(ctx context.Context, snap *BookSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(snap.BaseToken, snap.QuoteToken), b, c.ttl).Err()
}

// Load returns the cached snapshot for a pair, or nil when none is cached.
func (c *RedisDepthCache) Load(ctx context.Context, base, quote string) (*BookSnapshot, error) {
	b, err := c.client.Get(ctx, c.key(base, quote)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var snap BookSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

var _ DepthCache = (*RedisDepthCache)(nil)
