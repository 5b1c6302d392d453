package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSessionMissCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionMissCache(client redis.UniversalClient, prefix string) *RedisSessionMissCache {
	if prefix == "" {
		prefix = "session_miss"
	}
	return &RedisSessionMissCache{client: client, prefix: prefix}
}

func (c *RedisSessionMissCache) Seen(ctx context.Context, sessionID string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisSessionMissCache) Remember(ctx context.Context, sessionID string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 || sessionID == "" {
		return nil
	}
	return c.client.Set(ctx, c.key(sessionID), "1", ttl).Err()
}

// Session ids are hashed so the cache never holds a usable identifier.
func (c *RedisSessionMissCache) key(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}
