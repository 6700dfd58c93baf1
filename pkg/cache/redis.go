package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces cache entries in Redis.
const RedisKeyPrefix = "dishfinder:cache:"

// RedisBackend stores entries as JSON strings in Redis.
type RedisBackend struct {
	redis *redis.Client

	// retention keeps expired entries readable for this long past ExpiresAt
	// before Redis reclaims them. Zero disables Redis-side expiry entirely.
	retention time.Duration
}

// NewRedisBackend creates a Redis-backed cache store.
func NewRedisBackend(redisClient *redis.Client, retention time.Duration) *RedisBackend {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisBackend{
		redis:     redisClient,
		retention: retention,
	}
}

// Get retrieves the entry stored for key, expired or not.
func (b *RedisBackend) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := b.redis.Get(ctx, RedisKeyPrefix+key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Put upserts the entry. SET replaces any previous value for the key.
func (b *RedisBackend) Put(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	var expiration time.Duration
	if b.retention > 0 {
		expiration = entry.TTL() + b.retention
	}

	if err := b.redis.Set(ctx, RedisKeyPrefix+entry.Key.String(), data, expiration).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.redis.Ping(ctx).Err()
}
