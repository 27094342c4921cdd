package clientdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared across instances. Expiry is left to Redis
// key TTLs, so GetStale only sees entries that have not expired yet.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisStore creates a Redis-backed store. If namespace is empty, it uses "frontier".
func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "frontier"
	}
	return &RedisStore{rdb: rdb, namespace: namespace}
}

func (s *RedisStore) cacheKey(key string) string {
	return s.namespace + ":" + key
}

// Get returns a cached entry.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get dataset %s: %w", key, err)
	}
	return b, true, nil
}

// GetStale is Get; Redis has already dropped anything expired.
func (s *RedisStore) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	return s.Get(ctx, key)
}

// Put stores data under namespace:key with a TTL.
// Keys start with the source, which DeleteSource relies on.
func (s *RedisStore) Put(ctx context.Context, key, source string, data []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("cache key is required")
	}
	if err := s.rdb.Set(ctx, s.cacheKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store dataset %s: %w", key, err)
	}
	return nil
}

// Delete removes one entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w", key, err)
	}
	return nil
}

// DeleteSource deletes every key under namespace:source: using SCAN.
func (s *RedisStore) DeleteSource(ctx context.Context, source string) (int64, error) {
	pattern := s.cacheKey(source) + ":*"
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, cur, err := s.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys of %s: %w", source, err)
			}
			deleted += n
		}
		cursor = cur
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

// DeleteExpired is a no-op: Redis evicts expired keys itself.
func (s *RedisStore) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}
