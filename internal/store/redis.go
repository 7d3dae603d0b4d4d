package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on plain Redis string keys. Values are
// written without expiry.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		return data, nil
	}

	// Cache miss: read from primary.
	data, err = s.primary.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, cacheKey(key), data, s.ttl)
	return data, nil
}

func (s *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		// The cached copy may now be ahead of or behind the primary.
		s.rdb.Del(ctx, cacheKey(key))
		return err
	}
	s.rdb.Set(ctx, cacheKey(key), value, s.ttl)
	return nil
}

func cacheKey(key string) string { return fmt.Sprintf("kvcache:%s", key) }
