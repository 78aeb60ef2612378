// Package rediscache adapts a Redis client to the engine's read-view cache.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache implements engine.Cache over go-redis.
type Cache struct {
	client *redis.Client
}

// New returns a Cache backed by the given client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached payload for key, reporting a miss on redis.Nil.
func (cache *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := cache.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Set stores the payload under key with the given TTL.
func (cache *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return cache.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes the given keys. Missing keys are not an error.
func (cache *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return cache.client.Del(ctx, keys...).Err()
}
