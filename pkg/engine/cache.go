package engine

import (
	"context"
	"time"
)

// Cache accelerates the aggregated read views. It is never the source of
// truth: every mutation invalidates the affected keys, and a miss always
// falls through to the store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// NopCache disables caching.
type NopCache struct{}

func (NopCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (NopCache) Delete(ctx context.Context, keys ...string) error {
	return nil
}

func walletCacheKey(userID string) string {
	return "rewards:wallet:" + userID
}

func petCacheKey(petID string) string {
	return "rewards:pet:" + petID
}
