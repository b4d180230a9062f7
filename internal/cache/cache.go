// Package cache defines the response cache used in front of feature-info lookups.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// PrefixDeleter is implemented by stores that can drop every key under a
// prefix, e.g. all cached answers of one layer.
type PrefixDeleter interface {
	DelPrefix(ctx context.Context, prefix string) (int, error)
}
