package cache

import (
	"context"
	"time"
)

// BytesCache: простой KV-кеш для сериализованных read-моделей.
// Get returns ok=false on a miss, never an error.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
