package ports

import (
	"context"
	"time"
)

// DurableTier is the optional persistent backing store of the caches.
// A zero ttl stores the value without expiry.
type DurableTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}
