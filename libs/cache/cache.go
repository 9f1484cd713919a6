package cache

import (
	"context"
	"time"
)

// Cache is the key-value contract shared by the remote (Redis) and in-process
// implementations. A ttl of zero means the entry does not expire.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns (nil, false, nil) on a miss. An expired entry is a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
