package common

import (
	"context"
	"time"
)

// CacheRepository defines a minimal interface for a key/value cache.
// The values are stored as raw []byte, which callers marshal/unmarshal
// from JSON as needed.
//
// Backends live in modules/common:
//   - an in-memory store
//   - Redis
type CacheRepository interface {
	Get(ctx context.Context, key string) (value []byte, found bool)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration)
	Delete(ctx context.Context, key string)
}
