package common

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/guarzo/qualityapi/common"
)

var _ common.CacheRepository = (*redisStore)(nil)

// redisStore keeps cached responses under "<prefix><key>" with the entry TTL.
// Redis errors are logged and treated as misses; the cache never fails a read.
type redisStore struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedisCacheStore wraps an existing client. Prefix may be empty.
func NewRedisCacheStore(client *redis.Client, prefix string, log zerolog.Logger) common.CacheRepository {
	if prefix == "" {
		prefix = "qualityapi:"
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (r *redisStore) key(k string) string {
	return r.prefix + k
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		return nil, false
	}
	return b, true
}

func (r *redisStore) Set(ctx context.Context, key string, value []byte, expiration time.Duration) {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	if err := r.client.Set(ctx, r.key(key), value, expiration).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("redis cache set failed")
	}
}

func (r *redisStore) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("redis cache delete failed")
	}
}
