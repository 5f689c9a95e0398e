package common

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/guarzo/qualityapi/common"
)

const (
	DefaultExpiration = 5 * time.Minute
	cleanupInterval   = 10 * time.Minute
)

var _ common.CacheRepository = (*cacheStore)(nil)

type cacheStore struct {
	cache *cache.Cache
}

// NewCacheStore returns an in-process CacheRepository.
func NewCacheStore() common.CacheRepository {
	return &cacheStore{
		cache: cache.New(DefaultExpiration, cleanupInterval),
	}
}

func (c *cacheStore) Get(_ context.Context, key string) ([]byte, bool) {
	value, found := c.cache.Get(key)
	if found {
		return value.([]byte), true
	}
	return nil, false
}

func (c *cacheStore) Delete(_ context.Context, key string) {
	c.cache.Delete(key)
}

func (c *cacheStore) Set(_ context.Context, key string, value []byte, expiration time.Duration) {
	c.cache.Set(key, value, expiration)
}
