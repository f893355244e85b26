package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/metrics"
)

const keyPrefix = "finance:"

// ReadCache caches admin read models in Redis. A nil client degrades to no caching.
type ReadCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *logrus.Logger
}

// NewReadCache creates a cache over an existing client
func NewReadCache(client redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *ReadCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ReadCache{client: client, ttl: ttl, logger: logger}
}

// Connect parses the redis URL and pings it. On failure the returned cache is
// disabled rather than failing startup.
func Connect(ctx context.Context, url string, ttl time.Duration, logger *logrus.Logger) (*ReadCache, redis.UniversalClient) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.WithError(err).Warn("Invalid REDIS_URL, caching disabled")
		return NewReadCache(nil, ttl, logger), nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unavailable, caching disabled")
		_ = client.Close()
		return NewReadCache(nil, ttl, logger), nil
	}
	return NewReadCache(client, ttl, logger), client
}

// SellerRiskKey is the cache key of a seller's risk view
func SellerRiskKey(sellerID uuid.UUID) string {
	return keyPrefix + "seller:" + sellerID.String() + ":risk"
}

// SellerPattern matches every cached entry of one seller
func SellerPattern(sellerID uuid.UUID) string {
	return keyPrefix + "seller:" + sellerID.String() + ":*"
}

// RiskySellersKey is the cache key of the risky-seller listing for a limit
func RiskySellersKey(limit int) string {
	return fmt.Sprintf("%srisky:%d", keyPrefix, limit)
}

// Shared keys and patterns
const (
	RiskySellersPattern = keyPrefix + "risky:*"
	SystemStateKey      = keyPrefix + "system:state"
	SystemPattern       = keyPrefix + "system:*"
)

// Get loads a cached value into dest. It reports whether the key was present.
func (c *ReadCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return true, nil
}

// Set stores a value with the default TTL
func (c *ReadCache) Set(ctx context.Context, key string, value interface{}) error {
	if c.client == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate removes specific keys
func (c *ReadCache) Invalidate(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidatePattern removes every key matching a glob pattern
func (c *ReadCache) InvalidatePattern(ctx context.Context, pattern string) error {
	if c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Forget invalidates patterns and logs failures; stale entries expire with the TTL.
func (c *ReadCache) Forget(ctx context.Context, patterns ...string) {
	for _, pattern := range patterns {
		if err := c.InvalidatePattern(ctx, pattern); err != nil {
			c.logger.WithError(err).WithField("pattern", pattern).Warn("Failed to invalidate cache")
		}
	}
}

// IsAvailable returns true if the cache is backed by redis
func (c *ReadCache) IsAvailable() bool {
	return c.client != nil
}

// Remember returns the cached value for key, or loads and caches it. Cache
// errors fall through to the loader.
func Remember[T any](ctx context.Context, c *ReadCache, key string, load func(context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := c.Get(ctx, key, &cached)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
	}
	if hit {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if err := c.Set(ctx, key, value); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
	return value, nil
}
