package conditions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const missMarker = "none"

// CachedThresholds caches another provider's answers in Redis, including
// misses, so repeated checks against the same tenant and category skip the
// database. Redis failures fall through to the wrapped provider.
type CachedThresholds struct {
	client *redis.Client
	next   ThresholdProvider
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// CacheOption configures a CachedThresholds.
type CacheOption func(*CachedThresholds)

// WithTTL sets how long a cached threshold lives. Default is 5 minutes.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CachedThresholds) { c.ttl = ttl }
}

// WithPrefix sets the Redis key prefix. Default is "autoprogress".
func WithPrefix(prefix string) CacheOption {
	return func(c *CachedThresholds) { c.prefix = prefix }
}

// WithCacheLogger sets the logger used for Redis errors.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *CachedThresholds) { c.logger = l }
}

// NewCachedThresholds wraps next with a Redis cache.
func NewCachedThresholds(client *redis.Client, next ThresholdProvider, opts ...CacheOption) *CachedThresholds {
	c := &CachedThresholds{
		client: client,
		next:   next,
		ttl:    5 * time.Minute,
		prefix: "autoprogress",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve implements ThresholdProvider.
func (c *CachedThresholds) Resolve(ctx context.Context, tenant, category string) (int, bool, error) {
	key := c.key(tenant, category)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == missMarker {
			return 0, false, nil
		}
		if n, convErr := strconv.Atoi(cached); convErr == nil {
			return n, true, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "threshold cache read failed", slog.String("error", err.Error()))
	}

	maxRisk, ok, err := c.next.Resolve(ctx, tenant, category)
	if err != nil {
		return 0, false, err
	}

	value := missMarker
	if ok {
		value = strconv.Itoa(maxRisk)
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "threshold cache write failed", slog.String("error", err.Error()))
	}
	return maxRisk, ok, nil
}

// Invalidate drops every cached threshold for tenant.
func (c *CachedThresholds) Invalidate(ctx context.Context, tenant string) error {
	pattern := fmt.Sprintf("%s:threshold:%s:*", c.prefix, url.PathEscape(tenant))
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (c *CachedThresholds) key(tenant, category string) string {
	return fmt.Sprintf("%s:threshold:%s:%s", c.prefix, url.PathEscape(tenant), url.PathEscape(category))
}

var _ ThresholdProvider = (*CachedThresholds)(nil)
