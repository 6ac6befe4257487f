package knowledge

import (
	"context"
	"time"

	"github.com/leadline-ai/leadline/internal/cache"
)

// CachedProvider is a read-through TTL cache in front of a Provider.
// Cache errors count as misses; the underlying provider remains the source
// of truth.
type CachedProvider struct {
	inner Provider
	redis *cache.Redis
	ttl   time.Duration
}

// NewCachedProvider wraps a provider with a redis cache
func NewCachedProvider(inner Provider, redis *cache.Redis, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		redis: redis,
		ttl:   ttl,
	}
}

// FetchContext returns the cached block when present, otherwise fetches and
// caches it. Only successful fetches are cached, so a degraded provider is
// retried on the next request.
func (c *CachedProvider) FetchContext(ctx context.Context, sourceRef string) (string, error) {
	if sourceRef == "" {
		return "", nil
	}

	key := "knowledge:" + sourceRef
	if val, ok := c.redis.GetString(ctx, key); ok {
		return val, nil
	}

	block, err := c.inner.FetchContext(ctx, sourceRef)
	if err != nil {
		return "", err
	}

	c.redis.SetString(ctx, key, block, c.ttl)
	return block, nil
}

// Invalidate drops the cached block for a source
func (c *CachedProvider) Invalidate(ctx context.Context, sourceRef string) {
	c.redis.Delete(ctx, "knowledge:"+sourceRef)
}
