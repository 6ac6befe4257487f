package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis wraps the shared redis client
type Redis struct {
	Client *redis.Client
}

// New connects to redis from a URL. The cache is optional infrastructure:
// callers must treat a nil *Redis or a cache error as a miss.
func New(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	log.Info().Msg("Redis connection established")
	return &Redis{Client: client}, nil
}

// Close closes the redis client
func (r *Redis) Close() {
	if r == nil || r.Client == nil {
		return
	}
	if err := r.Client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close redis client")
	}
}

// GetString returns the cached value and whether it was present.
// Errors are treated as misses.
func (r *Redis) GetString(ctx context.Context, key string) (string, bool) {
	if r == nil || r.Client == nil {
		return "", false
	}
	val, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("Redis GET failed")
		}
		return "", false
	}
	return val, true
}

// SetString stores a value with a TTL, best-effort.
func (r *Redis) SetString(ctx context.Context, key, value string, ttl time.Duration) {
	if r == nil || r.Client == nil {
		return
	}
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis SET failed")
	}
}

// Delete removes a key, best-effort.
func (r *Redis) Delete(ctx context.Context, key string) {
	if r == nil || r.Client == nil {
		return
	}
	if err := r.Client.Del(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis DEL failed")
	}
}
