package fraud

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const velocityPrefix = "fraud:velocity:"

// RedisVelocity counts transactions per principal in a fixed window using a
// Redis counter with TTL, so the state survives restarts and is shared across
// instances.
type RedisVelocity struct {
	cache  *redis.Client
	window time.Duration
}

// NewRedisVelocity builds a velocity counter over the given window.
func NewRedisVelocity(cache *redis.Client, window time.Duration) *RedisVelocity {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisVelocity{cache: cache, window: window}
}

// Observe increments and returns the principal's count in the current window.
func (v *RedisVelocity) Observe(ctx context.Context, principal string) (int64, error) {
	key := velocityPrefix + principal
	count, err := v.cache.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		v.cache.Expire(ctx, key, v.window)
	}
	return count, nil
}
