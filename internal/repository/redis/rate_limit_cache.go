package redis

import (
	"context"
	"time"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/client"
)

const loginRatePrefix = "login_rate:"

// RateLimitCache counts login requests per key inside a rolling window.
type RateLimitCache struct {
	client *client.RedisClient
	limit  int64
	window time.Duration
}

func NewRateLimitCache(redisClient *client.RedisClient, limit int, window time.Duration) *RateLimitCache {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RateLimitCache{
		client: redisClient,
		limit:  int64(limit),
		window: window,
	}
}

// Allow counts the attempt and reports whether the caller is still inside
// the limit.
func (c *RateLimitCache) Allow(ctx context.Context, key string) (bool, error) {
	count, err := c.client.IncrWithExpire(ctx, loginRatePrefix+key, c.window)
	if err != nil {
		return false, err
	}
	return count <= c.limit, nil
}
