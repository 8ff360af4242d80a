package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimitResult is the outcome of one Allow call
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	RetryIn   time.Duration
}

// RateLimiter counts requests per key in fixed windows shared by every instance
type RateLimiter struct {
	client *Client
	prefix string
}

// NewRateLimiter creates a RateLimiter. An empty prefix uses "thistle:ratelimit:".
func NewRateLimiter(client *Client, prefix string) *RateLimiter {
	if prefix == "" {
		prefix = "thistle:ratelimit:"
	}
	return &RateLimiter{client: client, prefix: prefix}
}

func (r *RateLimiter) windowKey(key string, start time.Time) string {
	return r.prefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// Allow counts one request against key and reports whether it fits in limit for the
// current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	now := time.Now()
	start := now.Truncate(window)
	end := start.Add(window)
	k := r.windowKey(key, start)

	var count *goredis.IntCmd
	_, err := r.client.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		count = pipe.Incr(ctx, k)
		pipe.PExpireAt(ctx, k, end)
		return nil
	})
	if err != nil {
		return nil, err
	}

	used := count.Val()
	if used > limit {
		return &RateLimitResult{RetryIn: end.Sub(now)}, nil
	}
	return &RateLimitResult{Allowed: true, Remaining: limit - used}, nil
}

// Reset clears key's count for the current window
func (r *RateLimiter) Reset(ctx context.Context, key string, window time.Duration) error {
	return r.client.rdb.Del(ctx, r.windowKey(key, time.Now().Truncate(window))).Err()
}
