package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every instance talking to
// the same Redis.
type RedisLimiter struct {
	rdb      redis.Cmdable
	requests int64
	window   time.Duration
	prefix   string
	now      func() time.Time
}

func NewRedisLimiter(rdb redis.Cmdable, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:      rdb,
		requests: int64(requests),
		window:   window,
		prefix:   "ratelimit",
		now:      time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, windowStart.Unix())

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit counter: %w", err)
	}

	if incr.Val() > l.requests {
		return false, windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}
