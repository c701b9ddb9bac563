package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisLimiter(t *testing.T, requests int, window time.Duration, now *time.Time) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	l := NewRedisLimiter(rdb, requests, window)
	l.now = func() time.Time { return *now }
	return l, mr
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 20, 0, time.UTC)
	l, _ := setupRedisLimiter(t, 3, time.Minute, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := l.Allow(ctx, "/api/payments/status|10.0.0.1")
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}

	allowed, retryAfter, err := l.Allow(ctx, "/api/payments/status|10.0.0.1")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if allowed {
		t.Fatal("Expected fourth request to be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("Expected Retry-After within the window, got %s", retryAfter)
	}
	if retryAfter != 40*time.Second {
		t.Errorf("Expected Retry-After 40s, got %s", retryAfter)
	}

	// Other clients have their own counter.
	if allowed, _, _ := l.Allow(ctx, "/api/payments/status|10.0.0.2"); !allowed {
		t.Error("Expected a different key to be allowed")
	}

	now = now.Add(45 * time.Second)
	if allowed, _, err := l.Allow(ctx, "/api/payments/status|10.0.0.1"); err != nil || !allowed {
		t.Errorf("Expected the next window to allow again, got allowed=%v err=%v", allowed, err)
	}
}

func TestRedisLimiter_CounterExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l, mr := setupRedisLimiter(t, 1, time.Minute, &now)

	if _, _, err := l.Allow(context.Background(), "k"); err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}

	key := "ratelimit:k:" + "1704103200"
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected counter TTL within the window, got %s", ttl)
	}
}

func TestRedisLimiter_BackendError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	l := NewRedisLimiter(rdb, 1, time.Minute)

	if _, _, err := l.Allow(context.Background(), "k"); err == nil {
		t.Error("Expected an error when Redis is unavailable")
	}
}
