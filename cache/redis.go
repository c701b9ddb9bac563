package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cvpay-svc/config"
	"cvpay-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(cfg config.Redis, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr))
	return rdb, nil
}

// StatusCache keeps the answers for payments that are already terminal, which
// never change again.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusCache(rdb redis.Cmdable, ttl time.Duration) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: ttl}
}

func statusKey(orderID string) string {
	return fmt.Sprintf("payment_status:%s", orderID)
}

func (s *StatusCache) Get(ctx context.Context, orderID string) (models.PaymentStatusResponse, bool, error) {
	var resp models.PaymentStatusResponse
	data, err := s.rdb.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return resp, false, nil
	}
	if err != nil {
		return resp, false, err
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, false, fmt.Errorf("failed to decode cached status: %w", err)
	}
	return resp, true, nil
}

// Set stores resp if it is terminal and ignores it otherwise.
func (s *StatusCache) Set(ctx context.Context, orderID string, resp models.PaymentStatusResponse) error {
	if !resp.Status.IsTerminal() {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, statusKey(orderID), data, s.ttl).Err()
}
