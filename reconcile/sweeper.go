package reconcile

import (
	"context"
	"time"

	"cvpay-svc/config"

	"go.uber.org/zap"
)

// Sweeper resolves payments stuck in processing, typically because their
// callback never arrived, by polling the gateway through QueryStatus.
type Sweeper struct {
	coord  *Coordinator
	cfg    config.Sweep
	logger *zap.Logger
}

func NewSweeper(coord *Coordinator, cfg config.Sweep, logger *zap.Logger) *Sweeper {
	return &Sweeper{coord: coord, cfg: cfg, logger: logger}
}

func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Payment sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce polls one batch of stale payments and returns how many reached a
// terminal status.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.coord.now().Add(-s.cfg.StaleAfter)
	orderIDs, err := s.coord.payments.ListStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, orderID := range orderIDs {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		view, err := s.coord.QueryStatus(ctx, orderID)
		if err != nil {
			s.logger.Warn("Failed to poll stale payment", zap.String("order_id", orderID), zap.Error(err))
			continue
		}
		if view.Status.IsTerminal() {
			resolved++
		}
	}

	if len(orderIDs) > 0 {
		s.logger.Info("Payment sweep finished",
			zap.Int("stale", len(orderIDs)),
			zap.Int("resolved", resolved),
		)
	}
	return resolved, nil
}
