package sweeper

import (
	"context"
	"time"

	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sweeper periodically releases the reservations of open carts whose window
// has elapsed. Per-cart, not cross-cart, transactional: partial progress is
// safe to re-run because a claimed cart is excluded by the status filter.
type Sweeper struct {
	ledger   service.Ledger
	redis    *redisclient.Client
	events   *broker.EventPublisher
	interval time.Duration
	logger   *zap.Logger
	stop     chan struct{}
}

// NewSweeper creates a new expiry sweeper
func NewSweeper(ledger service.Ledger, redis *redisclient.Client, events *broker.EventPublisher, interval time.Duration) *Sweeper {
	return &Sweeper{
		ledger:   ledger,
		redis:    redis,
		events:   events,
		interval: interval,
		logger:   util.GetLogger(),
		stop:     make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting expiry sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("Released expired carts", zap.Int("count", n))
			}
		}
	}
}

// Stop stops the sweep loop
func (s *Sweeper) Stop() {
	close(s.stop)
}

// SweepOnce runs one sweep tick and returns the number of carts expired.
// Only open carts past expires_at are selected; checked_out carts keep their
// in-flight reservations past the window since checkout already claimed them.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.redis != nil {
		ok, err := s.redis.AcquireSweepLock(ctx, s.interval)
		if err != nil {
			s.logger.Warn("Sweep lock unavailable, proceeding without it", zap.Error(err))
		} else if !ok {
			return 0, nil
		} else {
			defer func() {
				if err := s.redis.ReleaseSweepLock(ctx); err != nil {
					s.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	carts, err := s.ledger.ListExpiredCarts(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, cart := range carts {
		items, claimed, err := s.ledger.ExpireCart(ctx, cart.ID)
		if err != nil {
			s.logger.Error("Failed to expire cart",
				zap.String("cart_id", cart.ID),
				zap.Error(err))
			continue
		}
		if !claimed {
			// Checked out (or expired by another instance) after selection.
			continue
		}

		expired++
		util.CartsExpiredTotal.Inc()

		for _, item := range items {
			if s.redis != nil {
				if err := s.redis.InvalidateInventory(ctx, cart.StoreID, item.SKU); err != nil {
					s.logger.Warn("Failed to invalidate inventory cache", zap.Error(err))
				}
			}
		}

		if s.events != nil {
			event := &models.CartExpiredEvent{
				BaseEvent: models.BaseEvent{
					EventID:   uuid.New().String(),
					EventType: models.EventTypeCartExpired,
					StoreID:   cart.StoreID,
					Timestamp: time.Now(),
				},
				CartID: cart.ID,
			}
			for _, item := range items {
				event.Items = append(event.Items, models.LineItemData{
					SKU:            item.SKU,
					Qty:            item.Qty,
					UnitPriceCents: item.UnitPriceCents,
				})
			}
			if err := s.events.PublishCartExpired(ctx, event); err != nil {
				s.logger.Error("Failed to publish CartExpired event", zap.Error(err))
			}
		}
	}

	return expired, nil
}
