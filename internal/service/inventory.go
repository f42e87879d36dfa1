package service

import (
	"context"
	"fmt"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InventoryService is the accounting layer every stock mutation funnels
// through: operator adjustments, checkout reservations, and releases. Sale
// commits run inside the ledger's fulfillment transaction (see
// store.FulfillCart) so order creation and deduction cannot split.
type InventoryService struct {
	ledger Ledger
	redis  *redisclient.Client
	events *broker.EventPublisher
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(ledger Ledger, redis *redisclient.Client, events *broker.EventPublisher) *InventoryService {
	return &InventoryService{
		ledger: ledger,
		redis:  redis,
		events: events,
		logger: util.GetLogger(),
	}
}

// Adjust applies a signed on_hand delta with an operator reason. Negative
// deltas may transiently push on_hand below reserved; callers relying on
// availability must re-read afterward.
func (s *InventoryService) Adjust(ctx context.Context, st *models.Store, sku string, delta int, reason string) (*models.InventoryLevel, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Adjust")
	defer span.End()

	if !models.AdjustReasons[reason] {
		return nil, apperr.InvalidRequest("reason must be restock, correction, damaged, or return")
	}

	level, err := s.ledger.AdjustOnHand(ctx, st.ID, sku, delta, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust inventory: %w", err)
	}
	if level == nil {
		return nil, apperr.NotFound("SKU not found: %s", sku)
	}

	s.invalidateCache(ctx, st.ID, sku)

	s.logger.Info("Inventory adjusted",
		zap.String("store_id", st.ID),
		zap.String("sku", sku),
		zap.Int("delta", delta),
		zap.String("reason", reason))

	if s.events != nil {
		event := &models.InventoryAdjustedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeInventoryAdjusted,
				StoreID:   st.ID,
				Timestamp: time.Now(),
			},
			SKU:    sku,
			Delta:  delta,
			Reason: reason,
			OnHand: level.OnHand,
		}
		if err := s.events.PublishInventoryAdjusted(ctx, event); err != nil {
			s.logger.Error("Failed to publish InventoryAdjusted event", zap.Error(err))
		}
	}

	return level, nil
}

// Reserve claims qty units for an in-flight checkout. The availability check
// and increment are one conditional update in the ledger, so concurrent
// reservations for the last unit cannot both succeed.
func (s *InventoryService) Reserve(ctx context.Context, storeID, sku string, qty int) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReserveLatency.Observe(time.Since(start).Seconds())
	}()

	ok, err := s.ledger.ReserveStock(ctx, storeID, sku, qty)
	if err != nil {
		util.ReservationsFailedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reserve stock for %s: %w", sku, err)
	}
	if !ok {
		util.ReservationsFailedTotal.WithLabelValues("insufficient_inventory").Inc()
		return apperr.InsufficientInventory(sku)
	}

	s.invalidateCache(ctx, storeID, sku)
	return nil
}

// Release returns qty reserved units to availability, clamped at zero
func (s *InventoryService) Release(ctx context.Context, storeID, sku string, qty int) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release")
	defer span.End()

	if err := s.ledger.ReleaseStock(ctx, storeID, sku, qty); err != nil {
		return fmt.Errorf("failed to release stock for %s: %w", sku, err)
	}

	s.invalidateCache(ctx, storeID, sku)
	return nil
}

// Get retrieves a single level
func (s *InventoryService) Get(ctx context.Context, storeID, sku string) (*models.InventoryLevel, error) {
	level, err := s.ledger.GetInventoryLevel(ctx, storeID, sku)
	if err != nil {
		return nil, err
	}
	if level == nil {
		return nil, apperr.NotFound("SKU not found: %s", sku)
	}
	return level, nil
}

// List retrieves all levels for a store
func (s *InventoryService) List(ctx context.Context, storeID string) ([]models.InventoryLevel, error) {
	return s.ledger.ListInventoryLevels(ctx, storeID)
}

// Availability returns on_hand - reserved for a SKU. Redis serves as the
// fast path; any cache error falls back to the ledger. Advisory only, the
// binding check happens at Reserve time.
func (s *InventoryService) Availability(ctx context.Context, storeID, sku string) (int, error) {
	if s.redis != nil {
		available, hit, err := s.redis.GetAvailable(ctx, storeID, sku)
		if err == nil && hit {
			return available, nil
		}
		if err != nil {
			s.logger.Warn("Availability cache read failed, falling back to DB",
				zap.String("sku", sku), zap.Error(err))
		}
	}

	level, err := s.ledger.GetInventoryLevel(ctx, storeID, sku)
	if err != nil {
		return 0, err
	}
	if level == nil {
		return 0, nil
	}

	if s.redis != nil {
		if err := s.redis.CacheInventory(ctx, storeID, sku, level.OnHand, level.Reserved); err != nil {
			s.logger.Warn("Failed to cache inventory level", zap.String("sku", sku), zap.Error(err))
		}
	}

	return level.Available(), nil
}

func (s *InventoryService) invalidateCache(ctx context.Context, storeID, sku string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.InvalidateInventory(ctx, storeID, sku); err != nil {
		s.logger.Warn("Failed to invalidate inventory cache",
			zap.String("sku", sku), zap.Error(err))
	}
}
