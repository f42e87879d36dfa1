package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/payments"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService serves the operator order surface: listing, refunds, and
// test orders that bypass the provider. Refunds never touch inventory;
// replenishment from a return is an explicit Adjust with reason return.
type OrderService struct {
	ledger   Ledger
	provider payments.Provider
	redis    *redisclient.Client
	events   *broker.EventPublisher
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(ledger Ledger, provider payments.Provider, redis *redisclient.Client, events *broker.EventPublisher) *OrderService {
	return &OrderService{
		ledger:   ledger,
		provider: provider,
		redis:    redis,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// GetOrder retrieves an order and its items
func (s *OrderService) GetOrder(ctx context.Context, st *models.Store, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := s.ledger.GetOrder(ctx, st.ID, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, apperr.NotFound("Order not found")
	}

	items, err := s.ledger.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListOrders retrieves all orders for a store with their items
func (s *OrderService) ListOrders(ctx context.Context, st *models.Store) ([]models.Order, map[string][]models.OrderItem, error) {
	orders, err := s.ledger.ListOrders(ctx, st.ID)
	if err != nil {
		return nil, nil, err
	}

	itemsByOrder := make(map[string][]models.OrderItem, len(orders))
	for _, order := range orders {
		items, err := s.ledger.GetOrderItems(ctx, order.ID)
		if err != nil {
			return nil, nil, err
		}
		itemsByOrder[order.ID] = items
	}
	return orders, itemsByOrder, nil
}

// RefundResult is the provider confirmation surfaced to the operator
type RefundResult struct {
	StripeRefundID string `json:"stripe_refund_id"`
	Status         string `json:"status"`
}

// Refund issues a provider refund, full when amountCents is nil. The order
// transitions to refunded only when the refund covers the full total;
// partial refunds leave it paid, so several partial refunds may accrue
// before the final one flips the status.
func (s *OrderService) Refund(ctx context.Context, st *models.Store, orderID string, amountCents *int64) (*RefundResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Refund")
	defer span.End()

	if st.StripeSecretKey == nil || *st.StripeSecretKey == "" {
		return nil, apperr.InvalidRequest("Stripe not connected for this store")
	}

	order, err := s.ledger.GetOrder(ctx, st.ID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound("Order not found")
	}
	if order.Status == models.OrderStatusRefunded {
		return nil, apperr.Conflict("Order already refunded")
	}
	if order.StripePaymentIntentID == nil || *order.StripePaymentIntentID == "" {
		return nil, apperr.InvalidRequest("Cannot refund test orders (no Stripe payment)")
	}

	result, err := s.provider.CreateRefund(ctx, *st.StripeSecretKey, *order.StripePaymentIntentID, amountCents)
	if err != nil {
		s.logger.Error("Provider refund failed",
			zap.String("order_id", orderID),
			zap.Error(err))
		return nil, apperr.ProviderError(fmt.Sprintf("Refund failed: %v", err))
	}

	refund := &models.Refund{
		ID:             uuid.New().String(),
		OrderID:        order.ID,
		StripeRefundID: result.ID,
		AmountCents:    result.AmountCents,
		Status:         result.Status,
	}
	if err := s.ledger.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	fullyRefunded := amountCents == nil || *amountCents >= order.TotalCents
	if fullyRefunded {
		if err := s.ledger.MarkOrderRefunded(ctx, orderID); err != nil {
			return nil, err
		}
		util.RefundsTotal.WithLabelValues("full").Inc()
	} else {
		util.RefundsTotal.WithLabelValues("partial").Inc()
	}

	s.logger.Info("Refund issued",
		zap.String("order_id", orderID),
		zap.String("refund_id", result.ID),
		zap.Int64("amount_cents", result.AmountCents),
		zap.Bool("fully_refunded", fullyRefunded))

	if s.events != nil {
		event := &models.OrderRefundedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderRefunded,
				StoreID:   st.ID,
				Timestamp: time.Now(),
			},
			OrderID:        order.ID,
			StripeRefundID: result.ID,
			AmountCents:    result.AmountCents,
			FullyRefunded:  fullyRefunded,
		}
		if err := s.events.PublishOrderRefunded(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderRefunded event", zap.Error(err))
		}
	}

	return &RefundResult{StripeRefundID: result.ID, Status: result.Status}, nil
}

// CreateTestOrder creates a paid order without a provider session, for local
// testing. Stock comes straight out of on_hand since nothing was reserved.
func (s *OrderService) CreateTestOrder(ctx context.Context, st *models.Store, customerEmail string, reqs []CartItemRequest) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateTestOrder")
	defer span.End()

	if !strings.Contains(customerEmail, "@") {
		return nil, nil, apperr.InvalidRequest("customer_email is required")
	}
	if len(reqs) == 0 {
		return nil, nil, apperr.InvalidRequest("items array is required")
	}

	items := make([]models.CartItem, 0, len(reqs))
	for _, req := range reqs {
		if req.SKU == "" || req.Qty < 1 {
			return nil, nil, apperr.InvalidRequest("Each item needs sku and qty > 0")
		}

		variant, err := s.ledger.GetVariantBySKU(ctx, st.ID, req.SKU)
		if err != nil {
			return nil, nil, err
		}
		if variant == nil {
			return nil, nil, apperr.NotFound("SKU not found: %s", req.SKU)
		}

		level, err := s.ledger.GetInventoryLevel(ctx, st.ID, req.SKU)
		if err != nil {
			return nil, nil, err
		}
		available := 0
		if level != nil {
			available = level.Available()
		}
		if available < req.Qty {
			return nil, nil, apperr.InsufficientInventory(req.SKU)
		}

		items = append(items, models.CartItem{
			SKU:            req.SKU,
			Title:          variant.Title,
			Qty:            req.Qty,
			UnitPriceCents: variant.PriceCents,
		})
	}

	order, err := s.ledger.CreateTestOrder(ctx, st.ID, customerEmail, st.Currency, items)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create test order: %w", err)
	}

	for _, item := range items {
		if s.redis != nil {
			if err := s.redis.InvalidateInventory(ctx, st.ID, item.SKU); err != nil {
				s.logger.Warn("Failed to invalidate inventory cache", zap.Error(err))
			}
		}
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Test order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.Number))

	orderItems, err := s.ledger.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return order, orderItems, nil
}
