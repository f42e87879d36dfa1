package service

import (
	"context"
	"fmt"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/payments"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventTypeCheckoutCompleted is the only provider event the reconciler acts
// on; every other verified event is recorded and acknowledged.
const EventTypeCheckoutCompleted = "checkout.session.completed"

const eventSeenTTL = 24 * time.Hour

// ReconcilerService consumes asynchronous payment-completion notifications
// and idempotently converts checked-out carts into paid orders. Deliveries
// are at-least-once: the processed_events row dedups by event id, and the
// cart's fulfillment claim dedups by cart for distinct events referencing
// the same cart.
type ReconcilerService struct {
	ledger   Ledger
	provider payments.Provider
	redis    *redisclient.Client
	events   *broker.EventPublisher
	logger   *zap.Logger
}

// NewReconcilerService creates a new fulfillment reconciler
func NewReconcilerService(ledger Ledger, provider payments.Provider, redis *redisclient.Client, events *broker.EventPublisher) *ReconcilerService {
	return &ReconcilerService{
		ledger:   ledger,
		provider: provider,
		redis:    redis,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// HandleWebhook verifies and processes one provider notification. Any error
// after signature verification is safe to retry wholesale.
func (s *ReconcilerService) HandleWebhook(ctx context.Context, body []byte, sigHeader string) error {
	ctx, span := util.StartSpan(ctx, "ReconcilerService.HandleWebhook")
	defer span.End()

	if sigHeader == "" {
		return apperr.InvalidRequest("Missing stripe-signature header")
	}

	// The store owning the event has to be resolved from the payload before
	// its secret can verify the payload.
	storeID, ok := payments.PeekStoreID(body)
	if !ok {
		return apperr.InvalidRequest("Missing store_id in metadata")
	}

	st, err := s.ledger.GetStoreByID(ctx, storeID)
	if err != nil {
		return err
	}
	if st == nil || st.StripeWebhookSecret == nil || *st.StripeWebhookSecret == "" {
		return apperr.InvalidRequest("Store not found or webhook secret missing")
	}

	event, err := s.provider.VerifyWebhookSignature(body, sigHeader, *st.StripeWebhookSecret)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "signature_invalid").Inc()
		return apperr.SignatureInvalid(err.Error())
	}

	if s.redis != nil {
		if seen, err := s.redis.IsEventSeen(ctx, event.ID); err == nil && seen {
			util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
			return nil
		}
	}

	processed, err := s.ledger.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		s.logger.Info("Event already processed", zap.String("event_id", event.ID))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	record := &models.ProcessedEvent{
		StoreID:       st.ID,
		StripeEventID: event.ID,
		Type:          event.Type,
		Payload:       event.Object,
	}

	fulfilled := false
	if event.Type == EventTypeCheckoutCompleted {
		fulfilled, err = s.fulfill(ctx, st, event, record)
		if err != nil {
			return err
		}
	}

	// Whatever was (or wasn't) done, the dedup row must land so replays
	// short-circuit. The fulfillment path records it inside its own
	// transaction, after the order and inventory effects.
	if !fulfilled {
		if err := s.ledger.RecordProcessedEvent(ctx, record); err != nil {
			return err
		}
	}

	if s.redis != nil {
		if err := s.redis.CacheEventSeen(ctx, event.ID, eventSeenTTL); err != nil {
			s.logger.Warn("Failed to cache event id", zap.Error(err))
		}
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
	return nil
}

// fulfill handles a completed checkout session. Returns true when the
// processed-event record was written by the fulfillment transaction.
func (s *ReconcilerService) fulfill(ctx context.Context, st *models.Store, event *payments.Event, record *models.ProcessedEvent) (bool, error) {
	session, err := payments.ParseSessionPayload(event.Object)
	if err != nil {
		return false, apperr.InvalidRequest("malformed session payload")
	}

	cartID := session.Metadata["cart_id"]
	if cartID == "" {
		return false, nil
	}

	// A missing cart is not an error: already consumed, or foreign.
	cart, err := s.ledger.GetCartByID(ctx, cartID)
	if err != nil {
		return false, err
	}
	if cart == nil {
		s.logger.Info("Webhook references unknown cart",
			zap.String("cart_id", cartID),
			zap.String("event_id", event.ID))
		return false, nil
	}

	items, err := s.ledger.GetCartItems(ctx, cartID)
	if err != nil {
		return false, err
	}

	params := store.FulfillCartParams{
		Cart:          cart,
		Items:         items,
		SubtotalCents: session.AmountSubtotal,
		TaxCents:      session.TotalDetails.AmountTax,
		ShippingCents: session.TotalDetails.AmountShipping,
		TotalCents:    session.AmountTotal,
		SessionID:     session.ID,
		Event:         record,
	}
	if session.PaymentIntent != "" {
		params.PaymentIntentID = session.PaymentIntent
	}
	if session.ShippingDetails != nil {
		params.ShipTo = session.ShippingDetails.Address
	}

	order, err := s.ledger.FulfillCart(ctx, params)
	if err != nil {
		return false, fmt.Errorf("failed to fulfill cart: %w", err)
	}
	if order == nil {
		// Another delivery won the cart's fulfillment claim; the transaction
		// still recorded the event.
		s.logger.Info("Cart already fulfilled",
			zap.String("cart_id", cartID),
			zap.String("event_id", event.ID))
		return true, nil
	}

	for _, item := range items {
		if s.redis != nil {
			if err := s.redis.InvalidateInventory(ctx, cart.StoreID, item.SKU); err != nil {
				s.logger.Warn("Failed to invalidate inventory cache", zap.Error(err))
			}
		}
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created from webhook",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.Number),
		zap.String("cart_id", cartID))

	if s.events != nil {
		paidEvent := &models.OrderPaidEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderPaid,
				StoreID:   st.ID,
				Timestamp: time.Now(),
			},
			OrderID:     order.ID,
			OrderNumber: order.Number,
			CartID:      cartID,
			TotalCents:  order.TotalCents,
			Items:       lineItems(items),
		}
		if err := s.events.PublishOrderPaid(ctx, paidEvent); err != nil {
			s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
		}
	}

	return true, nil
}
