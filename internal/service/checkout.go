package service

import (
	"context"
	"fmt"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/payments"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutService bridges a cart to a provider payment session. It reserves
// inventory for the cart's items and rolls every reservation back if the
// session cannot be created, so a failed checkout never leaves inventory
// over-reserved.
type CheckoutService struct {
	ledger    Ledger
	inventory *InventoryService
	provider  payments.Provider
	events    *broker.EventPublisher
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(ledger Ledger, inventory *InventoryService, provider payments.Provider, events *broker.EventPublisher) *CheckoutService {
	return &CheckoutService{
		ledger:    ledger,
		inventory: inventory,
		provider:  provider,
		events:    events,
		logger:    util.GetLogger(),
	}
}

// CheckoutResult is the redirect handed back to the storefront
type CheckoutResult struct {
	CheckoutURL       string `json:"checkout_url"`
	CheckoutSessionID string `json:"stripe_checkout_session_id"`
}

// Checkout reserves the cart's items, creates the provider session, and
// transitions the cart to checked_out. Reservations made here are in flight
// afterward: only the reconciler (completion) or the sweeper (timeout)
// resolves them.
func (s *CheckoutService) Checkout(ctx context.Context, st *models.Store, cartID, successURL, cancelURL string) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	if successURL == "" {
		return nil, apperr.InvalidRequest("success_url is required")
	}
	if cancelURL == "" {
		return nil, apperr.InvalidRequest("cancel_url is required")
	}
	if st.StripeSecretKey == nil || *st.StripeSecretKey == "" {
		return nil, apperr.InvalidRequest("Stripe not connected for this store")
	}

	cart, err := s.ledger.GetCart(ctx, st.ID, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperr.NotFound("Cart not found")
	}
	if cart.Status != models.CartStatusOpen {
		return nil, apperr.Conflict("Cart is not open")
	}

	items, err := s.ledger.GetCartItems(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.InvalidRequest("Cart is empty")
	}

	// Reserve line by line; a failed line releases every earlier one so the
	// call leaves no partial reservation behind.
	reserved := make([]models.CartItem, 0, len(items))
	for _, item := range items {
		if err := s.inventory.Reserve(ctx, st.ID, item.SKU, item.Qty); err != nil {
			s.releaseAll(ctx, st.ID, reserved)
			util.CheckoutsFailedTotal.WithLabelValues("insufficient_inventory").Inc()
			return nil, err
		}
		reserved = append(reserved, item)
	}

	req := &payments.SessionRequest{
		CustomerEmail: cart.CustomerEmail,
		Currency:      cart.Currency,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		Metadata: map[string]string{
			"cart_id":  cart.ID,
			"store_id": st.ID,
		},
	}
	for _, item := range items {
		req.LineItems = append(req.LineItems, payments.SessionLineItem{
			Title:           item.Title,
			UnitAmountCents: item.UnitPriceCents,
			Qty:             int64(item.Qty),
		})
	}

	session, err := s.provider.CreateCheckoutSession(ctx, *st.StripeSecretKey, req)
	if err != nil {
		s.releaseAll(ctx, st.ID, reserved)
		util.CheckoutsFailedTotal.WithLabelValues("provider_error").Inc()
		s.logger.Error("Checkout session creation failed",
			zap.String("cart_id", cart.ID),
			zap.Error(err))
		return nil, apperr.ProviderError(fmt.Sprintf("Stripe error: %v", err))
	}

	ok, err := s.ledger.MarkCartCheckedOut(ctx, cartID, session.ID)
	if err != nil {
		s.releaseAll(ctx, st.ID, reserved)
		return nil, err
	}
	if !ok {
		// Lost the status CAS. If the sweeper expired the cart, its
		// claim-and-release transaction already returned these quantities;
		// releasing again would steal other carts' reservations of the same
		// SKUs. If a rival checkout of the same cart won instead, the
		// reservations here are extra and must go back.
		current, rerr := s.ledger.GetCart(ctx, st.ID, cartID)
		if rerr != nil || current == nil || current.Status != models.CartStatusExpired {
			s.releaseAll(ctx, st.ID, reserved)
		}
		util.CheckoutsFailedTotal.WithLabelValues("cart_not_open").Inc()
		return nil, apperr.Conflict("Cart is not open")
	}

	util.CheckoutsTotal.Inc()
	s.logger.Info("Checkout session created",
		zap.String("cart_id", cart.ID),
		zap.String("session_id", session.ID))

	if s.events != nil {
		event := &models.CartCheckedOutEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeCartCheckedOut,
				StoreID:   st.ID,
				Timestamp: time.Now(),
			},
			CartID:            cart.ID,
			CheckoutSessionID: session.ID,
			Items:             lineItems(items),
		}
		if err := s.events.PublishCartCheckedOut(ctx, event); err != nil {
			s.logger.Error("Failed to publish CartCheckedOut event", zap.Error(err))
		}
	}

	return &CheckoutResult{
		CheckoutURL:       session.URL,
		CheckoutSessionID: session.ID,
	}, nil
}

func (s *CheckoutService) releaseAll(ctx context.Context, storeID string, items []models.CartItem) {
	for _, item := range items {
		if err := s.inventory.Release(ctx, storeID, item.SKU, item.Qty); err != nil {
			s.logger.Error("Failed to release reservation during rollback",
				zap.String("sku", item.SKU),
				zap.Int("qty", item.Qty),
				zap.Error(err))
		}
	}
}

func lineItems(items []models.CartItem) []models.LineItemData {
	out := make([]models.LineItemData, 0, len(items))
	for _, item := range items {
		out = append(out, models.LineItemData{
			SKU:            item.SKU,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return out
}
