package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartService owns the cart state machine: open -> checked_out | expired,
// both terminal.
type CartService struct {
	ledger            Ledger
	inventory         *InventoryService
	reservationWindow time.Duration
	logger            *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(ledger Ledger, inventory *InventoryService, reservationWindow time.Duration) *CartService {
	return &CartService{
		ledger:            ledger,
		inventory:         inventory,
		reservationWindow: reservationWindow,
		logger:            util.GetLogger(),
	}
}

// CartItemRequest is one requested line in a SetItems call
type CartItemRequest struct {
	SKU string `json:"sku" binding:"required"`
	Qty int    `json:"qty" binding:"required,min=1"`
}

// CreateCart opens a cart with the store's currency and a fixed reservation
// window.
func (s *CartService) CreateCart(ctx context.Context, st *models.Store, customerEmail string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.CreateCart")
	defer span.End()

	if !strings.Contains(customerEmail, "@") {
		return nil, apperr.InvalidRequest("customer_email is required")
	}

	cart := &models.Cart{
		ID:            uuid.New().String(),
		StoreID:       st.ID,
		CustomerEmail: customerEmail,
		Status:        models.CartStatusOpen,
		Currency:      st.Currency,
		ExpiresAt:     time.Now().Add(s.reservationWindow),
	}

	if err := s.ledger.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	util.CartsCreatedTotal.Inc()
	s.logger.Info("Cart created",
		zap.String("cart_id", cart.ID),
		zap.String("store_id", st.ID))

	return cart, nil
}

// SetItems replaces the cart's entire item set. Each line is validated
// against the live catalog and availability before anything is written, so a
// failed call leaves the previous item set untouched. The availability check
// here is advisory; the binding check happens at checkout via Reserve.
func (s *CartService) SetItems(ctx context.Context, st *models.Store, cartID string, reqs []CartItemRequest) (*models.Cart, []models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.SetItems")
	defer span.End()

	if len(reqs) == 0 {
		return nil, nil, apperr.InvalidRequest("items array is required")
	}

	cart, err := s.ledger.GetCart(ctx, st.ID, cartID)
	if err != nil {
		return nil, nil, err
	}
	if cart == nil {
		return nil, nil, apperr.NotFound("Cart not found")
	}
	if cart.Status != models.CartStatusOpen {
		return nil, nil, apperr.Conflict("Cart is not open")
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
		if variant.Status != models.VariantStatusActive {
			return nil, nil, apperr.InvalidRequest("SKU not active: %s", req.SKU)
		}

		available, err := s.inventory.Availability(ctx, st.ID, req.SKU)
		if err != nil {
			return nil, nil, err
		}
		if available < req.Qty {
			return nil, nil, apperr.InsufficientInventory(req.SKU)
		}

		items = append(items, models.CartItem{
			CartID:         cartID,
			SKU:            req.SKU,
			Title:          variant.Title,
			Qty:            req.Qty,
			UnitPriceCents: variant.PriceCents,
		})
	}

	if err := s.ledger.ReplaceCartItems(ctx, cartID, items); err != nil {
		return nil, nil, fmt.Errorf("failed to replace cart items: %w", err)
	}

	return cart, items, nil
}

// GetCart retrieves a cart and its items
func (s *CartService) GetCart(ctx context.Context, st *models.Store, cartID string) (*models.Cart, []models.CartItem, error) {
	cart, err := s.ledger.GetCart(ctx, st.ID, cartID)
	if err != nil {
		return nil, nil, err
	}
	if cart == nil {
		return nil, nil, apperr.NotFound("Cart not found")
	}

	items, err := s.ledger.GetCartItems(ctx, cartID)
	if err != nil {
		return nil, nil, err
	}
	return cart, items, nil
}
