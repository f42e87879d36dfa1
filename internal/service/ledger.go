package service

import (
	"context"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
)

// Ledger is the durable-storage surface the services run against. *store.Store
// implements it; tests substitute in-memory fakes.
type Ledger interface {
	GetStoreByID(ctx context.Context, id string) (*models.Store, error)
	GetVariantBySKU(ctx context.Context, storeID, sku string) (*models.Variant, error)

	GetInventoryLevel(ctx context.Context, storeID, sku string) (*models.InventoryLevel, error)
	ListInventoryLevels(ctx context.Context, storeID string) ([]models.InventoryLevel, error)
	AdjustOnHand(ctx context.Context, storeID, sku string, delta int, reason string) (*models.InventoryLevel, error)
	ReserveStock(ctx context.Context, storeID, sku string, qty int) (bool, error)
	ReleaseStock(ctx context.Context, storeID, sku string, qty int) error
	GetInventoryLogs(ctx context.Context, storeID, sku string) ([]models.InventoryLogEntry, error)

	CreateCart(ctx context.Context, cart *models.Cart) error
	GetCart(ctx context.Context, storeID, cartID string) (*models.Cart, error)
	GetCartByID(ctx context.Context, cartID string) (*models.Cart, error)
	GetCartItems(ctx context.Context, cartID string) ([]models.CartItem, error)
	ReplaceCartItems(ctx context.Context, cartID string, items []models.CartItem) error
	MarkCartCheckedOut(ctx context.Context, cartID, sessionID string) (bool, error)
	ListExpiredCarts(ctx context.Context, now time.Time) ([]models.Cart, error)
	ExpireCart(ctx context.Context, cartID string) ([]models.CartItem, bool, error)

	FulfillCart(ctx context.Context, p store.FulfillCartParams) (*models.Order, error)
	CreateTestOrder(ctx context.Context, storeID, customerEmail, currency string, items []models.CartItem) (*models.Order, error)
	GetOrder(ctx context.Context, storeID, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, storeID string) ([]models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	MarkOrderRefunded(ctx context.Context, orderID string) error
	CreateRefund(ctx context.Context, refund *models.Refund) error

	IsEventProcessed(ctx context.Context, stripeEventID string) (bool, error)
	RecordProcessedEvent(ctx context.Context, event *models.ProcessedEvent) error
}

var _ Ledger = (*store.Store)(nil)
