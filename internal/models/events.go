package models

import "time"

// Event types published to Kafka for downstream consumers
const (
	EventTypeCartCheckedOut    = "CART_CHECKED_OUT"
	EventTypeCartExpired       = "CART_EXPIRED"
	EventTypeOrderPaid         = "ORDER_PAID"
	EventTypeOrderRefunded     = "ORDER_REFUNDED"
	EventTypeInventoryAdjusted = "INVENTORY_ADJUSTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	StoreID   string    `json:"store_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CartCheckedOutEvent published when a checkout session is created for a cart
type CartCheckedOutEvent struct {
	BaseEvent
	CartID            string         `json:"cart_id"`
	CheckoutSessionID string         `json:"checkout_session_id"`
	Items             []LineItemData `json:"items"`
}

// CartExpiredEvent published when the sweeper releases an expired cart
type CartExpiredEvent struct {
	BaseEvent
	CartID string         `json:"cart_id"`
	Items  []LineItemData `json:"items"`
}

// OrderPaidEvent published when a completed payment is reconciled into an order
type OrderPaidEvent struct {
	BaseEvent
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	CartID      string         `json:"cart_id"`
	TotalCents  int64          `json:"total_cents"`
	Items       []LineItemData `json:"items"`
}

// OrderRefundedEvent published for every refund attempt recorded
type OrderRefundedEvent struct {
	BaseEvent
	OrderID        string `json:"order_id"`
	StripeRefundID string `json:"stripe_refund_id"`
	AmountCents    int64  `json:"amount_cents"`
	FullyRefunded  bool   `json:"fully_refunded"`
}

// InventoryAdjustedEvent published for operator stock adjustments
type InventoryAdjustedEvent struct {
	BaseEvent
	SKU    string `json:"sku"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
	OnHand int    `json:"on_hand"`
}

// LineItemData represents item data in events
type LineItemData struct {
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}
