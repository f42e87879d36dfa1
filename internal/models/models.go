package models

import (
	"encoding/json"
	"time"
)

// Store represents a merchant tenant
type Store struct {
	ID                  string  `db:"id" json:"id"`
	Name                string  `db:"name" json:"name"`
	Status              string  `db:"status" json:"status"`
	Currency            string  `db:"currency" json:"currency"`
	StripeSecretKey     *string `db:"stripe_secret_key" json:"-"`
	StripeWebhookSecret *string `db:"stripe_webhook_secret" json:"-"`
}

// Store statuses
const (
	StoreStatusEnabled  = "enabled"
	StoreStatusDisabled = "disabled"
)

// API key roles
const (
	RolePublic = "public"
	RoleAdmin  = "admin"
)

// APIKey is a hashed credential resolving to a store and role
type APIKey struct {
	ID        string    `db:"id" json:"id"`
	StoreID   string    `db:"store_id" json:"store_id"`
	KeyHash   string    `db:"key_hash" json:"-"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Variant is a sellable SKU within a store's catalog
type Variant struct {
	ID         string    `db:"id" json:"id"`
	ProductID  string    `db:"product_id" json:"product_id"`
	StoreID    string    `db:"store_id" json:"store_id"`
	SKU        string    `db:"sku" json:"sku"`
	Title      string    `db:"title" json:"title"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Variant statuses
const (
	VariantStatusActive = "active"
	VariantStatusDraft  = "draft"
)

// InventoryLevel tracks stock per (store, sku). Available is always derived,
// never stored.
type InventoryLevel struct {
	ID        string    `db:"id" json:"-"`
	StoreID   string    `db:"store_id" json:"store_id"`
	SKU       string    `db:"sku" json:"sku"`
	OnHand    int       `db:"on_hand" json:"on_hand"`
	Reserved  int       `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns on_hand minus reserved.
func (l *InventoryLevel) Available() int {
	return l.OnHand - l.Reserved
}

// Inventory adjustment reasons
const (
	ReasonRestock    = "restock"
	ReasonCorrection = "correction"
	ReasonDamaged    = "damaged"
	ReasonReturn     = "return"
	ReasonRelease    = "release"
	ReasonSale       = "sale"
)

// AdjustReasons are the reasons accepted by the operator adjust endpoint.
var AdjustReasons = map[string]bool{
	ReasonRestock:    true,
	ReasonCorrection: true,
	ReasonDamaged:    true,
	ReasonReturn:     true,
}

// InventoryLogEntry is the append-only audit trail for every stock mutation
type InventoryLogEntry struct {
	ID        string    `db:"id" json:"id"`
	StoreID   string    `db:"store_id" json:"store_id"`
	SKU       string    `db:"sku" json:"sku"`
	Delta     int       `db:"delta" json:"delta"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Cart statuses
const (
	CartStatusOpen       = "open"
	CartStatusCheckedOut = "checked_out"
	CartStatusExpired    = "expired"
)

// Cart holds a customer's in-progress purchase. FulfilledAt is set exactly
// once, by whichever webhook delivery wins the fulfillment claim.
type Cart struct {
	ID                      string     `db:"id" json:"id"`
	StoreID                 string     `db:"store_id" json:"store_id"`
	CustomerEmail           string     `db:"customer_email" json:"customer_email"`
	Status                  string     `db:"status" json:"status"`
	Currency                string     `db:"currency" json:"currency"`
	StripeCheckoutSessionID *string    `db:"stripe_checkout_session_id" json:"stripe_checkout_session_id,omitempty"`
	ExpiresAt               time.Time  `db:"expires_at" json:"expires_at"`
	FulfilledAt             *time.Time `db:"fulfilled_at" json:"-"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
}

// CartItem snapshots title and price at add-time, decoupled from the live variant
type CartItem struct {
	ID             string `db:"id" json:"-"`
	CartID         string `db:"cart_id" json:"-"`
	SKU            string `db:"sku" json:"sku"`
	Title          string `db:"title" json:"title"`
	Qty            int    `db:"qty" json:"qty"`
	UnitPriceCents int64  `db:"unit_price_cents" json:"unit_price_cents"`
}

// Order statuses
const (
	OrderStatusPaid     = "paid"
	OrderStatusRefunded = "refunded"
)

// Order is immutable except for the paid -> refunded transition
type Order struct {
	ID                      string          `db:"id" json:"id"`
	StoreID                 string          `db:"store_id" json:"store_id"`
	Number                  string          `db:"number" json:"number"`
	Status                  string          `db:"status" json:"status"`
	CustomerEmail           string          `db:"customer_email" json:"customer_email"`
	ShipTo                  json.RawMessage `db:"ship_to" json:"ship_to,omitempty"`
	SubtotalCents           int64           `db:"subtotal_cents" json:"subtotal_cents"`
	TaxCents                int64           `db:"tax_cents" json:"tax_cents"`
	ShippingCents           int64           `db:"shipping_cents" json:"shipping_cents"`
	TotalCents              int64           `db:"total_cents" json:"total_cents"`
	Currency                string          `db:"currency" json:"currency"`
	StripeCheckoutSessionID *string         `db:"stripe_checkout_session_id" json:"stripe_checkout_session_id,omitempty"`
	StripePaymentIntentID   *string         `db:"stripe_payment_intent_id" json:"stripe_payment_intent_id,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
}

// OrderItem is a permanent snapshot, independent of later catalog changes
type OrderItem struct {
	ID             string `db:"id" json:"-"`
	OrderID        string `db:"order_id" json:"-"`
	SKU            string `db:"sku" json:"sku"`
	Title          string `db:"title" json:"title"`
	Qty            int    `db:"qty" json:"qty"`
	UnitPriceCents int64  `db:"unit_price_cents" json:"unit_price_cents"`
}

// Refund records one provider refund attempt; an order may have several
type Refund struct {
	ID             string    `db:"id" json:"id"`
	OrderID        string    `db:"order_id" json:"order_id"`
	StripeRefundID string    `db:"stripe_refund_id" json:"stripe_refund_id"`
	AmountCents    int64     `db:"amount_cents" json:"amount_cents"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent deduplicates webhook deliveries by provider event id
type ProcessedEvent struct {
	ID            string          `db:"id"`
	StoreID       string          `db:"store_id"`
	StripeEventID string          `db:"stripe_event_id"`
	Type          string          `db:"type"`
	Payload       json.RawMessage `db:"payload"`
	ProcessedAt   time.Time       `db:"processed_at"`
}
