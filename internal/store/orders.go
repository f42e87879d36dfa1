package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"storefront-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// FulfillCartParams carries everything the fulfillment transaction needs.
type FulfillCartParams struct {
	Cart            *models.Cart
	Items           []models.CartItem
	ShipTo          json.RawMessage
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	TotalCents      int64
	SessionID       string
	PaymentIntentID string
	// Event, when set, is recorded in the same transaction so a crash between
	// effects and the dedup row cannot split them.
	Event *models.ProcessedEvent
}

// FulfillCart converts a checked-out cart into a paid order in a single
// transaction: it claims the cart's fulfillment slot, creates the order and
// items from the cart's snapshots, commits the sale per SKU, and records the
// processed event. Returns (nil, nil) when another delivery already claimed
// the cart, which makes CommitSale idempotent per cart independent of
// event-id dedup.
func (s *Store) FulfillCart(ctx context.Context, p FulfillCartParams) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE carts SET fulfilled_at = NOW()
		WHERE id = $1 AND status = $2 AND fulfilled_at IS NULL`,
		p.Cart.ID, models.CartStatusCheckedOut)
	if err != nil {
		return nil, fmt.Errorf("failed to claim cart fulfillment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Lost the claim. Still record the event so replays short-circuit.
		if p.Event != nil {
			if err := recordProcessedEventTx(ctx, tx, p.Event); err != nil {
				return nil, err
			}
		}
		return nil, tx.Commit()
	}

	number, err := nextOrderNumberTx(ctx, tx, p.Cart.StoreID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:            uuid.New().String(),
		StoreID:       p.Cart.StoreID,
		Number:        number,
		Status:        models.OrderStatusPaid,
		CustomerEmail: p.Cart.CustomerEmail,
		ShipTo:        p.ShipTo,
		SubtotalCents: p.SubtotalCents,
		TaxCents:      p.TaxCents,
		ShippingCents: p.ShippingCents,
		TotalCents:    p.TotalCents,
		Currency:      p.Cart.Currency,
	}
	if p.SessionID != "" {
		order.StripeCheckoutSessionID = &p.SessionID
	}
	if p.PaymentIntentID != "" {
		order.StripePaymentIntentID = &p.PaymentIntentID
	}

	if err := insertOrderTx(ctx, tx, order); err != nil {
		return nil, err
	}

	for _, item := range p.Items {
		if err := insertOrderItemTx(ctx, tx, order.ID, item); err != nil {
			return nil, err
		}
		if err := commitSaleTx(ctx, tx, p.Cart.StoreID, item.SKU, item.Qty); err != nil {
			return nil, err
		}
	}

	if p.Event != nil {
		if err := recordProcessedEventTx(ctx, tx, p.Event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// CreateTestOrder creates a paid order that bypasses checkout: stock is
// deducted from on_hand directly since nothing was ever reserved.
func (s *Store) CreateTestOrder(ctx context.Context, storeID, customerEmail, currency string, items []models.CartItem) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	number, err := nextOrderNumberTx(ctx, tx, storeID)
	if err != nil {
		return nil, err
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPriceCents * int64(item.Qty)
	}

	order := &models.Order{
		ID:            uuid.New().String(),
		StoreID:       storeID,
		Number:        number,
		Status:        models.OrderStatusPaid,
		CustomerEmail: customerEmail,
		SubtotalCents: subtotal,
		TotalCents:    subtotal,
		Currency:      currency,
	}

	if err := insertOrderTx(ctx, tx, order); err != nil {
		return nil, err
	}

	for _, item := range items {
		if err := insertOrderItemTx(ctx, tx, order.ID, item); err != nil {
			return nil, err
		}
		if err := s.DeductOnHand(ctx, tx, storeID, item.SKU, item.Qty); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// nextOrderNumberTx derives the store-sequential human-facing number from
// the current order count. Best-effort monotonic: concurrent deliveries for
// one store can collide.
func nextOrderNumberTx(ctx context.Context, tx *sqlx.Tx, storeID string) (string, error) {
	var count int
	if err := tx.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM orders WHERE store_id = $1", storeID); err != nil {
		return "", fmt.Errorf("failed to count orders: %w", err)
	}
	return fmt.Sprintf("ORD-%05d", count+1), nil
}

func insertOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, store_id, number, status, customer_email, ship_to,
			subtotal_cents, tax_cents, shipping_cents, total_cents, currency,
			stripe_checkout_session_id, stripe_payment_intent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())`,
		order.ID, order.StoreID, order.Number, order.Status, order.CustomerEmail, order.ShipTo,
		order.SubtotalCents, order.TaxCents, order.ShippingCents, order.TotalCents, order.Currency,
		order.StripeCheckoutSessionID, order.StripePaymentIntentID)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func insertOrderItemTx(ctx context.Context, tx *sqlx.Tx, orderID string, item models.CartItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_items (id, order_id, sku, title, qty, unit_price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), orderID, item.SKU, item.Title, item.Qty, item.UnitPriceCents)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

// GetOrder retrieves an order scoped to a store. Returns nil when absent.
func (s *Store) GetOrder(ctx context.Context, storeID, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 AND store_id = $2", orderID, storeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves all orders for a store, newest first
func (s *Store) ListOrders(ctx context.Context, storeID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE store_id = $1 ORDER BY created_at DESC", storeID)
	return orders, err
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// MarkOrderRefunded transitions an order to refunded
func (s *Store) MarkOrderRefunded(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2", models.OrderStatusRefunded, orderID)
	return err
}

// CreateRefund records one provider refund attempt
func (s *Store) CreateRefund(ctx context.Context, refund *models.Refund) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refunds (id, order_id, stripe_refund_id, amount_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		refund.ID, refund.OrderID, refund.StripeRefundID, refund.AmountCents, refund.Status)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

// IsEventProcessed checks the dedup log for a provider event id
func (s *Store) IsEventProcessed(ctx context.Context, stripeEventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE stripe_event_id = $1)", stripeEventID)
	return exists, err
}

// RecordProcessedEvent appends a dedup row; replays are no-ops
func (s *Store) RecordProcessedEvent(ctx context.Context, event *models.ProcessedEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := recordProcessedEventTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

func recordProcessedEventTx(ctx context.Context, tx *sqlx.Tx, event *models.ProcessedEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (id, store_id, stripe_event_id, type, payload, processed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (stripe_event_id) DO NOTHING`,
		uuid.New().String(), event.StoreID, event.StripeEventID, event.Type, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	return nil
}
