package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-service/internal/models"

	"github.com/google/uuid"
)

// CreateCart inserts a new open cart
func (s *Store) CreateCart(ctx context.Context, cart *models.Cart) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carts (id, store_id, customer_email, status, currency, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		cart.ID, cart.StoreID, cart.CustomerEmail, cart.Status, cart.Currency, cart.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

// GetCart retrieves a cart scoped to a store. Returns nil when absent.
func (s *Store) GetCart(ctx context.Context, storeID, cartID string) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart,
		"SELECT * FROM carts WHERE id = $1 AND store_id = $2", cartID, storeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartByID retrieves a cart without store scoping. The webhook path
// resolves the store from event metadata, so the cart lookup is global.
func (s *Store) GetCartByID(ctx context.Context, cartID string) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE id = $1", cartID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartItems retrieves all items for a cart
func (s *Store) GetCartItems(ctx context.Context, cartID string) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1", cartID)
	return items, err
}

// ReplaceCartItems discards the cart's entire item set and inserts the new
// one as a single transaction. Partial item sets never persist.
func (s *Store) ReplaceCartItems(ctx context.Context, cartID string, items []models.CartItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (id, cart_id, sku, title, qty, unit_price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), cartID, item.SKU, item.Title, item.Qty, item.UnitPriceCents)
		if err != nil {
			return fmt.Errorf("failed to insert cart item: %w", err)
		}
	}

	return tx.Commit()
}

// MarkCartCheckedOut transitions the cart open -> checked_out via
// compare-and-set and persists the provider session reference. Returns false
// when the cart was no longer open (swept to expired mid-checkout).
func (s *Store) MarkCartCheckedOut(ctx context.Context, cartID, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE carts SET status = $1, stripe_checkout_session_id = $2
		WHERE id = $3 AND status = $4`,
		models.CartStatusCheckedOut, sessionID, cartID, models.CartStatusOpen)
	if err != nil {
		return false, fmt.Errorf("failed to mark cart checked out: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListExpiredCarts finds open carts whose reservation window has elapsed
func (s *Store) ListExpiredCarts(ctx context.Context, now time.Time) ([]models.Cart, error) {
	var carts []models.Cart
	err := s.db.SelectContext(ctx, &carts,
		"SELECT * FROM carts WHERE status = $1 AND expires_at < $2",
		models.CartStatusOpen, now)
	return carts, err
}

// ExpireCart claims a cart via compare-and-set on open -> expired and, when
// the claim wins, releases the full reserved quantity of every item with a
// release log entry per SKU, all in one transaction. A cart checked out
// between selection and claim loses the CAS and is left alone, so exactly
// one of fulfillment and expiry-release wins per cart. Returns the released
// items and whether this call won the claim.
func (s *Store) ExpireCart(ctx context.Context, cartID string) ([]models.CartItem, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE carts SET status = $1 WHERE id = $2 AND status = $3",
		models.CartStatusExpired, cartID, models.CartStatusOpen)
	if err != nil {
		return nil, false, fmt.Errorf("failed to expire cart: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		return nil, false, nil
	}

	var cart models.Cart
	if err := tx.GetContext(ctx, &cart, "SELECT * FROM carts WHERE id = $1", cartID); err != nil {
		return nil, false, err
	}

	var items []models.CartItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return nil, false, err
	}

	for _, item := range items {
		_, err := tx.ExecContext(ctx,
			"UPDATE inventory SET reserved = GREATEST(reserved - $1, 0), updated_at = NOW() WHERE store_id = $2 AND sku = $3",
			item.Qty, cart.StoreID, item.SKU)
		if err != nil {
			return nil, false, fmt.Errorf("failed to release stock: %w", err)
		}
		if err := appendInventoryLogTx(ctx, tx, cart.StoreID, item.SKU, -item.Qty, models.ReasonRelease); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return items, true, nil
}
