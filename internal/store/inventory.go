package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GetInventoryLevel retrieves the level for a (store, sku). Returns nil when
// no row exists.
func (s *Store) GetInventoryLevel(ctx context.Context, storeID, sku string) (*models.InventoryLevel, error) {
	var level models.InventoryLevel
	err := s.db.GetContext(ctx, &level,
		"SELECT * FROM inventory WHERE store_id = $1 AND sku = $2", storeID, sku)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// ListInventoryLevels retrieves all levels for a store ordered by SKU
func (s *Store) ListInventoryLevels(ctx context.Context, storeID string) ([]models.InventoryLevel, error) {
	var levels []models.InventoryLevel
	err := s.db.SelectContext(ctx, &levels,
		"SELECT * FROM inventory WHERE store_id = $1 ORDER BY sku", storeID)
	return levels, err
}

// AdjustOnHand applies a signed on_hand delta and appends the matching log
// entry in one transaction. Returns nil when the SKU has no inventory row.
// No bound check against reserved: negative adjustments may transiently push
// on_hand below reserved.
func (s *Store) AdjustOnHand(ctx context.Context, storeID, sku string, delta int, reason string) (*models.InventoryLevel, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE inventory SET on_hand = on_hand + $1, updated_at = NOW() WHERE store_id = $2 AND sku = $3",
		delta, storeID, sku)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust inventory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}

	if err := appendInventoryLogTx(ctx, tx, storeID, sku, delta, reason); err != nil {
		return nil, err
	}

	var level models.InventoryLevel
	if err := tx.GetContext(ctx, &level,
		"SELECT * FROM inventory WHERE store_id = $1 AND sku = $2", storeID, sku); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &level, nil
}

// ReserveStock reserves qty units as a single atomic conditional update.
// The availability check is evaluated by Postgres, so two racing
// reservations for the last unit cannot both succeed. Returns false when
// availability is insufficient (or the row is absent).
func (s *Store) ReserveStock(ctx context.Context, storeID, sku string, qty int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory
		SET reserved = reserved + $1, updated_at = NOW()
		WHERE store_id = $2 AND sku = $3 AND on_hand - reserved >= $1`,
		qty, storeID, sku)
	if err != nil {
		return false, fmt.Errorf("failed to reserve stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseStock returns qty reserved units to availability, clamping reserved
// at zero, and appends a release log entry.
func (s *Store) ReleaseStock(ctx context.Context, storeID, sku string, qty int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"UPDATE inventory SET reserved = GREATEST(reserved - $1, 0), updated_at = NOW() WHERE store_id = $2 AND sku = $3",
		qty, storeID, sku)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}

	if err := appendInventoryLogTx(ctx, tx, storeID, sku, -qty, models.ReasonRelease); err != nil {
		return err
	}

	return tx.Commit()
}

// commitSaleTx converts a reservation into a permanent deduction: reserved
// drops (clamped at zero), on_hand drops, and a sale log entry is appended.
// Runs inside the caller's fulfillment transaction.
func commitSaleTx(ctx context.Context, tx *sqlx.Tx, storeID, sku string, qty int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET reserved = GREATEST(reserved - $1, 0), on_hand = on_hand - $1, updated_at = NOW()
		WHERE store_id = $2 AND sku = $3`,
		qty, storeID, sku)
	if err != nil {
		return fmt.Errorf("failed to commit sale: %w", err)
	}
	return appendInventoryLogTx(ctx, tx, storeID, sku, -qty, models.ReasonSale)
}

// DeductOnHand deducts stock directly, bypassing reservations. Used by test
// orders, which never reserve.
func (s *Store) DeductOnHand(ctx context.Context, tx *sqlx.Tx, storeID, sku string, qty int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE inventory SET on_hand = on_hand - $1, updated_at = NOW() WHERE store_id = $2 AND sku = $3",
		qty, storeID, sku)
	if err != nil {
		return fmt.Errorf("failed to deduct stock: %w", err)
	}
	return appendInventoryLogTx(ctx, tx, storeID, sku, -qty, models.ReasonSale)
}

func appendInventoryLogTx(ctx context.Context, tx *sqlx.Tx, storeID, sku string, delta int, reason string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO inventory_logs (id, store_id, sku, delta, reason, created_at) VALUES ($1, $2, $3, $4, $5, NOW())",
		uuid.New().String(), storeID, sku, delta, reason)
	if err != nil {
		return fmt.Errorf("failed to append inventory log: %w", err)
	}
	return nil
}

// GetInventoryLogs retrieves the audit trail for a SKU, oldest first
func (s *Store) GetInventoryLogs(ctx context.Context, storeID, sku string) ([]models.InventoryLogEntry, error) {
	var entries []models.InventoryLogEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM inventory_logs WHERE store_id = $1 AND sku = $2 ORDER BY created_at", storeID, sku)
	return entries, err
}
