package sweeper

import (
	"context"
	"testing"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sweepLedger is the in-memory subset of the ledger the sweeper exercises.
type sweepLedger struct {
	carts  map[string]*models.Cart
	items  map[string][]models.CartItem
	levels map[string]*models.InventoryLevel
	logs   []models.InventoryLogEntry
}

func newSweepLedger() *sweepLedger {
	return &sweepLedger{
		carts:  make(map[string]*models.Cart),
		items:  make(map[string][]models.CartItem),
		levels: make(map[string]*models.InventoryLevel),
	}
}

func (l *sweepLedger) addCart(id, storeID, status string, expiresAt time.Time, items ...models.CartItem) {
	l.carts[id] = &models.Cart{ID: id, StoreID: storeID, Status: status, ExpiresAt: expiresAt}
	l.items[id] = items
}

func (l *sweepLedger) ListExpiredCarts(_ context.Context, now time.Time) ([]models.Cart, error) {
	var out []models.Cart
	for _, cart := range l.carts {
		if cart.Status == models.CartStatusOpen && cart.ExpiresAt.Before(now) {
			out = append(out, *cart)
		}
	}
	return out, nil
}

func (l *sweepLedger) ExpireCart(_ context.Context, cartID string) ([]models.CartItem, bool, error) {
	cart := l.carts[cartID]
	if cart == nil || cart.Status != models.CartStatusOpen {
		return nil, false, nil
	}
	cart.Status = models.CartStatusExpired
	items := l.items[cartID]
	for _, item := range items {
		if lvl := l.levels[item.SKU]; lvl != nil {
			lvl.Reserved -= item.Qty
			if lvl.Reserved < 0 {
				lvl.Reserved = 0
			}
		}
		l.logs = append(l.logs, models.InventoryLogEntry{
			StoreID: cart.StoreID, SKU: item.SKU, Delta: -item.Qty, Reason: models.ReasonRelease,
		})
	}
	return items, true, nil
}

// Remaining Ledger methods are unused by the sweeper.

func (l *sweepLedger) GetStoreByID(context.Context, string) (*models.Store, error) { return nil, nil }
func (l *sweepLedger) GetVariantBySKU(context.Context, string, string) (*models.Variant, error) {
	return nil, nil
}
func (l *sweepLedger) GetInventoryLevel(context.Context, string, string) (*models.InventoryLevel, error) {
	return nil, nil
}
func (l *sweepLedger) ListInventoryLevels(context.Context, string) ([]models.InventoryLevel, error) {
	return nil, nil
}
func (l *sweepLedger) AdjustOnHand(context.Context, string, string, int, string) (*models.InventoryLevel, error) {
	return nil, nil
}
func (l *sweepLedger) ReserveStock(context.Context, string, string, int) (bool, error) {
	return false, nil
}
func (l *sweepLedger) ReleaseStock(context.Context, string, string, int) error { return nil }
func (l *sweepLedger) GetInventoryLogs(context.Context, string, string) ([]models.InventoryLogEntry, error) {
	return nil, nil
}
func (l *sweepLedger) CreateCart(context.Context, *models.Cart) error { return nil }
func (l *sweepLedger) GetCart(context.Context, string, string) (*models.Cart, error) {
	return nil, nil
}
func (l *sweepLedger) GetCartByID(context.Context, string) (*models.Cart, error) { return nil, nil }
func (l *sweepLedger) GetCartItems(context.Context, string) ([]models.CartItem, error) {
	return nil, nil
}
func (l *sweepLedger) ReplaceCartItems(context.Context, string, []models.CartItem) error { return nil }
func (l *sweepLedger) MarkCartCheckedOut(context.Context, string, string) (bool, error) {
	return false, nil
}
func (l *sweepLedger) FulfillCart(context.Context, store.FulfillCartParams) (*models.Order, error) {
	return nil, nil
}
func (l *sweepLedger) CreateTestOrder(context.Context, string, string, string, []models.CartItem) (*models.Order, error) {
	return nil, nil
}
func (l *sweepLedger) GetOrder(context.Context, string, string) (*models.Order, error) {
	return nil, nil
}
func (l *sweepLedger) ListOrders(context.Context, string) ([]models.Order, error) { return nil, nil }
func (l *sweepLedger) GetOrderItems(context.Context, string) ([]models.OrderItem, error) {
	return nil, nil
}
func (l *sweepLedger) MarkOrderRefunded(context.Context, string) error          { return nil }
func (l *sweepLedger) CreateRefund(context.Context, *models.Refund) error       { return nil }
func (l *sweepLedger) IsEventProcessed(context.Context, string) (bool, error)   { return false, nil }
func (l *sweepLedger) RecordProcessedEvent(context.Context, *models.ProcessedEvent) error {
	return nil
}

var _ service.Ledger = (*sweepLedger)(nil)

func TestSweepReleasesExpiredOpenCarts(t *testing.T) {
	ledger := newSweepLedger()
	ledger.levels["TEE-M"] = &models.InventoryLevel{SKU: "TEE-M", OnHand: 10, Reserved: 5}

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	ledger.addCart("cart-expired", "store-1", models.CartStatusOpen, past,
		models.CartItem{SKU: "TEE-M", Qty: 3})
	ledger.addCart("cart-live", "store-1", models.CartStatusOpen, future,
		models.CartItem{SKU: "TEE-M", Qty: 2})

	s := NewSweeper(ledger, nil, nil, time.Minute)
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, models.CartStatusExpired, ledger.carts["cart-expired"].Status)
	assert.Equal(t, models.CartStatusOpen, ledger.carts["cart-live"].Status)
	assert.Equal(t, 2, ledger.levels["TEE-M"].Reserved)

	require.Len(t, ledger.logs, 1)
	assert.Equal(t, -3, ledger.logs[0].Delta)
	assert.Equal(t, models.ReasonRelease, ledger.logs[0].Reason)
}

// Checked-out carts keep their in-flight reservations past the window.
func TestSweepSkipsCheckedOutCarts(t *testing.T) {
	ledger := newSweepLedger()
	ledger.levels["TEE-M"] = &models.InventoryLevel{SKU: "TEE-M", OnHand: 10, Reserved: 3}

	past := time.Now().Add(-time.Minute)
	ledger.addCart("cart-paid", "store-1", models.CartStatusCheckedOut, past,
		models.CartItem{SKU: "TEE-M", Qty: 3})

	s := NewSweeper(ledger, nil, nil, time.Minute)
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, ledger.levels["TEE-M"].Reserved)
}

func TestSweepIsIdempotent(t *testing.T) {
	ledger := newSweepLedger()
	ledger.levels["TEE-M"] = &models.InventoryLevel{SKU: "TEE-M", OnHand: 10, Reserved: 3}

	past := time.Now().Add(-time.Minute)
	ledger.addCart("cart-expired", "store-1", models.CartStatusOpen, past,
		models.CartItem{SKU: "TEE-M", Qty: 3})

	s := NewSweeper(ledger, nil, nil, time.Minute)

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-sweeping finds nothing and moves nothing.
	n, err = s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, ledger.levels["TEE-M"].Reserved)
	assert.Len(t, ledger.logs, 1)
}

// A cart that checks out between selection and the expiry claim is left
// alone.
func TestSweepLosesClaimToCheckout(t *testing.T) {
	ledger := newSweepLedger()
	ledger.levels["TEE-M"] = &models.InventoryLevel{SKU: "TEE-M", OnHand: 10, Reserved: 3}

	past := time.Now().Add(-time.Minute)
	ledger.addCart("cart-racing", "store-1", models.CartStatusOpen, past,
		models.CartItem{SKU: "TEE-M", Qty: 3})

	raced := &claimRaceLedger{sweepLedger: ledger}
	s := NewSweeper(raced, nil, nil, time.Minute)

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, ledger.levels["TEE-M"].Reserved)
	assert.Empty(t, ledger.logs)
}

type claimRaceLedger struct {
	*sweepLedger
}

func (l *claimRaceLedger) ExpireCart(ctx context.Context, cartID string) ([]models.CartItem, bool, error) {
	// Checkout wins between ListExpiredCarts and the claim.
	l.carts[cartID].Status = models.CartStatusCheckedOut
	return l.sweepLedger.ExpireCart(ctx, cartID)
}
