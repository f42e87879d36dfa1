package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/payments"
	"storefront-service/internal/store"
)

// fakeLedger is an in-memory Ledger mirroring the SQL semantics: conditional
// reserve, clamped release, CAS cart transitions, and claim-once fulfillment.
type fakeLedger struct {
	mu           sync.Mutex
	stores       map[string]*models.Store
	variants     map[string]*models.Variant
	levels       map[string]*models.InventoryLevel
	logs         []models.InventoryLogEntry
	carts        map[string]*models.Cart
	cartItems    map[string][]models.CartItem
	orders       map[string]*models.Order
	orderItems   map[string][]models.OrderItem
	refunds      []models.Refund
	processed    map[string]*models.ProcessedEvent
	replaceCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		stores:     make(map[string]*models.Store),
		variants:   make(map[string]*models.Variant),
		levels:     make(map[string]*models.InventoryLevel),
		carts:      make(map[string]*models.Cart),
		cartItems:  make(map[string][]models.CartItem),
		orders:     make(map[string]*models.Order),
		orderItems: make(map[string][]models.OrderItem),
		processed:  make(map[string]*models.ProcessedEvent),
	}
}

func skuKey(storeID, sku string) string {
	return storeID + "/" + sku
}

func (f *fakeLedger) addStore(st *models.Store) {
	f.stores[st.ID] = st
}

func (f *fakeLedger) addVariant(v *models.Variant) {
	f.variants[skuKey(v.StoreID, v.SKU)] = v
}

func (f *fakeLedger) addLevel(storeID, sku string, onHand, reserved int) {
	f.levels[skuKey(storeID, sku)] = &models.InventoryLevel{
		StoreID: storeID, SKU: sku, OnHand: onHand, Reserved: reserved,
	}
}

func (f *fakeLedger) level(storeID, sku string) *models.InventoryLevel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[skuKey(storeID, sku)]
}

func (f *fakeLedger) appendLog(storeID, sku string, delta int, reason string) {
	f.logs = append(f.logs, models.InventoryLogEntry{
		StoreID: storeID, SKU: sku, Delta: delta, Reason: reason, CreatedAt: time.Now(),
	})
}

func (f *fakeLedger) GetStoreByID(_ context.Context, id string) (*models.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores[id], nil
}

func (f *fakeLedger) GetVariantBySKU(_ context.Context, storeID, sku string) (*models.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variants[skuKey(storeID, sku)], nil
}

func (f *fakeLedger) GetInventoryLevel(_ context.Context, storeID, sku string) (*models.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lvl := f.levels[skuKey(storeID, sku)]
	if lvl == nil {
		return nil, nil
	}
	copied := *lvl
	return &copied, nil
}

func (f *fakeLedger) ListInventoryLevels(_ context.Context, storeID string) ([]models.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.InventoryLevel
	for _, lvl := range f.levels {
		if lvl.StoreID == storeID {
			out = append(out, *lvl)
		}
	}
	return out, nil
}

func (f *fakeLedger) AdjustOnHand(_ context.Context, storeID, sku string, delta int, reason string) (*models.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lvl := f.levels[skuKey(storeID, sku)]
	if lvl == nil {
		return nil, nil
	}
	lvl.OnHand += delta
	f.appendLog(storeID, sku, delta, reason)
	copied := *lvl
	return &copied, nil
}

func (f *fakeLedger) ReserveStock(_ context.Context, storeID, sku string, qty int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lvl := f.levels[skuKey(storeID, sku)]
	if lvl == nil || lvl.OnHand-lvl.Reserved < qty {
		return false, nil
	}
	lvl.Reserved += qty
	return true, nil
}

func (f *fakeLedger) ReleaseStock(_ context.Context, storeID, sku string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lvl := f.levels[skuKey(storeID, sku)]; lvl != nil {
		lvl.Reserved -= qty
		if lvl.Reserved < 0 {
			lvl.Reserved = 0
		}
	}
	f.appendLog(storeID, sku, -qty, models.ReasonRelease)
	return nil
}

func (f *fakeLedger) GetInventoryLogs(_ context.Context, storeID, sku string) ([]models.InventoryLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.InventoryLogEntry
	for _, entry := range f.logs {
		if entry.StoreID == storeID && entry.SKU == sku {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeLedger) CreateCart(_ context.Context, cart *models.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *cart
	f.carts[cart.ID] = &copied
	return nil
}

func (f *fakeLedger) GetCart(_ context.Context, storeID, cartID string) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.carts[cartID]
	if cart == nil || cart.StoreID != storeID {
		return nil, nil
	}
	copied := *cart
	return &copied, nil
}

func (f *fakeLedger) GetCartByID(_ context.Context, cartID string) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.carts[cartID]
	if cart == nil {
		return nil, nil
	}
	copied := *cart
	return &copied, nil
}

func (f *fakeLedger) GetCartItems(_ context.Context, cartID string) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CartItem(nil), f.cartItems[cartID]...), nil
}

func (f *fakeLedger) ReplaceCartItems(_ context.Context, cartID string, items []models.CartItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	f.cartItems[cartID] = append([]models.CartItem(nil), items...)
	return nil
}

func (f *fakeLedger) MarkCartCheckedOut(_ context.Context, cartID, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.carts[cartID]
	if cart == nil || cart.Status != models.CartStatusOpen {
		return false, nil
	}
	cart.Status = models.CartStatusCheckedOut
	cart.StripeCheckoutSessionID = &sessionID
	return true, nil
}

func (f *fakeLedger) ListExpiredCarts(_ context.Context, now time.Time) ([]models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Cart
	for _, cart := range f.carts {
		if cart.Status == models.CartStatusOpen && cart.ExpiresAt.Before(now) {
			out = append(out, *cart)
		}
	}
	return out, nil
}

func (f *fakeLedger) ExpireCart(_ context.Context, cartID string) ([]models.CartItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.carts[cartID]
	if cart == nil || cart.Status != models.CartStatusOpen {
		return nil, false, nil
	}
	cart.Status = models.CartStatusExpired
	items := append([]models.CartItem(nil), f.cartItems[cartID]...)
	for _, item := range items {
		if lvl := f.levels[skuKey(cart.StoreID, item.SKU)]; lvl != nil {
			lvl.Reserved -= item.Qty
			if lvl.Reserved < 0 {
				lvl.Reserved = 0
			}
		}
		f.appendLog(cart.StoreID, item.SKU, -item.Qty, models.ReasonRelease)
	}
	return items, true, nil
}

func (f *fakeLedger) FulfillCart(_ context.Context, p store.FulfillCartParams) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cart := f.carts[p.Cart.ID]
	if cart == nil || cart.Status != models.CartStatusCheckedOut || cart.FulfilledAt != nil {
		if p.Event != nil {
			f.recordEventLocked(p.Event)
		}
		return nil, nil
	}
	now := time.Now()
	cart.FulfilledAt = &now

	order := &models.Order{
		ID:            fmt.Sprintf("order-%d", len(f.orders)+1),
		StoreID:       cart.StoreID,
		Number:        fmt.Sprintf("ORD-%05d", f.countOrdersLocked(cart.StoreID)+1),
		Status:        models.OrderStatusPaid,
		CustomerEmail: cart.CustomerEmail,
		ShipTo:        p.ShipTo,
		SubtotalCents: p.SubtotalCents,
		TaxCents:      p.TaxCents,
		ShippingCents: p.ShippingCents,
		TotalCents:    p.TotalCents,
		Currency:      cart.Currency,
	}
	if p.SessionID != "" {
		order.StripeCheckoutSessionID = &p.SessionID
	}
	if p.PaymentIntentID != "" {
		order.StripePaymentIntentID = &p.PaymentIntentID
	}
	f.orders[order.ID] = order

	for _, item := range p.Items {
		f.orderItems[order.ID] = append(f.orderItems[order.ID], models.OrderItem{
			OrderID: order.ID, SKU: item.SKU, Title: item.Title,
			Qty: item.Qty, UnitPriceCents: item.UnitPriceCents,
		})
		if lvl := f.levels[skuKey(cart.StoreID, item.SKU)]; lvl != nil {
			lvl.Reserved -= item.Qty
			if lvl.Reserved < 0 {
				lvl.Reserved = 0
			}
			lvl.OnHand -= item.Qty
		}
		f.appendLog(cart.StoreID, item.SKU, -item.Qty, models.ReasonSale)
	}

	if p.Event != nil {
		f.recordEventLocked(p.Event)
	}
	return order, nil
}

func (f *fakeLedger) CreateTestOrder(_ context.Context, storeID, customerEmail, currency string, items []models.CartItem) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPriceCents * int64(item.Qty)
	}

	order := &models.Order{
		ID:            fmt.Sprintf("order-%d", len(f.orders)+1),
		StoreID:       storeID,
		Number:        fmt.Sprintf("ORD-%05d", f.countOrdersLocked(storeID)+1),
		Status:        models.OrderStatusPaid,
		CustomerEmail: customerEmail,
		SubtotalCents: subtotal,
		TotalCents:    subtotal,
		Currency:      currency,
	}
	f.orders[order.ID] = order

	for _, item := range items {
		f.orderItems[order.ID] = append(f.orderItems[order.ID], models.OrderItem{
			OrderID: order.ID, SKU: item.SKU, Title: item.Title,
			Qty: item.Qty, UnitPriceCents: item.UnitPriceCents,
		})
		if lvl := f.levels[skuKey(storeID, item.SKU)]; lvl != nil {
			lvl.OnHand -= item.Qty
		}
		f.appendLog(storeID, item.SKU, -item.Qty, models.ReasonSale)
	}
	return order, nil
}

func (f *fakeLedger) countOrdersLocked(storeID string) int {
	n := 0
	for _, order := range f.orders {
		if order.StoreID == storeID {
			n++
		}
	}
	return n
}

func (f *fakeLedger) GetOrder(_ context.Context, storeID, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := f.orders[orderID]
	if order == nil || order.StoreID != storeID {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (f *fakeLedger) ListOrders(_ context.Context, storeID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, order := range f.orders {
		if order.StoreID == storeID {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetOrderItems(_ context.Context, orderID string) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.orderItems[orderID]...), nil
}

func (f *fakeLedger) MarkOrderRefunded(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order := f.orders[orderID]; order != nil {
		order.Status = models.OrderStatusRefunded
	}
	return nil
}

func (f *fakeLedger) CreateRefund(_ context.Context, refund *models.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, *refund)
	return nil
}

func (f *fakeLedger) IsEventProcessed(_ context.Context, stripeEventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.processed[stripeEventID]
	return ok, nil
}

func (f *fakeLedger) RecordProcessedEvent(_ context.Context, event *models.ProcessedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordEventLocked(event)
	return nil
}

func (f *fakeLedger) recordEventLocked(event *models.ProcessedEvent) {
	if _, ok := f.processed[event.StripeEventID]; ok {
		return
	}
	copied := *event
	f.processed[event.StripeEventID] = &copied
}

var _ Ledger = (*fakeLedger)(nil)

// fakeProvider implements payments.Provider without touching the network.
// VerifyWebhookSignature parses the body the way the real verifier does,
// minus the signature math.
type fakeProvider struct {
	mu          sync.Mutex
	failSession bool
	failRefund  bool
	verifyErr   error
	sessions    []*payments.SessionRequest
	refundCalls int
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, _ string, req *payments.SessionRequest) (*payments.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSession {
		return nil, errors.New("connection reset by provider")
	}
	p.sessions = append(p.sessions, req)
	id := fmt.Sprintf("cs_test_%d", len(p.sessions))
	return &payments.Session{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (p *fakeProvider) CreateRefund(_ context.Context, _, paymentIntentID string, amountCents *int64) (*payments.RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRefund {
		return nil, errors.New("refund declined")
	}
	p.refundCalls++
	amount := int64(0)
	if amountCents != nil {
		amount = *amountCents
	}
	return &payments.RefundResult{
		ID:          fmt.Sprintf("re_test_%d", p.refundCalls),
		AmountCents: amount,
		Status:      "succeeded",
	}, nil
}

func (p *fakeProvider) VerifyWebhookSignature(payload []byte, _, _ string) (*payments.Event, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	return &payments.Event{ID: envelope.ID, Type: envelope.Type, Object: envelope.Data.Object}, nil
}

var _ payments.Provider = (*fakeProvider)(nil)

// completedSessionBody builds a checkout.session.completed webhook body the
// way Stripe delivers it.
func completedSessionBody(eventID, storeID, cartID, sessionID, paymentIntent string, total int64) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": "checkout.session.completed",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":              sessionID,
				"payment_intent":  paymentIntent,
				"amount_subtotal": total,
				"amount_total":    total,
				"total_details": map[string]int64{
					"amount_tax":      0,
					"amount_shipping": 0,
				},
				"metadata": map[string]string{
					"cart_id":  cartID,
					"store_id": storeID,
				},
			},
		},
	})
	return body
}
