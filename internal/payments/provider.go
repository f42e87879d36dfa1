package payments

import (
	"context"
	"encoding/json"
)

// SessionLineItem is one purchasable line in a checkout session request.
type SessionLineItem struct {
	Title           string
	UnitAmountCents int64
	Qty             int64
}

// SessionRequest describes the payment session to create. Metadata must
// carry cart_id and store_id: the webhook path depends on them to find its
// way back to the cart.
type SessionRequest struct {
	CustomerEmail string
	Currency      string
	LineItems     []SessionLineItem
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// Session is the created payment session.
type Session struct {
	ID  string
	URL string
}

// RefundResult is the provider's confirmation of a refund attempt.
type RefundResult struct {
	ID          string
	AmountCents int64
	Status      string
}

// Event is a verified webhook event.
type Event struct {
	ID   string
	Type string
	// Object is the raw event object payload (the checkout session for
	// checkout.session.completed).
	Object json.RawMessage
}

// Provider is the payment provider surface the engine depends on. Stores
// carry their own credentials, so every call takes the store's secret.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, secretKey string, req *SessionRequest) (*Session, error)
	CreateRefund(ctx context.Context, secretKey, paymentIntentID string, amountCents *int64) (*RefundResult, error)
	VerifyWebhookSignature(payload []byte, sigHeader, webhookSecret string) (*Event, error)
}

// SessionPayload is the subset of a checkout session object the reconciler
// reads out of a completed-session webhook event.
type SessionPayload struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	AmountSubtotal int64  `json:"amount_subtotal"`
	AmountTotal    int64  `json:"amount_total"`
	TotalDetails   struct {
		AmountTax      int64 `json:"amount_tax"`
		AmountShipping int64 `json:"amount_shipping"`
	} `json:"total_details"`
	ShippingDetails *struct {
		Address json.RawMessage `json:"address"`
	} `json:"shipping_details"`
	Metadata map[string]string `json:"metadata"`
}

// ParseSessionPayload decodes the event object into a SessionPayload.
func ParseSessionPayload(object json.RawMessage) (*SessionPayload, error) {
	var payload SessionPayload
	if err := json.Unmarshal(object, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// PeekStoreID extracts data.object.metadata.store_id from a raw, unverified
// webhook body. Verification needs the store's secret, and the store can
// only be found from the payload itself.
func PeekStoreID(body []byte) (string, bool) {
	var peek struct {
		Data struct {
			Object struct {
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return "", false
	}
	storeID, ok := peek.Data.Object.Metadata["store_id"]
	return storeID, ok && storeID != ""
}
