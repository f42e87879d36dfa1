package payments

import (
	"context"
	"strings"
	"time"

	"storefront-service/internal/util"

	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProvider implements Provider against the Stripe API. Outbound calls
// run through a shared circuit breaker so a flapping provider trips fast
// instead of tying up request workers.
type StripeProvider struct {
	breaker *gobreaker.CircuitBreaker
}

// NewStripeProvider creates a Stripe-backed provider
func NewStripeProvider() *StripeProvider {
	return &StripeProvider{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "stripe",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func apiClient(secretKey string) *client.API {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return sc
}

// CreateCheckoutSession creates a hosted payment session with one line item
// per cart item.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, secretKey string, req *SessionRequest) (*Session, error) {
	start := time.Now()
	defer func() {
		util.ProviderRequestLatency.WithLabelValues("create_session").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(req.CustomerEmail),
		SuccessURL:    stripe.String(req.SuccessURL),
		CancelURL:     stripe.String(req.CancelURL),
	}
	params.Context = ctx

	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Title),
				},
				UnitAmount: stripe.Int64(item.UnitAmountCents),
			},
			Quantity: stripe.Int64(item.Qty),
		})
	}

	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return apiClient(secretKey).CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, err
	}

	session := result.(*stripe.CheckoutSession)
	return &Session{ID: session.ID, URL: session.URL}, nil
}

// CreateRefund refunds a payment, fully when amountCents is nil.
func (p *StripeProvider) CreateRefund(ctx context.Context, secretKey, paymentIntentID string, amountCents *int64) (*RefundResult, error) {
	start := time.Now()
	defer func() {
		util.ProviderRequestLatency.WithLabelValues("create_refund").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	if amountCents != nil {
		params.Amount = stripe.Int64(*amountCents)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return apiClient(secretKey).Refunds.New(params)
	})
	if err != nil {
		return nil, err
	}

	refund := result.(*stripe.Refund)
	status := string(refund.Status)
	if status == "" {
		status = "succeeded"
	}
	return &RefundResult{ID: refund.ID, AmountCents: refund.Amount, Status: status}, nil
}

// VerifyWebhookSignature checks the signature header against the store's
// webhook secret and returns the verified event.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, sigHeader, webhookSecret string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, webhookSecret)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:     event.ID,
		Type:   string(event.Type),
		Object: event.Data.Raw,
	}, nil
}
