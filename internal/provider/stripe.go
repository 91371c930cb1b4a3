package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/checkout/session"
	"github.com/stripe/stripe-go/plan"
	"github.com/stripe/stripe-go/sub"
	"github.com/stripe/stripe-go/webhook"

	"github.com/atakanuz/gatekeeper/internal/models"
)

// StripeGateway backs the capability set with the official Stripe SDK.
// Recurring charges are modeled as Checkout sessions in subscription mode;
// confirmation always arrives through invoice webhooks.
type StripeGateway struct {
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripeGateway(apiKey, webhookSecret, successURL, cancelURL string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
	}
}

func (g *StripeGateway) Name() string            { return "stripe" }
func (g *StripeGateway) SignatureHeader() string { return "Stripe-Signature" }

func (g *StripeGateway) CreatePayment(ctx context.Context, params ChargeParams) (ChargeResult, error) {
	p := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String("payment"),
		SuccessURL:         stripe.String(g.successURL),
		CancelURL:          stripe.String(g.cancelURL),
		ClientReferenceID:  stripe.String(params.SubscriptionID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Amount:   stripe.Int64(params.AmountMinor),
			Currency: stripe.String(params.Currency),
			Name:     stripe.String(params.Description),
			Quantity: stripe.Int64(1),
		}},
	}
	p.IdempotencyKey = stripe.String(params.IdempotencyKey)

	s, err := session.New(p)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ChargeResult{
		ProviderRef: s.ID,
		PaymentURL:  checkoutURL(s.ID),
	}, nil
}

func (g *StripeGateway) CreateRecurringCharge(ctx context.Context, params ChargeParams) (ChargeResult, error) {
	planParams := &stripe.PlanParams{
		Amount:   stripe.Int64(params.AmountMinor),
		Currency: stripe.String(params.Currency),
		Interval: stripe.String(string(stripe.PlanIntervalMonth)),
		Product: &stripe.PlanProductParams{
			Name: stripe.String(params.Description),
		},
	}
	planParams.IdempotencyKey = stripe.String(params.IdempotencyKey + ":plan")
	pl, err := plan.New(planParams)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String("subscription"),
		SuccessURL:         stripe.String(g.successURL),
		CancelURL:          stripe.String(g.cancelURL),
		ClientReferenceID:  stripe.String(params.SubscriptionID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Items: []*stripe.CheckoutSessionSubscriptionDataItemsParams{{
				Plan:     stripe.String(pl.ID),
				Quantity: stripe.Int64(1),
			}},
		},
	}
	p.IdempotencyKey = stripe.String(params.IdempotencyKey)

	s, err := session.New(p)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ChargeResult{
		ProviderRef: s.ID,
		PaymentURL:  checkoutURL(s.ID),
	}, nil
}

func (g *StripeGateway) CancelRecurringCharge(ctx context.Context, providerRef string) error {
	if _, err := sub.Cancel(providerRef, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signatureHeader, secret string) error {
	// Stripe signs with the endpoint secret from its own dashboard, not the
	// per-community secret.
	if secret == "" || g.webhookSecret != "" {
		secret = g.webhookSecret
	}
	if _, err := webhook.ConstructEvent(payload, signatureHeader, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (g *StripeGateway) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.ID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}

	var kind string
	switch event.Type {
	case "invoice.payment_succeeded":
		kind = models.PaymentEventChargeSucceeded
	case "invoice.payment_failed":
		kind = models.PaymentEventChargeFailed
	case "customer.subscription.deleted":
		kind = models.PaymentEventSubscriptionCanceled
	default:
		return WebhookEvent{}, fmt.Errorf("%w: unhandled event type %q", ErrMalformedPayload, event.Type)
	}

	obj := event.Data.Object
	ev := WebhookEvent{
		ProviderEventID: event.ID,
		Kind:            kind,
		Raw:             payload,
	}

	switch kind {
	case models.PaymentEventSubscriptionCanceled:
		ev.SubscriptionRef, _ = obj["id"].(string)
	default:
		ev.SubscriptionRef, _ = obj["subscription"].(string)
		if amount, ok := obj["amount_paid"].(float64); ok {
			ev.AmountMinor = int64(amount)
		} else if amount, ok := obj["amount_due"].(float64); ok {
			ev.AmountMinor = int64(amount)
		}
		ev.Currency, _ = obj["currency"].(string)
		if end, ok := obj["period_end"].(float64); ok {
			ev.PeriodEnd = time.Unix(int64(end), 0).UTC()
		}
	}

	if meta, ok := obj["metadata"].(map[string]interface{}); ok {
		ev.SubscriptionID, _ = meta["subscription_id"].(string)
		ev.UserID, _ = meta["user_id"].(string)
	}
	return ev, nil
}

func checkoutURL(sessionID string) string {
	return "https://checkout.stripe.com/pay/" + sessionID
}
