package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atakanuz/gatekeeper/internal/models"
)

// DemoGateway simulates a payment backend deterministically. It signs and
// verifies webhooks with HMAC-SHA256 like a real provider, so the reconciler
// path under test is the production path.
type DemoGateway struct {
	baseURL string

	mu      sync.Mutex
	charges map[string]ChargeParams // keyed by idempotency key
	seq     int
}

func NewDemoGateway(baseURL string) *DemoGateway {
	return &DemoGateway{
		baseURL: baseURL,
		charges: make(map[string]ChargeParams),
	}
}

func (g *DemoGateway) Name() string            { return "demo" }
func (g *DemoGateway) SignatureHeader() string { return "X-Demo-Signature" }

func (g *DemoGateway) CreatePayment(ctx context.Context, params ChargeParams) (ChargeResult, error) {
	return g.record(params, "demo_pay")
}

func (g *DemoGateway) CreateRecurringCharge(ctx context.Context, params ChargeParams) (ChargeResult, error) {
	return g.record(params, "demo_sub")
}

func (g *DemoGateway) record(params ChargeParams, prefix string) (ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Replays of the same idempotency key return the original reference.
	if prev, ok := g.charges[params.IdempotencyKey]; ok {
		return ChargeResult{
			ProviderRef: prev.Description,
			PaymentURL:  g.baseURL + "/pay/" + prev.Description,
		}, nil
	}

	g.seq++
	ref := fmt.Sprintf("%s_%06d", prefix, g.seq)
	stored := params
	stored.Description = ref
	g.charges[params.IdempotencyKey] = stored

	return ChargeResult{ProviderRef: ref, PaymentURL: g.baseURL + "/pay/" + ref}, nil
}

func (g *DemoGateway) CancelRecurringCharge(ctx context.Context, providerRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, charge := range g.charges {
		if charge.Description == providerRef {
			delete(g.charges, key)
			return nil
		}
	}
	return fmt.Errorf("demo recurring charge %s not found", providerRef)
}

// ChargeCount reports how many distinct charges were initiated. Used by the
// sweeper simulation to assert one renewal per period.
func (g *DemoGateway) ChargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

// CompletePayment simulates the customer finishing checkout for an initiated
// charge. It returns the payment.succeeded webhook payload and signature the
// demo backend would deliver for that charge.
func (g *DemoGateway) CompletePayment(providerRef, secret string) ([]byte, string, error) {
	g.mu.Lock()
	var charge ChargeParams
	found := false
	for _, c := range g.charges {
		if c.Description == providerRef {
			charge = c
			found = true
			break
		}
	}
	g.mu.Unlock()
	if !found {
		return nil, "", fmt.Errorf("demo charge %s not found", providerRef)
	}

	payload, err := json.Marshal(demoWebhookPayload{
		EventID:         "evt_" + providerRef,
		Type:            "payment.succeeded",
		SubscriptionRef: providerRef,
		SubscriptionID:  charge.SubscriptionID,
		UserID:          charge.UserID,
		AmountMinor:     charge.AmountMinor,
		Currency:        charge.Currency,
	})
	if err != nil {
		return nil, "", err
	}
	return payload, g.Sign(payload, secret), nil
}

// Sign computes the webhook signature the demo backend would send.
func (g *DemoGateway) Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *DemoGateway) VerifyWebhookSignature(payload []byte, signatureHeader, secret string) error {
	if signatureHeader == "" || secret == "" {
		return ErrInvalidSignature
	}
	expected, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrInvalidSignature
	}
	return nil
}

type demoWebhookPayload struct {
	EventID         string `json:"event_id"`
	Type            string `json:"type"`
	SubscriptionRef string `json:"subscription_ref"`
	SubscriptionID  string `json:"subscription_id"`
	UserID          string `json:"user_id"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	PeriodEnd       string `json:"period_end"`
}

func (g *DemoGateway) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var p demoWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.EventID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing event_id", ErrMalformedPayload)
	}

	var kind string
	switch p.Type {
	case "payment.succeeded":
		kind = models.PaymentEventChargeSucceeded
	case "payment.failed":
		kind = models.PaymentEventChargeFailed
	case "subscription.canceled":
		kind = models.PaymentEventSubscriptionCanceled
	default:
		return WebhookEvent{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedPayload, p.Type)
	}

	var periodEnd time.Time
	if p.PeriodEnd != "" {
		t, err := time.Parse(time.RFC3339, p.PeriodEnd)
		if err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: bad period_end: %v", ErrMalformedPayload, err)
		}
		periodEnd = t
	}

	return WebhookEvent{
		ProviderEventID: p.EventID,
		Kind:            kind,
		SubscriptionRef: p.SubscriptionRef,
		SubscriptionID:  p.SubscriptionID,
		UserID:          p.UserID,
		AmountMinor:     p.AmountMinor,
		Currency:        p.Currency,
		PeriodEnd:       periodEnd,
		Raw:             payload,
	}, nil
}
