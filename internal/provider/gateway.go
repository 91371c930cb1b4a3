// Package provider defines the payment-provider capability set and its
// backends. One backend is selected at startup from configuration and passed
// explicitly to every component that charges, cancels or reconciles.
package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidSignature means the webhook signature did not verify.
	// Nothing derived from such a payload may be written.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload means the payload verified but could not be parsed.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUnavailable is a transient provider failure (network, timeout,
	// rate limit). A timed-out charge attempt is never payment evidence;
	// the webhook is the authoritative confirmation.
	ErrUnavailable = errors.New("payment provider unavailable")
)

// ChargeParams describes a payment or recurring charge to create.
// IdempotencyKey is derived from (subscription, intent, period) so provider-
// side retries of the same logical charge are safe.
type ChargeParams struct {
	SubscriptionID string
	CommunityID    string
	UserID         string
	AmountMinor    int64
	Currency       string
	Description    string
	IdempotencyKey string
}

// ChargeResult is the provider's answer to a charge creation. The charge
// itself is confirmed later, by webhook.
type ChargeResult struct {
	ProviderRef string
	PaymentURL  string
}

// WebhookEvent is the provider-agnostic shape of a parsed callback.
type WebhookEvent struct {
	ProviderEventID string
	Kind            string // models.PaymentEvent* kind
	SubscriptionRef string // provider-side recurring charge reference
	SubscriptionID  string // our subscription id echoed back via metadata, may be empty
	UserID          string
	AmountMinor     int64
	Currency        string
	PeriodEnd       time.Time // zero when the provider does not report it
	Raw             []byte
}

// Gateway is the fixed capability set every payment backend implements.
// Every mutating call may fail with ErrUnavailable or a provider business
// error; failures never imply a subscription state change by themselves.
type Gateway interface {
	Name() string
	SignatureHeader() string

	CreatePayment(ctx context.Context, params ChargeParams) (ChargeResult, error)
	CreateRecurringCharge(ctx context.Context, params ChargeParams) (ChargeResult, error)
	CancelRecurringCharge(ctx context.Context, providerRef string) error

	VerifyWebhookSignature(payload []byte, signatureHeader, secret string) error
	ParseWebhookEvent(payload []byte) (WebhookEvent, error)
}
