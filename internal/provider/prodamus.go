package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atakanuz/gatekeeper/internal/models"
)

// ProdamusGateway implements the capability set for the Prodamus payment
// form. Charges are initiated by handing the user a signed form URL; there is
// no API call to make, and confirmation arrives exclusively by webhook.
type ProdamusGateway struct {
	apiKey  string
	baseURL string
}

func NewProdamusGateway(apiKey, baseURL string) *ProdamusGateway {
	if baseURL == "" {
		baseURL = "https://payform.ru"
	}
	return &ProdamusGateway{apiKey: apiKey, baseURL: baseURL}
}

func (g *ProdamusGateway) Name() string            { return "prodamus" }
func (g *ProdamusGateway) SignatureHeader() string { return "X-Signature" }

func (g *ProdamusGateway) CreatePayment(ctx context.Context, params ChargeParams) (ChargeResult, error) {
	orderID := orderIDFor(params)
	data := map[string]string{
		"order_id":       orderID,
		"customer_email": params.UserID + "@chat.user",
		"do":             "pay",
		"amount":         minorToDecimal(params.AmountMinor),
		"description":    params.Description,
	}
	return ChargeResult{ProviderRef: orderID, PaymentURL: g.formURL(data)}, nil
}

func (g *ProdamusGateway) CreateRecurringCharge(ctx context.Context, params ChargeParams) (ChargeResult, error) {
	orderID := orderIDFor(params)
	data := map[string]string{
		"order_id":                orderID,
		"customer_email":          params.UserID + "@chat.user",
		"do":                      "pay",
		"subscription":            orderID,
		"amount":                  minorToDecimal(params.AmountMinor),
		"description":             params.Description,
		"subscription_date_start": time.Now().UTC().Format("2006-01-02 15:04:05"),
	}
	return ChargeResult{ProviderRef: orderID, PaymentURL: g.formURL(data)}, nil
}

// CancelRecurringCharge is not supported by the form-based flow; recurring
// charges stop when the provider-side subscription is canceled from its own
// dashboard, which we observe by webhook.
func (g *ProdamusGateway) CancelRecurringCharge(ctx context.Context, providerRef string) error {
	return fmt.Errorf("%w: prodamus form mode cannot cancel %s programmatically", ErrUnavailable, providerRef)
}

func (g *ProdamusGateway) VerifyWebhookSignature(payload []byte, signatureHeader, secret string) error {
	if signatureHeader == "" {
		return ErrInvalidSignature
	}

	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return ErrInvalidSignature
	}

	expected := g.Sign(data)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signatureHeader)))) {
		return ErrInvalidSignature
	}
	return nil
}

func (g *ProdamusGateway) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	orderID, _ := data["order_id"].(string)
	status, _ := data["status"].(string)
	if orderID == "" || status == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing order_id or status", ErrMalformedPayload)
	}

	var kind string
	switch strings.ToLower(status) {
	case "successful", "success", "paid", "completed":
		kind = models.PaymentEventChargeSucceeded
	case "failed", "error", "declined":
		kind = models.PaymentEventChargeFailed
	case "canceled", "cancelled", "subscription_canceled":
		kind = models.PaymentEventSubscriptionCanceled
	default:
		return WebhookEvent{}, fmt.Errorf("%w: unknown status %q", ErrMalformedPayload, status)
	}

	ev := WebhookEvent{
		ProviderEventID: eventIDFromPayload(data, payload),
		Kind:            kind,
		SubscriptionRef: orderID,
		SubscriptionID:  subscriptionIDFromOrder(orderID),
		Raw:             payload,
	}
	if subRef, ok := data["subscription"].(string); ok && subRef != "" {
		ev.SubscriptionRef = subRef
	}
	if amount, ok := data["sum"].(string); ok {
		if f, err := strconv.ParseFloat(amount, 64); err == nil {
			ev.AmountMinor = int64(f * 100)
		}
	}
	return ev, nil
}

// Sign reproduces the provider's signing scheme: drop any signature field,
// stringify every scalar recursively, marshal with sorted keys and escaped
// slashes, then HMAC-SHA256 over the canonical JSON.
func (g *ProdamusGateway) Sign(data map[string]interface{}) string {
	canonical := canonicalize(data)
	delete(canonical, "signature")

	encoded, _ := json.Marshal(canonical)
	body := strings.ReplaceAll(string(encoded), "/", "\\/")

	mac := hmac.New(sha256.New, []byte(g.apiKey))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalize converts every scalar to its string form. json.Marshal emits
// map keys in sorted order, which completes the canonical encoding.
func canonicalize(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case map[string]interface{}:
			out[key] = canonicalize(v)
		case []interface{}:
			list := make([]interface{}, len(v))
			for i, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					list[i] = canonicalize(m)
				} else {
					list[i] = stringify(item)
				}
			}
			out[key] = list
		default:
			out[key] = stringify(v)
		}
	}
	return out
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func (g *ProdamusGateway) formURL(data map[string]string) string {
	signed := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		signed[k] = v
	}
	data["signature"] = g.Sign(signed)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, data[k])
	}
	return g.baseURL + "/?" + values.Encode()
}

func orderIDFor(params ChargeParams) string {
	return "gk_" + params.SubscriptionID + "_" + params.IdempotencyKey
}

// subscriptionIDFromOrder recovers our subscription id from the order_id we
// issued; empty when the order was not created by this service.
func subscriptionIDFromOrder(orderID string) string {
	if !strings.HasPrefix(orderID, "gk_") {
		return ""
	}
	parts := strings.SplitN(strings.TrimPrefix(orderID, "gk_"), "_", 2)
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	return parts[0]
}

// eventIDFromPayload prefers the provider's payment id and falls back to a
// payload hash so replays of id-less callbacks still deduplicate.
func eventIDFromPayload(data map[string]interface{}, payload []byte) string {
	if id, ok := data["payment_id"].(string); ok && id != "" {
		return "prodamus:" + id
	}
	if id, ok := data["payment_id"].(float64); ok {
		return "prodamus:" + strconv.FormatInt(int64(id), 10)
	}
	sum := sha256.Sum256(payload)
	return "prodamus:hash:" + hex.EncodeToString(sum[:])
}

func minorToDecimal(minor int64) string {
	return strconv.FormatInt(minor/100, 10) + "." + fmt.Sprintf("%02d", minor%100)
}
