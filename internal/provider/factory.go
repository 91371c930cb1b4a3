package provider

import (
	"fmt"

	"github.com/atakanuz/gatekeeper/internal/config"
)

// New resolves the configured payment gateway. The provider is fixed at
// startup; webhook routes and idempotency keys assume a single gateway
// per deployment.
func New(cfg *config.Config) (Gateway, error) {
	switch cfg.PaymentProvider {
	case "demo", "":
		return NewDemoGateway(cfg.DemoPayBaseURL), nil
	case "stripe":
		if cfg.StripeAPIKey == "" {
			return nil, fmt.Errorf("stripe gateway requires STRIPE_API_KEY")
		}
		return NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, cfg.StripeSuccessURL, cfg.StripeCancelURL), nil
	case "prodamus":
		if cfg.ProdamusAPIKey == "" {
			return nil, fmt.Errorf("prodamus gateway requires PRODAMUS_API_KEY")
		}
		return NewProdamusGateway(cfg.ProdamusAPIKey, cfg.ProdamusFormURL), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}
