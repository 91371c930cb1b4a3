package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/config"
	"github.com/atakanuz/gatekeeper/internal/handlers"
	"github.com/atakanuz/gatekeeper/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	registry *community.Registry,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	subscriptionHandler *handlers.SubscriptionHandler,
	adminHandler *handlers.AdminHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	// Health (no community required)
	api.Get("/health", healthHandler.Check)

	// Webhooks are signature-verified per :community_id, no JWT. Providers
	// retry aggressively, so webhooks get their own generous limit.
	webhooks := api.Group("/webhooks")
	webhooks.Use(limiter.New(limiter.Config{
		Max:               600,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	webhooks.Post("/payment/:community_id", webhookHandler.HandlePayment)

	// Subscription lifecycle (JWT required, community resolved after auth)
	subs := api.Group("/subscriptions",
		middleware.JWTProtected(cfg),
		middleware.CommunityMiddleware(registry),
	)
	subs.Post("/", subscriptionHandler.Start)
	subs.Get("/:user_id?", subscriptionHandler.Status)
	subs.Delete("/:user_id?", subscriptionHandler.Cancel)

	// Admin surface (JWT + admin check)
	admin := api.Group("/admin", middleware.JWTOrAdminToken(cfg), middleware.AdminRequired(cfg))
	admin.Put("/communities/:community_id/plan", adminHandler.SetPlan)
	admin.Get("/intents/failed", adminHandler.FailedIntents)
	admin.Post("/intents/:id/retry", adminHandler.RetryIntent)
}
