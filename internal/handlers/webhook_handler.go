package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/dto"
	"github.com/atakanuz/gatekeeper/internal/lifecycle"
	"github.com/atakanuz/gatekeeper/internal/provider"
	"github.com/atakanuz/gatekeeper/internal/services"
	"github.com/atakanuz/gatekeeper/internal/store"
)

type WebhookHandler struct {
	reconciler *services.ReconcilerService
	gateway    provider.Gateway
	registry   *community.Registry
}

func NewWebhookHandler(reconciler *services.ReconcilerService, gateway provider.Gateway, registry *community.Registry) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		gateway:    gateway,
		registry:   registry,
	}
}

// HandlePayment ingests provider webhooks routed by :community_id. Status
// codes steer provider retries: 2xx stops them (including duplicates), 4xx
// marks a permanently bad delivery, 5xx asks for another attempt.
func (h *WebhookHandler) HandlePayment(c *fiber.Ctx) error {
	communityID := c.Params("community_id")
	if communityID == "" || !h.registry.Exists(communityID) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: "unknown community", Code: "unknown_community",
		})
	}

	payload := c.Body()
	signature := c.Get(h.gateway.SignatureHeader())

	err := h.reconciler.Handle(c.UserContext(), communityID, payload, signature)
	if err == nil {
		return c.JSON(fiber.Map{"received": true})
	}

	switch {
	case errors.Is(err, provider.ErrInvalidSignature):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: "invalid signature", Code: "invalid_signature",
		})
	case errors.Is(err, provider.ErrMalformedPayload):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "malformed payload", Code: "malformed_payload",
		})
	case errors.Is(err, services.ErrUnknownSubscription):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "unknown subscription", Code: "unknown_subscription",
		})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		slog.Error("webhook produced invalid transition",
			"community_id", communityID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "event not applicable", Code: "invalid_transition",
		})
	case errors.Is(err, store.ErrConcurrentModification):
		// A racing delivery won; let the provider retry so this one is
		// recognized as a duplicate.
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: "concurrent delivery", Code: "concurrent_modification",
		})
	default:
		slog.Error("webhook processing failed",
			"community_id", communityID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to process event", Code: "internal",
		})
	}
}
