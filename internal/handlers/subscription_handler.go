package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/dto"
	"github.com/atakanuz/gatekeeper/internal/services"
	"github.com/atakanuz/gatekeeper/internal/store"
)

type SubscriptionHandler struct {
	engine *services.LifecycleEngine
}

func NewSubscriptionHandler(engine *services.LifecycleEngine) *SubscriptionHandler {
	return &SubscriptionHandler{engine: engine}
}

// Start opens a subscription for the authenticated user in the resolved
// community and returns the provider payment URL.
func (h *SubscriptionHandler) Start(c *fiber.Ctx) error {
	communityID := community.FromCtx(c)
	userID := userIDFrom(c)

	var req dto.StartSubscriptionRequest
	if err := c.BodyParser(&req); err == nil && req.UserID != "" {
		userID = req.UserID
	}
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "user_id is required",
		})
	}

	sub, payURL, err := h.engine.StartSubscription(c.UserContext(), communityID, userID)
	if err != nil {
		if errors.Is(err, services.ErrSubscriptionExists) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error: "subscription already open", Code: "subscription_exists",
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: "failed to start subscription", Code: "provider_unavailable",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.StartSubscriptionResponse{
		SubscriptionID: sub.ID.String(),
		State:          sub.State,
		PaymentURL:     payURL,
		AmountMinor:    sub.AmountMinor,
		Currency:       sub.Currency,
	})
}

// Cancel applies user cancellation to the caller's open subscription.
func (h *SubscriptionHandler) Cancel(c *fiber.Ctx) error {
	communityID := community.FromCtx(c)
	userID := userIDFrom(c)
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "user_id is required",
		})
	}

	sub, err := h.engine.Cancel(c.UserContext(), communityID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: "no open subscription", Code: "not_found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to cancel subscription",
		})
	}

	return c.JSON(dto.CancelSubscriptionResponse{
		SubscriptionID: sub.ID.String(),
		State:          sub.State,
		AutoRenew:      sub.AutoRenew,
	})
}

// Status reports the caller's current entitlement.
func (h *SubscriptionHandler) Status(c *fiber.Ctx) error {
	communityID := community.FromCtx(c)
	userID := userIDFrom(c)
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "user_id is required",
		})
	}

	sub, err := h.engine.Status(c.UserContext(), communityID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(dto.SubscriptionStatusResponse{
				State:    "none",
				Entitled: false,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to load subscription",
		})
	}

	resp := dto.SubscriptionStatusResponse{
		SubscriptionID: sub.ID.String(),
		State:          sub.State,
		Entitled:       sub.Entitled(),
		AutoRenew:      sub.AutoRenew,
		DaysLeft:       h.engine.DaysLeft(sub),
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		resp.CurrentPeriodEnd = &end
	}
	resp.GraceUntil = sub.GraceUntil
	return c.JSON(resp)
}

// userIDFrom extracts the target user from the path param when present
// (bot frontends act on behalf of members), otherwise from the JWT subject,
// falling back to the user_id query param.
func userIDFrom(c *fiber.Ctx) string {
	if id := c.Params("user_id"); id != "" {
		return id
	}
	if token, ok := c.Locals("user").(*jwt.Token); ok {
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				return sub
			}
		}
	}
	return c.Query("user_id")
}
