package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/atakanuz/gatekeeper/internal/dto"
	"github.com/atakanuz/gatekeeper/internal/services"
	"github.com/atakanuz/gatekeeper/internal/store"
)

type AdminHandler struct {
	plans      *services.PlanService
	membership *services.MembershipService
}

func NewAdminHandler(plans *services.PlanService, membership *services.MembershipService) *AdminHandler {
	return &AdminHandler{plans: plans, membership: membership}
}

// SetPlan updates a community's price. Only subscriptions opened after this
// call see the new amount.
func (h *AdminHandler) SetPlan(c *fiber.Ctx) error {
	communityID := c.Params("community_id")

	var req dto.SetPlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
		})
	}

	plan, err := h.plans.SetPrice(c.UserContext(), communityID, req.AmountMinor, req.Currency, req.Interval)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	return c.JSON(dto.PlanResponse{
		CommunityID: plan.CommunityID,
		AmountMinor: plan.AmountMinor,
		Currency:    plan.Currency,
		Interval:    plan.Interval,
	})
}

// FailedIntents lists membership intents that exhausted their retries.
func (h *AdminHandler) FailedIntents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	intents, err := h.membership.ListFailed(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to list intents",
		})
	}

	out := make([]dto.FailedIntentResponse, 0, len(intents))
	for _, intent := range intents {
		out = append(out, dto.FailedIntentResponse{
			ID:             intent.ID.String(),
			SubscriptionID: intent.SubscriptionID.String(),
			CommunityID:    intent.CommunityID,
			UserID:         intent.UserID,
			DesiredState:   intent.DesiredState,
			AttemptCount:   intent.AttemptCount,
			LastError:      intent.LastError,
			LastAttemptAt:  intent.LastAttemptAt,
		})
	}
	return c.JSON(out)
}

// RetryIntent requeues a failed intent.
func (h *AdminHandler) RetryIntent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid intent id",
		})
	}

	if err := h.membership.Retry(c.UserContext(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: "intent not found",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	slog.Info("failed intent requeued", "intent_id", id)
	return c.JSON(dto.RetryIntentResponse{ID: id.String(), Queued: true})
}
