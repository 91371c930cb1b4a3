package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/database"
	"github.com/atakanuz/gatekeeper/internal/dto"
)

type HealthHandler struct {
	registry *community.Registry
}

func NewHealthHandler(registry *community.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := database.Ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:      "ok",
		Database:    dbStatus,
		Communities: len(h.registry.All()),
	})
}
