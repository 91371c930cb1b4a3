package middleware

import (
	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// CommunityMiddleware extracts community_id from JWT claims, the
// X-Community-ID header, or a query param. It must run after JWT
// authentication so the token claims are available.
func CommunityMiddleware(registry *community.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 1. Try JWT claim (already authenticated)
		var communityID string
		if token, ok := c.Locals("user").(*jwt.Token); ok {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				communityID, _ = claims["community_id"].(string)
			}
		}

		// 2. X-Community-ID header, then query param fallback
		if communityID == "" {
			communityID = c.Get("X-Community-ID")
		}
		if communityID == "" {
			communityID = c.Query("community_id")
		}

		if communityID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: "community_id is required",
			})
		}
		if !registry.Exists(communityID) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: "unknown community: " + communityID,
			})
		}
		c.Locals("community_id", communityID)
		return c.Next()
	}
}
