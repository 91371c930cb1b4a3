package community

import (
	"github.com/gofiber/fiber/v2"
)

// FromCtx extracts the community_id resolved by the middleware from Fiber
// context locals.
func FromCtx(c *fiber.Ctx) string {
	if communityID, ok := c.Locals("community_id").(string); ok {
		return communityID
	}
	return ""
}
