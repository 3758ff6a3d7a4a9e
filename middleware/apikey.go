package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"phishgrid/config"
)

// APIKeyProtected guards the coordinator-facing endpoints (launch, complete,
// mail-dispatch event callbacks) with the shared static API key. The reply
// is the same for a missing, wrong or stale key.
func APIKeyProtected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-API-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(config.AppConfig.APIKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		return c.Next()
	}
}
