package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"phishgrid/config"
	"phishgrid/models"
	"phishgrid/utils"
)

// WorkerProtected authenticates callbacks from phishing-site workers with a
// short-lived trust token. The token names the worker; the worker's own
// secret is looked up and the signature verified against it, so no worker
// can speak for another. Every failure is the same 401.
func WorkerProtected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		identity, ok := utils.ValidateTrustToken(tokenParts[1], LookupWorkerSecret)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals("workerID", identity)
		return c.Next()
	}
}

// LookupWorkerSecret resolves a claimed worker identity to its decrypted
// signing secret.
func LookupWorkerSecret(identity string) ([]byte, bool) {
	id := utils.ParseUint(identity)
	if id == 0 {
		return nil, false
	}

	var worker models.PhishsiteWorker
	if err := config.DB.First(&worker, id).Error; err != nil {
		return nil, false
	}

	secret, err := utils.Decrypt(worker.SecretKey)
	if err != nil || secret == "" {
		return nil, false
	}
	return []byte(secret), true
}
