package routes

import (
	"github.com/gofiber/fiber/v2"

	"phishgrid/controllers"
	"phishgrid/middleware"
)

// SetupRoutes wires the three route families: operator endpoints behind the
// shared API key, worker callbacks behind trust tokens, and the open
// target-facing tracking routes.
func SetupRoutes(
	app *fiber.App,
	launch *controllers.LaunchController,
	events *controllers.EventController,
	workers *controllers.WorkerController,
	progress *controllers.ProgressController,
) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/robots.txt", events.RobotsTxt)

	// Target-facing tracking routes. No auth by nature; rate limited per IP.
	trackingLimit := middleware.TrackingRateLimiter()
	app.Get("/lure", trackingLimit, events.Lure)
	app.Post("/lure", trackingLimit, events.LureSubmit)
	app.Get("/t/px.png", trackingLimit, events.Pixel)

	// Worker callbacks authenticate with per-worker trust tokens.
	app.Post("/workers", middleware.WorkerProtected(), events.WorkerEvent)

	// Operator endpoints share the static API key.
	apiKey := middleware.APIKeyProtected()
	app.Post("/launch", apiKey, launch.Launch)
	app.Post("/complete", apiKey, launch.Complete)
	app.Post("/event", apiKey, events.PostEvent)

	app.Get("/phishsites/:id/check", middleware.CORS(), apiKey, workers.CheckWorker)

	app.Get("/api/v1/campaigns/:ref/progress", apiKey, progress.Upgrade, progress.Stream())

	// Everything else looks the same as a bad tracking hit.
	app.Use(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNotFound)
	})
}
