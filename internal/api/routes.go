package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/contextgate/contextgate-backend/internal/api/handlers"
	"github.com/contextgate/contextgate-backend/internal/services"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, chat *services.GovernedChatService) {
	// API routes
	api := app.Group("/api/v1")

	// Governed completions
	api.Post("/chat/completions", handlers.CompleteChat(chat))

	// Usage ledger
	api.Get("/usage/stats", handlers.GetSessionStats(chat))
	api.Get("/usage/models", handlers.GetModelBreakdown(chat))
	api.Get("/usage/records", handlers.GetUsageRecords(chat))
	api.Post("/usage/export", handlers.ExportStats(chat))

	// Static registries
	api.Get("/strategies", handlers.ListStrategies(chat))
	api.Get("/models", handlers.ListModels(chat))

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "contextgate-backend",
		})
	})
}
