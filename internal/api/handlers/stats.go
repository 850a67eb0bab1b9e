package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/contextgate/contextgate-backend/internal/services"
)

// GetSessionStats handles GET /api/v1/usage/stats.
func GetSessionStats(chat *services.GovernedChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ledger := chat.Governor().Ledger()
		return c.JSON(fiber.Map{
			"session":        ledger.SessionStats(),
			"cache_hit_rate": ledger.CacheHitRate(),
		})
	}
}

// GetModelBreakdown handles GET /api/v1/usage/models.
func GetModelBreakdown(chat *services.GovernedChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(chat.Governor().Ledger().BreakdownByModel())
	}
}

// GetUsageRecords handles GET /api/v1/usage/records. Supports
// ?model= and ?limit= query filters.
func GetUsageRecords(chat *services.GovernedChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		records, err := chat.ListRecords(c.Context(), c.Query("model"), c.QueryInt("limit", 100))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(records)
	}
}

// ExportStats handles POST /api/v1/usage/export. The snapshot is
// persisted when a database is configured, and returned either way.
func ExportStats(chat *services.GovernedChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		export, err := chat.ExportStats(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(export)
	}
}

// ListStrategies handles GET /api/v1/strategies.
func ListStrategies(chat *services.GovernedChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(chat.Governor().Strategies().List())
	}
}

// ListModels handles GET /api/v1/models.
func ListModels(chat *services.GovernedChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(chat.Governor().Models())
	}
}
