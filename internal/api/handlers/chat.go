package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/contextgate/contextgate-backend/internal/governor"
	"github.com/contextgate/contextgate-backend/internal/services"
)

// chatMessage is the wire form of an inbound message.
type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Bookmarked bool   `json:"bookmarked,omitempty"`
}

// chatRequest is the body of POST /api/v1/chat/completions.
type chatRequest struct {
	Model        string                `json:"model"`
	Strategy     string                `json:"strategy,omitempty"`
	MaxTokens    int                   `json:"max_tokens,omitempty"`
	SystemPrompt string                `json:"system_prompt,omitempty"`
	Tools        []governor.ToolSchema `json:"tools,omitempty"`
	Messages     []chatMessage         `json:"messages"`
}

// CompleteChat handles POST /api/v1/chat/completions.
//
// A rate-limited request returns 429 with a Retry-After header; the
// caller backs off with jitter rather than the server sleeping
// inline.
func CompleteChat(chat *services.GovernedChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req chatRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
		if len(req.Messages) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "at least one message is required",
			})
		}

		conversation := &governor.ConversationContext{
			SystemPrompt: req.SystemPrompt,
			Tools:        req.Tools,
		}
		for _, m := range req.Messages {
			msg := governor.TextMessage(parseRole(m.Role), m.Content)
			msg.Bookmarked = m.Bookmarked
			conversation.Append(msg)
		}

		resp, err := chat.Complete(c.Context(), services.ChatRequest{
			Conversation: conversation,
			ModelID:      req.Model,
			Strategy:     req.Strategy,
			MaxTokens:    req.MaxTokens,
		})
		if err != nil {
			var rateErr *governor.RateLimitError
			if errors.As(err, &rateErr) {
				c.Set("Retry-After", fmt.Sprintf("%.0f", rateErr.RetryAfter.Seconds()+1))
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":       "rate limit exceeded",
					"retry_after": rateErr.RetryAfter.Seconds(),
				})
			}
			var cfgErr *governor.ConfigurationError
			if errors.As(err, &cfgErr) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": cfgErr.Error(),
				})
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(resp)
	}
}

func parseRole(role string) governor.Role {
	switch role {
	case "assistant":
		return governor.RoleAssistant
	case "system-note", "system":
		return governor.RoleSystemNote
	default:
		return governor.RoleUser
	}
}
