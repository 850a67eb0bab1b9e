package delegate

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/contextgate/contextgate-backend/internal/config"
	"github.com/contextgate/contextgate-backend/internal/governor"
)

// OpenAIDelegate is the completion delegate backed by an OpenAI or
// OpenAI-compatible endpoint. It is the opaque capability the
// governor's summarizer calls into; the governed chat path uses it as
// well.
type OpenAIDelegate struct {
	client *openai.Client
	model  string
	logger *logrus.Logger
}

// NewOpenAIDelegate creates a delegate from config.
func NewOpenAIDelegate(cfg config.DelegateConfig, logger *logrus.Logger) (*OpenAIDelegate, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("delegate API key is required")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIDelegate{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Complete implements governor.CompletionDelegate.
func (d *OpenAIDelegate) Complete(ctx context.Context, messages []governor.Message, system string, maxOutputTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       d.model,
		MaxTokens:   maxOutputTokens,
		Temperature: 0.3,
	}
	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Text(),
		})
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteWithUsage performs a completion and returns the provider's
// reported token usage alongside the text, for post-flight recording.
func (d *OpenAIDelegate) CompleteWithUsage(ctx context.Context, model string, messages []governor.Message, system string, maxOutputTokens int) (string, governor.TokenBreakdown, error) {
	req := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: maxOutputTokens,
	}
	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Text(),
		})
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", governor.TokenBreakdown{}, err
	}
	if len(resp.Choices) == 0 {
		return "", governor.TokenBreakdown{}, errors.New("completion returned no choices")
	}

	breakdown := governor.TokenBreakdown{
		RegularInput: resp.Usage.PromptTokens,
		Output:       resp.Usage.CompletionTokens,
	}
	return resp.Choices[0].Message.Content, breakdown, nil
}

func convertRole(role governor.Role) string {
	switch role {
	case governor.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case governor.RoleSystemNote:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
