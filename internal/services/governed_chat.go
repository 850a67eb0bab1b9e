package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/contextgate/contextgate-backend/internal/governor"
	"github.com/contextgate/contextgate-backend/internal/repository"
)

// CompletionBackend is the provider call the service wraps with
// governor pre-flight and post-flight. *delegate.OpenAIDelegate
// implements it.
type CompletionBackend interface {
	CompleteWithUsage(ctx context.Context, model string, messages []governor.Message, system string, maxOutputTokens int) (string, governor.TokenBreakdown, error)
}

// ChatRequest is one governed completion request.
type ChatRequest struct {
	Conversation *governor.ConversationContext
	ModelID      string
	Strategy     string
	// MaxTokens caps the output reservation below the model's own
	// limit; zero means the model limit applies.
	MaxTokens int
}

// ChatResponse carries the completion plus everything the governor
// learned about the call.
type ChatResponse struct {
	Content    string                     `json:"content"`
	ModelID    string                     `json:"model_id"`
	Usage      governor.TokenBreakdown    `json:"usage"`
	Cost       float64                    `json:"cost"`
	CacheHit   bool                       `json:"cache_hit"`
	CachePlan  *governor.CachePlan        `json:"cache_plan,omitempty"`
	Evaluation *governor.EvaluationResult `json:"evaluation,omitempty"`
	// Conversation is the governed context after pruning and
	// summarization, with the assistant reply appended.
	Conversation *governor.ConversationContext `json:"-"`
}

// GovernedChatService runs completions through the request governor:
// admission, context governing and cache planning before the call,
// usage recording and persistence after it.
type GovernedChatService struct {
	governor *governor.RequestGovernor
	delegate CompletionBackend
	usage    repository.UsageRepository // nil disables persistence
	logger   *logrus.Logger
}

// NewGovernedChatService wires the chat pipeline. The repository may
// be nil for in-memory-only operation.
func NewGovernedChatService(gov *governor.RequestGovernor, del CompletionBackend, usage repository.UsageRepository, logger *logrus.Logger) *GovernedChatService {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &GovernedChatService{
		governor: gov,
		delegate: del,
		usage:    usage,
		logger:   logger,
	}
}

// Complete runs one governed completion. A RateLimitError propagates
// to the caller with its suggested wait; the service never sleeps.
func (s *GovernedChatService) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Conversation == nil {
		return nil, fmt.Errorf("conversation is required")
	}
	if s.delegate == nil {
		return nil, fmt.Errorf("no completion delegate configured")
	}

	preflight, err := s.governor.Preflight(ctx, req.Conversation, req.ModelID, req.Strategy)
	if err != nil {
		return nil, err
	}

	spec := s.governor.Models()[preflight.ModelID]
	governed := preflight.Context

	maxOutput := spec.MaxOutputTokens
	if req.MaxTokens > 0 && req.MaxTokens < maxOutput {
		maxOutput = req.MaxTokens
	}

	content, actual, err := s.delegate.CompleteWithUsage(ctx, preflight.ModelID, governed.Messages, governed.SystemPrompt, maxOutput)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	// Fall back to estimates when the provider reports no usage.
	if actual.TotalInput() == 0 {
		actual.RegularInput = preflight.Estimate.Grand
	}

	record := s.governor.Postflight(preflight, actual)
	s.persistRecord(ctx, record)

	governed.Append(governor.TextMessage(governor.RoleAssistant, content))

	return &ChatResponse{
		Content:      content,
		ModelID:      preflight.ModelID,
		Usage:        record.Breakdown,
		Cost:         record.Cost,
		CacheHit:     record.CacheHit,
		CachePlan:    preflight.CachePlan,
		Evaluation:   preflight.Evaluation,
		Conversation: governed,
	}, nil
}

// ExportStats snapshots the ledger and, when persistence is enabled,
// stores the snapshot.
func (s *GovernedChatService) ExportStats(ctx context.Context) (governor.StatsExport, error) {
	export := s.governor.Ledger().ExportStats()

	if s.usage != nil {
		raw, err := json.Marshal(export)
		if err != nil {
			return export, err
		}
		saveErr := s.usage.SaveExport(ctx, repository.UsageExport{
			Snapshot:    raw,
			GeneratedAt: export.GeneratedAt,
		})
		if saveErr != nil {
			s.logger.WithError(saveErr).Warn("failed to persist stats export")
		}
	}

	return export, nil
}

// ListRecords returns recent usage records, newest first, optionally
// filtered by model. With a repository configured it reads the
// persisted records; otherwise it serves the in-memory ledger.
func (s *GovernedChatService) ListRecords(ctx context.Context, modelID string, limit int) ([]repository.UsageRecord, error) {
	if s.usage != nil {
		return s.usage.ListRecords(ctx, modelID, limit)
	}

	if limit <= 0 {
		limit = 100
	}
	ledgerRecords := s.governor.Ledger().Records()
	out := make([]repository.UsageRecord, 0, limit)
	for i := len(ledgerRecords) - 1; i >= 0 && len(out) < limit; i-- {
		r := ledgerRecords[i]
		if modelID != "" && r.ModelID != modelID {
			continue
		}
		out = append(out, repository.UsageRecord{
			ID:           r.ID,
			ModelID:      r.ModelID,
			RegularInput: r.Breakdown.RegularInput,
			CacheWrite:   r.Breakdown.CacheWrite,
			CacheRead:    r.Breakdown.CacheRead,
			Output:       r.Breakdown.Output,
			Cost:         r.Cost,
			CacheHit:     r.CacheHit,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out, nil
}

// Governor exposes the underlying request governor to handlers.
func (s *GovernedChatService) Governor() *governor.RequestGovernor {
	return s.governor
}

// persistRecord stores the usage record best-effort; persistence
// failure never fails the call.
func (s *GovernedChatService) persistRecord(ctx context.Context, record governor.UsageRecord) {
	if s.usage == nil {
		return
	}
	err := s.usage.SaveRecord(ctx, repository.UsageRecord{
		ID:           record.ID,
		ModelID:      record.ModelID,
		RegularInput: record.Breakdown.RegularInput,
		CacheWrite:   record.Breakdown.CacheWrite,
		CacheRead:    record.Breakdown.CacheRead,
		Output:       record.Breakdown.Output,
		Cost:         record.Cost,
		CacheHit:     record.CacheHit,
		CreatedAt:    record.CreatedAt,
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to persist usage record")
	}
}
