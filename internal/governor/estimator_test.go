package governor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateText(t *testing.T) {
	e := NewTokenEstimator()

	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"empty", "", 0},
		{"one char rounds up", "a", 1},
		{"exact boundary", "abcd", 1},
		{"boundary plus one", "abcde", 2},
		{"hundred chars", strings.Repeat("x", 100), 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, e.EstimateText(tt.text))
		})
	}
}

func TestEstimateMonotonic(t *testing.T) {
	e := NewTokenEstimator()

	prev := 0
	for i := 0; i < 500; i += 7 {
		est := e.EstimateText(strings.Repeat("a", i))
		assert.GreaterOrEqual(t, est, prev, "estimate must not decrease with length")
		prev = est
	}
}

func TestEstimateSegments(t *testing.T) {
	e := NewTokenEstimator()

	assert.Equal(t, ImageTokens, e.EstimateSegment(Segment{Type: SegmentImageRef, ImageRef: "img-1"}))

	toolCall := Segment{Type: SegmentToolCall, ToolName: "calc", Text: `{"expr":"1+1"}`}
	assert.Equal(t, e.EstimateText("calc")+e.EstimateText(`{"expr":"1+1"}`), e.EstimateSegment(toolCall))
}

func TestEstimateMessageOverhead(t *testing.T) {
	e := NewTokenEstimator()

	empty := Message{Role: RoleUser}
	assert.Equal(t, MessageOverheadTokens, e.EstimateMessage(empty))

	withText := TextMessage(RoleUser, "hello world")
	assert.Equal(t, MessageOverheadTokens+e.EstimateText("hello world"), e.EstimateMessage(withText))
}

func TestEstimateContextBreakdown(t *testing.T) {
	e := NewTokenEstimator()

	ctx := &ConversationContext{
		SystemPrompt: strings.Repeat("s", 400),
		Tools: []ToolSchema{
			{Name: "search", Description: "web search", Parameters: map[string]interface{}{"type": "object"}},
		},
		Messages: []Message{
			TextMessage(RoleUser, "hello"),
			TextMessage(RoleAssistant, "hi there"),
		},
	}

	est := e.EstimateContext(ctx)
	assert.Equal(t, 100, est.System)
	assert.Greater(t, est.Tools, ToolSchemaOverheadTokens)
	assert.Equal(t, e.EstimateMessages(ctx.Messages), est.Messages)
	assert.Equal(t, est.System+est.Tools+est.Messages, est.Grand)
}

func TestEstimateContextEmpty(t *testing.T) {
	e := NewTokenEstimator()

	est := e.EstimateContext(&ConversationContext{})
	assert.Equal(t, 0, est.Grand)
}
