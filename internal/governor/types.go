package governor

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystemNote Role = "system-note"
)

// SegmentType identifies the kind of content a segment carries.
type SegmentType string

const (
	SegmentText       SegmentType = "text"
	SegmentImageRef   SegmentType = "image-ref"
	SegmentToolCall   SegmentType = "tool-call"
	SegmentToolResult SegmentType = "tool-result"
)

// Segment is one typed piece of message content.
type Segment struct {
	Type SegmentType `json:"type"`
	// Text holds the textual payload for text segments. For tool-call
	// and tool-result segments it holds the serialized arguments or
	// result body.
	Text string `json:"text,omitempty"`
	// ImageRef is an opaque reference for image-ref segments.
	ImageRef string `json:"image_ref,omitempty"`
	// ToolName names the tool for tool-call and tool-result segments.
	ToolName string `json:"tool_name,omitempty"`
	// Important marks a tool-result the producer flagged as worth
	// keeping during pruning.
	Important bool `json:"important,omitempty"`
}

// Message is a single conversation entry. Immutable once created
// except for Bookmarked and the cached importance score.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Segments  []Segment `json:"segments"`
	CreatedAt time.Time `json:"created_at"`

	// Bookmarked pins the message against pruning. Never cleared
	// automatically once set.
	Bookmarked bool `json:"bookmarked,omitempty"`

	// Synthetic marks summarizer output that replaced a run of
	// original messages.
	Synthetic bool `json:"synthetic,omitempty"`

	// CoveredCount and EstimatedTokenSavings are summary metadata,
	// set only on synthetic messages.
	CoveredCount          int `json:"covered_count,omitempty"`
	EstimatedTokenSavings int `json:"estimated_token_savings,omitempty"`

	// ImportanceScore is a derived cache; zero means not yet scored.
	ImportanceScore float64 `json:"importance_score,omitempty"`
}

// NewMessage creates a message with a fresh identity.
func NewMessage(role Role, segments ...Segment) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Segments:  segments,
		CreatedAt: time.Now(),
	}
}

// TextMessage is a convenience constructor for a single text segment.
func TextMessage(role Role, text string) Message {
	return NewMessage(role, Segment{Type: SegmentText, Text: text})
}

// Text concatenates the textual payload of all segments.
func (m *Message) Text() string {
	var b strings.Builder
	for _, seg := range m.Segments {
		if seg.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// HasToolCall reports whether any segment is a tool invocation.
func (m *Message) HasToolCall() bool {
	for _, seg := range m.Segments {
		if seg.Type == SegmentToolCall {
			return true
		}
	}
	return false
}

// HasToolResult reports whether any segment is a tool result, and
// whether any of those results was flagged important.
func (m *Message) HasToolResult() (present, important bool) {
	for _, seg := range m.Segments {
		if seg.Type == SegmentToolResult {
			present = true
			if seg.Important {
				important = true
			}
		}
	}
	return present, important
}

// ToolSchema describes one tool made available to the model.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ConversationContext is the accumulated state sent with each call:
// an ordered message sequence plus the system prompt and tool set.
// Messages are owned exclusively by their context; ordering is
// insertion order and identities are unique.
type ConversationContext struct {
	SystemPrompt string       `json:"system_prompt"`
	Tools        []ToolSchema `json:"tools,omitempty"`
	Messages     []Message    `json:"messages"`
}

// Append adds a message, preserving insertion order.
func (c *ConversationContext) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// Clone returns a deep copy. The governor mutates a clone and commits
// it atomically so a cancelled run leaves the original untouched.
func (c *ConversationContext) Clone() *ConversationContext {
	out := &ConversationContext{
		SystemPrompt: c.SystemPrompt,
		Tools:        make([]ToolSchema, len(c.Tools)),
		Messages:     make([]Message, len(c.Messages)),
	}
	copy(out.Tools, c.Tools)
	for i, m := range c.Messages {
		segs := make([]Segment, len(m.Segments))
		copy(segs, m.Segments)
		m.Segments = segs
		out.Messages[i] = m
	}
	return out
}

// BookmarkedIDs returns the identity set of bookmarked messages.
func (c *ConversationContext) BookmarkedIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, m := range c.Messages {
		if m.Bookmarked {
			ids[m.ID] = true
		}
	}
	return ids
}

// ContextEstimate is the token breakdown of a full context.
type ContextEstimate struct {
	Messages int `json:"messages_total"`
	System   int `json:"system_total"`
	Tools    int `json:"tools_total"`
	Grand    int `json:"grand_total"`
}

// TokenBreakdown is the billing-relevant split of a completed call.
type TokenBreakdown struct {
	RegularInput int `json:"regular_input"`
	CacheWrite   int `json:"cache_write"`
	CacheRead    int `json:"cache_read"`
	Output       int `json:"output"`
}

// TotalInput is all input-side tokens regardless of cache treatment.
func (b TokenBreakdown) TotalInput() int {
	return b.RegularInput + b.CacheWrite + b.CacheRead
}
