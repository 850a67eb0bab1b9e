package governor

import "encoding/json"

// Token estimation constants. Estimates are abstract units (~4 chars
// of English text each), tuned for threshold comparison rather than
// billing accuracy.
const (
	// CharsPerToken is the rough chars-per-token ratio for text.
	CharsPerToken = 4

	// ImageTokens is the flat charge for an image reference.
	ImageTokens = 170

	// ToolSchemaOverheadTokens is the flat per-schema charge on top
	// of the serialized schema size.
	ToolSchemaOverheadTokens = 30

	// MessageOverheadTokens is the fixed structural cost per message.
	MessageOverheadTokens = 4
)

// TokenEstimator sizes content in abstract token units. It never
// fails and always returns a value >= 0, monotonic non-decreasing in
// content length.
type TokenEstimator struct{}

// NewTokenEstimator creates a token estimator.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// EstimateText estimates plain text at ~4 chars per token, rounded up.
func (e *TokenEstimator) EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// EstimateSegment estimates a single content segment.
func (e *TokenEstimator) EstimateSegment(seg Segment) int {
	switch seg.Type {
	case SegmentText:
		return e.EstimateText(seg.Text)
	case SegmentImageRef:
		return ImageTokens
	case SegmentToolCall, SegmentToolResult:
		// Tool payloads are serialized into the request, so they cost
		// their textual size plus the tool name.
		return e.EstimateText(seg.ToolName) + e.EstimateText(seg.Text)
	default:
		return e.EstimateText(seg.Text)
	}
}

// EstimateMessage estimates a message including its structural
// overhead.
func (e *TokenEstimator) EstimateMessage(msg Message) int {
	total := MessageOverheadTokens
	for _, seg := range msg.Segments {
		total += e.EstimateSegment(seg)
	}
	return total
}

// EstimateMessages sums the estimates of a message slice.
func (e *TokenEstimator) EstimateMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += e.EstimateMessage(m)
	}
	return total
}

// EstimateToolSchema estimates one tool schema: a flat overhead plus
// the serialized size of the schema itself.
func (e *TokenEstimator) EstimateToolSchema(schema ToolSchema) int {
	total := ToolSchemaOverheadTokens
	total += e.EstimateText(schema.Name)
	total += e.EstimateText(schema.Description)
	if len(schema.Parameters) > 0 {
		if raw, err := json.Marshal(schema.Parameters); err == nil {
			total += e.EstimateText(string(raw))
		}
	}
	return total
}

// EstimateContext produces the full breakdown for an outbound call.
func (e *TokenEstimator) EstimateContext(ctx *ConversationContext) ContextEstimate {
	est := ContextEstimate{}
	est.System = e.EstimateText(ctx.SystemPrompt)
	for _, schema := range ctx.Tools {
		est.Tools += e.EstimateToolSchema(schema)
	}
	est.Messages = e.EstimateMessages(ctx.Messages)
	est.Grand = est.System + est.Tools + est.Messages
	return est
}
