package governor

import (
	"regexp"
	"strings"
)

// Importance score bands. Higher survives pruning longer.
const (
	ScoreBookmarked      = 1.0
	ScoreUserQuestion    = 0.9
	ScoreCodeOrTrace     = 0.8
	ScoreImportantResult = 0.7
	ScoreAssistantText   = 0.6
	ScoreToolCall        = 0.4
	ScoreAcknowledgment  = 0.2
	ScoreTransient       = 0.1
)

// longMessageChars is the length at which a user message counts as
// substantial even without a question mark.
const longMessageChars = 240

// duplicateOverlapThreshold is the textual-overlap ratio above which
// two consecutive same-role messages collapse to one entry.
const duplicateOverlapThreshold = 0.9

var stackTracePattern = regexp.MustCompile(`(?m)^\s+at\s+\S+|\.go:\d+|goroutine \d+|Traceback \(most recent call last\)|panic:`)

var acknowledgmentPattern = regexp.MustCompile(`(?i)^(ok(ay)?|sure|thanks?|thank you|got it|sounds good|yes|no|yep|nope|done|great|perfect)[.!]?$`)

var transientPattern = regexp.MustCompile(`(?i)^(thinking|working|processing|loading|running|one moment|please wait)\b|\.\.\.$`)

// PositionInfo locates a message within its context for scoring.
type PositionInfo struct {
	Index int // position in the message sequence
	Total int // total number of messages
}

// ScoredMessage pairs a message with its derived pruning priority.
type ScoredMessage struct {
	Message *Message
	Index   int
	Score   float64
	// Redundant marks a near-duplicate of the preceding message; it
	// collapses into that entry for pruning purposes.
	Redundant bool
}

// ImportanceScorer assigns retention priorities. Deterministic and
// side-effect free; ties are broken by recency downstream, where the
// pruner removes the older of two equally-scored messages first.
type ImportanceScorer struct{}

// NewImportanceScorer creates an importance scorer.
func NewImportanceScorer() *ImportanceScorer {
	return &ImportanceScorer{}
}

// Score returns the retention priority of a message in [0, 1].
func (s *ImportanceScorer) Score(msg *Message, pos PositionInfo) float64 {
	if msg.Bookmarked {
		return ScoreBookmarked
	}

	text := msg.Text()

	if hasCodeFence(text) || stackTracePattern.MatchString(text) {
		return ScoreCodeOrTrace
	}

	if msg.Role == RoleUser && (len(text) >= longMessageChars || strings.Contains(text, "?")) {
		return ScoreUserQuestion
	}

	if _, important := msg.HasToolResult(); important {
		return ScoreImportantResult
	}

	trimmed := strings.TrimSpace(text)
	if acknowledgmentPattern.MatchString(trimmed) {
		return ScoreAcknowledgment
	}
	if transientPattern.MatchString(trimmed) {
		return ScoreTransient
	}

	if msg.HasToolCall() {
		return ScoreToolCall
	}

	if msg.Role == RoleAssistant {
		return ScoreAssistantText
	}

	// Short user remarks and system notes without any stronger signal
	// sit just above tool calls.
	if len(trimmed) < 40 {
		return ScoreAcknowledgment
	}
	return ScoreToolCall
}

// ScoreAll scores every message and collapses consecutive same-role
// near-duplicates. The duplicate keeps score 0 and is flagged
// redundant so it is always removed first.
func (s *ImportanceScorer) ScoreAll(msgs []Message) []ScoredMessage {
	scored := make([]ScoredMessage, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		entry := ScoredMessage{Message: msg, Index: i}

		if i > 0 && msg.Role == msgs[i-1].Role && !msg.Bookmarked &&
			textOverlap(msg.Text(), msgs[i-1].Text()) >= duplicateOverlapThreshold {
			entry.Redundant = true
			entry.Score = 0
		} else {
			entry.Score = s.Score(msg, PositionInfo{Index: i, Total: len(msgs)})
			msg.ImportanceScore = entry.Score
		}
		scored[i] = entry
	}
	return scored
}

func hasCodeFence(text string) bool {
	return strings.Contains(text, "```")
}

// textOverlap computes the Jaccard overlap of the two texts' word
// sets, normalized to lower case.
func textOverlap(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}

	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	common := 0
	for w := range setA {
		if setB[w] {
			common++
		}
	}
	union := len(setA) + len(setB) - common
	return float64(common) / float64(union)
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = true
	}
	return set
}
