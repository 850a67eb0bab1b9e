package governor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// CompletionDelegate is the external text-completion capability the
// summarizer calls into. The governor treats it as opaque; it may
// fail or time out, and the summarizer degrades to its rule-based
// fallback when it does.
type CompletionDelegate interface {
	Complete(ctx context.Context, messages []Message, system string, maxOutputTokens int) (string, error)
}

// Summarizer condenses a run of low-priority messages into a single
// synthetic message. It never fails: when the delegate is missing,
// errors, or times out, a deterministic rule-based condensation
// guarantees forward progress.
type Summarizer struct {
	estimator *TokenEstimator
	delegate  CompletionDelegate
	timeout   time.Duration
	logger    *logrus.Logger
}

// NewSummarizer creates a summarizer. The delegate may be nil, in
// which case only the fallback path is used.
func NewSummarizer(estimator *TokenEstimator, delegate CompletionDelegate, timeout time.Duration, logger *logrus.Logger) *Summarizer {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Summarizer{
		estimator: estimator,
		delegate:  delegate,
		timeout:   timeout,
		logger:    logger,
	}
}

// Summarize condenses a run into one synthetic message sized to the
// class band. The returned message is tagged Synthetic with covered
// count and estimated savings metadata.
func (s *Summarizer) Summarize(ctx context.Context, run Run, class TargetClass) Message {
	originalTokens := s.estimator.EstimateMessages(run.Messages)

	text := ""
	if s.delegate != nil {
		summary, err := s.delegateSummary(ctx, run, class)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"messages": len(run.Messages),
				"error":    err,
			}).Warn("summarization delegate failed, using rule-based fallback")
		} else {
			text = summary
		}
	}
	if text == "" {
		text = ruleBasedSummary(run.Messages)
	}

	msg := NewMessage(RoleSystemNote, Segment{Type: SegmentText, Text: text})
	msg.Synthetic = true
	msg.CoveredCount = len(run.Messages)

	savings := originalTokens - s.estimator.EstimateMessage(msg)
	if savings < 0 {
		savings = 0
	}
	msg.EstimatedTokenSavings = savings
	return msg
}

// delegateSummary runs the external delegate under the configured
// timeout, outside any lock held by the caller.
func (s *Summarizer) delegateSummary(ctx context.Context, run Run, class TargetClass) (string, error) {
	bandMin, bandMax := class.Band()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	instruction := fmt.Sprintf(`Condense the following conversation excerpt into a single summary of roughly %d to %d tokens.

Keep only what is needed for context continuity: facts established, decisions made, errors and their resolutions, and the task being worked on. Write a plain narrative, no preamble.`, bandMin, bandMax)

	text, err := s.delegate.Complete(ctx, run.Messages, instruction, bandMax)
	if err != nil {
		return "", &DelegateError{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &DelegateError{Err: fmt.Errorf("empty summary")}
	}
	return text, nil
}

// ruleBasedSummary is the deterministic fallback: role counts plus
// the first sentence of each message.
func ruleBasedSummary(msgs []Message) string {
	counts := map[Role]int{}
	for _, m := range msgs {
		counts[m.Role]++
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[Condensed %d earlier messages", len(msgs)))
	var parts []string
	for _, role := range []Role{RoleUser, RoleAssistant, RoleSystemNote} {
		if counts[role] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[role], role))
		}
	}
	if len(parts) > 0 {
		b.WriteString(": " + strings.Join(parts, ", "))
	}
	b.WriteString("]")

	for _, m := range msgs {
		sentence := firstSentence(m.Text())
		if sentence == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("\n%s: %s", m.Role, sentence))
	}
	return b.String()
}

// firstSentence extracts up to the first sentence terminator, capped
// to keep pathological single-sentence walls of text bounded.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if idx := strings.IndexAny(text, ".!?\n"); idx >= 0 {
		text = text[:idx+1]
	}
	text = strings.TrimRight(text, "\n")
	const maxRunes = 200
	if utf8.RuneCountInString(text) > maxRunes {
		text = string([]rune(text)[:maxRunes]) + "…"
	}
	return text
}
