package governor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDelegate is a scriptable completion delegate.
type stubDelegate struct {
	reply string
	err   error
	delay time.Duration
	calls int
}

func (d *stubDelegate) Complete(ctx context.Context, messages []Message, system string, maxOutputTokens int) (string, error) {
	d.calls++
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if d.err != nil {
		return "", d.err
	}
	return d.reply, nil
}

func summaryRun(n int) Run {
	run := Run{}
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		run.Messages = append(run.Messages, TextMessage(role, "Discussed the deployment pipeline configuration. More detail followed."))
	}
	return run
}

func TestSummarizeWithDelegate(t *testing.T) {
	delegate := &stubDelegate{reply: "The user and assistant configured the deployment pipeline."}
	s := NewSummarizer(NewTokenEstimator(), delegate, time.Second, nil)

	msg := s.Summarize(context.Background(), summaryRun(6), ClassBalanced)

	assert.True(t, msg.Synthetic)
	assert.Equal(t, RoleSystemNote, msg.Role)
	assert.Equal(t, 6, msg.CoveredCount)
	assert.Equal(t, delegate.reply, msg.Text())
	assert.Equal(t, 1, delegate.calls)
	assert.Greater(t, msg.EstimatedTokenSavings, 0)
}

func TestSummarizeDelegateErrorFallsBack(t *testing.T) {
	delegate := &stubDelegate{err: errors.New("backend unavailable")}
	s := NewSummarizer(NewTokenEstimator(), delegate, time.Second, nil)

	msg := s.Summarize(context.Background(), summaryRun(4), ClassAggressive)

	assert.True(t, msg.Synthetic)
	assert.Contains(t, msg.Text(), "Condensed 4 earlier messages")
	assert.Equal(t, 4, msg.CoveredCount)
}

func TestSummarizeTimeoutFallsBack(t *testing.T) {
	delegate := &stubDelegate{reply: "too late", delay: 200 * time.Millisecond}
	s := NewSummarizer(NewTokenEstimator(), delegate, 20*time.Millisecond, nil)

	start := time.Now()
	msg := s.Summarize(context.Background(), summaryRun(3), ClassBalanced)

	assert.Less(t, time.Since(start), 150*time.Millisecond, "timeout must cut the delegate off")
	assert.True(t, msg.Synthetic)
	assert.Contains(t, msg.Text(), "Condensed 3 earlier messages")
}

func TestSummarizeNilDelegate(t *testing.T) {
	s := NewSummarizer(NewTokenEstimator(), nil, time.Second, nil)

	run := Run{Messages: []Message{
		TextMessage(RoleUser, "Set the retry limit to five. And keep the jitter."),
		TextMessage(RoleAssistant, "Done! The retry limit is now five attempts."),
	}}

	msg := s.Summarize(context.Background(), run, ClassConservative)
	require.True(t, msg.Synthetic)
	assert.Contains(t, msg.Text(), "1 user")
	assert.Contains(t, msg.Text(), "1 assistant")
	assert.Contains(t, msg.Text(), "Set the retry limit to five.")
	assert.Contains(t, msg.Text(), "Done!")
}

func TestSummarizeEmptyDelegateReplyFallsBack(t *testing.T) {
	delegate := &stubDelegate{reply: "   "}
	s := NewSummarizer(NewTokenEstimator(), delegate, time.Second, nil)

	msg := s.Summarize(context.Background(), summaryRun(2), ClassBalanced)
	assert.Contains(t, msg.Text(), "Condensed 2 earlier messages")
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"One. Two. Three.", "One."},
		{"no terminator at all", "no terminator at all"},
		{"", ""},
		{"line one\nline two", "line one"},
		{strings.Repeat("a", 300), strings.Repeat("a", 200) + "…"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, firstSentence(tt.in))
	}
}

func TestFirstSentenceKeepsRuneBoundaries(t *testing.T) {
	out := firstSentence(strings.Repeat("€", 250))
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("€", 200)+"…", out)
}
