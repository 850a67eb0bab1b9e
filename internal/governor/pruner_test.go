package governor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPruner() *MessagePruner {
	return NewMessagePruner(NewTokenEstimator(), NewImportanceScorer())
}

// chatContext builds n alternating user/assistant messages with
// roughly uniform size.
func chatContext(n int) *ConversationContext {
	ctx := &ConversationContext{}
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		ctx.Append(TextMessage(role, fmt.Sprintf("message %d. %s", i, strings.Repeat("detail ", 10))))
	}
	return ctx
}

func TestPruneProtectsRecentMessages(t *testing.T) {
	p := newTestPruner()
	ctx := chatContext(20)

	recentIDs := map[string]bool{}
	for _, m := range ctx.Messages[15:] {
		recentIDs[m.ID] = true
	}

	result, err := p.Prune(ctx, 1, 5, nil)
	if err == ErrBudgetUnachievable {
		// Target of 1 token is below the protected set; protected
		// messages must still all survive.
		for _, m := range result.Kept {
			assert.True(t, recentIDs[m.ID])
		}
		return
	}
	require.NoError(t, err)

	kept := map[string]bool{}
	for _, m := range result.Kept {
		kept[m.ID] = true
	}
	for id := range recentIDs {
		assert.True(t, kept[id], "last preserve_recent messages must never be pruned")
	}
}

func TestPruneProtectsBookmarked(t *testing.T) {
	p := newTestPruner()
	ctx := chatContext(30)
	ctx.Messages[2].Bookmarked = true
	bookmarkedID := ctx.Messages[2].ID

	estimator := NewTokenEstimator()
	target := estimator.EstimateMessages(ctx.Messages) / 3

	result, err := p.Prune(ctx, target, 5, ctx.BookmarkedIDs())
	require.NoError(t, err)

	found := false
	for _, m := range result.Kept {
		if m.ID == bookmarkedID {
			found = true
		}
	}
	assert.True(t, found, "bookmarked message must never be pruned")

	for _, run := range result.Runs {
		for _, m := range run.Messages {
			assert.NotEqual(t, bookmarkedID, m.ID)
		}
	}
}

func TestPruneBudgetUnachievable(t *testing.T) {
	p := newTestPruner()
	ctx := chatContext(10)

	// Everything protected, tiny target.
	result, err := p.Prune(ctx, 10, 10, nil)
	assert.Equal(t, ErrBudgetUnachievable, err)
	assert.Len(t, result.Kept, 10, "protected set returned unchanged")
	assert.Empty(t, result.Runs)
}

func TestPruneReachesTarget(t *testing.T) {
	p := newTestPruner()
	estimator := NewTokenEstimator()
	ctx := chatContext(40)

	total := estimator.EstimateMessages(ctx.Messages)
	target := total / 2

	result, err := p.Prune(ctx, target, 5, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, result.KeptTokens, target)
	assert.Equal(t, estimator.EstimateMessages(result.Kept), result.KeptTokens)
}

func TestPruneRemovesLowestImportanceFirst(t *testing.T) {
	p := newTestPruner()
	estimator := NewTokenEstimator()

	ctx := &ConversationContext{}
	// Low-value chatter first, then a high-value question.
	ctx.Append(TextMessage(RoleAssistant, "Working..."))
	ctx.Append(TextMessage(RoleUser, "ok"))
	ctx.Append(TextMessage(RoleUser, "why is the rate window denying requests that should fit?"))
	ctx.Append(TextMessage(RoleAssistant, "The safety margin keeps a slice of headroom below the hard limit so bursts do not overrun it."))
	ctx.Append(TextMessage(RoleUser, "thanks"))

	total := estimator.EstimateMessages(ctx.Messages)
	// Force removal of roughly the two cheapest-to-lose messages.
	target := total - estimator.EstimateMessage(ctx.Messages[0]) - estimator.EstimateMessage(ctx.Messages[1])

	result, err := p.Prune(ctx, target, 0, nil)
	require.NoError(t, err)

	removed := map[string]bool{}
	for _, run := range result.Runs {
		for _, m := range run.Messages {
			removed[m.ID] = true
		}
	}
	assert.True(t, removed[ctx.Messages[0].ID], "transient status should go first")
	assert.True(t, removed[ctx.Messages[1].ID], "short acknowledgment should go early")
	assert.False(t, removed[ctx.Messages[2].ID], "user question should survive")
}

func TestPruneGroupsContiguousRuns(t *testing.T) {
	p := newTestPruner()
	estimator := NewTokenEstimator()
	ctx := chatContext(30)

	total := estimator.EstimateMessages(ctx.Messages)
	target := total / 3

	result, err := p.Prune(ctx, target, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Runs)

	// Run start indexes are strictly increasing and messages within a
	// run are in original order.
	prevStart := -1
	for _, run := range result.Runs {
		assert.Greater(t, run.StartIndex, prevStart)
		prevStart = run.StartIndex
		require.NotEmpty(t, run.Messages)
	}
}

func TestPruneSingletonMergesIntoNearestRun(t *testing.T) {
	removed := []bool{true, true, false, true, false, false}
	msgs := make([]Message, len(removed))
	for i := range msgs {
		msgs[i] = TextMessage(RoleUser, fmt.Sprintf("m%d", i))
	}

	runs := groupRuns(msgs, removed)
	require.Len(t, runs, 1, "singleton at index 3 merges into the adjacent run")
	assert.Equal(t, 0, runs[0].StartIndex)
	assert.Len(t, runs[0].Messages, 3)
}

func TestPruneEmptyContext(t *testing.T) {
	p := newTestPruner()

	result, err := p.Prune(&ConversationContext{}, 100, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Kept)
	assert.Empty(t, result.Runs)
}
