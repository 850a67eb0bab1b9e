package governor

import "sort"

// Run is a group of pruned messages destined for one summary. Its
// messages are contiguous in the original ordering except for merged
// singletons, which join their nearest run to avoid leaving isolated
// holes in the conversation.
type Run struct {
	// StartIndex is the original position of the run's first message.
	StartIndex int
	Messages   []Message
}

// PruneResult is the outcome of one pruning pass.
type PruneResult struct {
	// Kept holds the surviving messages in original order.
	Kept []Message
	// Runs holds the removed messages grouped for summarization.
	Runs []Run
	// KeptTokens is the estimated size of the kept messages.
	KeptTokens int
}

// MessagePruner selects which messages to drop so a context fits a
// token budget. Bookmarked messages and the trailing preserveRecent
// messages are never selected.
type MessagePruner struct {
	estimator *TokenEstimator
	scorer    *ImportanceScorer
}

// NewMessagePruner creates a pruner over the given estimator and
// scorer.
func NewMessagePruner(estimator *TokenEstimator, scorer *ImportanceScorer) *MessagePruner {
	return &MessagePruner{estimator: estimator, scorer: scorer}
}

// Prune partitions messages into protected and candidates, then
// removes candidates in ascending importance order (oldest first
// within a score band) until the remainder fits targetTokens.
//
// If the protected set alone meets or exceeds the target, Prune
// returns the protected messages with ErrBudgetUnachievable; the
// caller treats this as a warning and proceeds over budget.
func (p *MessagePruner) Prune(ctx *ConversationContext, targetTokens, preserveRecent int, bookmarked map[string]bool) (*PruneResult, error) {
	msgs := ctx.Messages
	if len(msgs) == 0 {
		return &PruneResult{}, nil
	}

	protected := make([]bool, len(msgs))
	recentFrom := len(msgs) - preserveRecent
	if recentFrom < 0 {
		recentFrom = 0
	}
	for i := range msgs {
		if i >= recentFrom || msgs[i].Bookmarked || bookmarked[msgs[i].ID] {
			protected[i] = true
		}
	}

	perMessage := make([]int, len(msgs))
	total := 0
	protectedTokens := 0
	for i := range msgs {
		perMessage[i] = p.estimator.EstimateMessage(msgs[i])
		total += perMessage[i]
		if protected[i] {
			protectedTokens += perMessage[i]
		}
	}

	if protectedTokens >= targetTokens {
		result := &PruneResult{KeptTokens: protectedTokens}
		for i := range msgs {
			if protected[i] {
				result.Kept = append(result.Kept, msgs[i])
			}
		}
		return result, ErrBudgetUnachievable
	}

	scored := p.scorer.ScoreAll(msgs)

	var candidates []ScoredMessage
	for _, sm := range scored {
		if !protected[sm.Index] {
			candidates = append(candidates, sm)
		}
	}

	// Ascending importance; redundant duplicates (score 0) go first,
	// and within a band the oldest message is removed first, which is
	// the recency tiebreak: newer wins.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].Index < candidates[j].Index
	})

	removed := make([]bool, len(msgs))
	for _, c := range candidates {
		if total <= targetTokens {
			break
		}
		removed[c.Index] = true
		total -= perMessage[c.Index]
	}

	result := &PruneResult{KeptTokens: total}
	for i := range msgs {
		if !removed[i] {
			result.Kept = append(result.Kept, msgs[i])
		}
	}
	result.Runs = groupRuns(msgs, removed)
	return result, nil
}

// groupRuns clusters removed messages into contiguous runs, then
// folds singleton runs into whichever neighboring run is closest.
func groupRuns(msgs []Message, removed []bool) []Run {
	var runs []Run
	for i := 0; i < len(msgs); i++ {
		if !removed[i] {
			continue
		}
		run := Run{StartIndex: i}
		for i < len(msgs) && removed[i] {
			run.Messages = append(run.Messages, msgs[i])
			i++
		}
		runs = append(runs, run)
	}

	if len(runs) < 2 {
		return runs
	}

	// Merge singletons into the nearest adjacent run. Merged messages
	// keep chronological order within the receiving run.
	var merged []Run
	for i := 0; i < len(runs); i++ {
		run := runs[i]
		if len(run.Messages) > 1 {
			merged = append(merged, run)
			continue
		}

		prevDist, nextDist := -1, -1
		if len(merged) > 0 {
			last := merged[len(merged)-1]
			prevDist = run.StartIndex - (last.StartIndex + len(last.Messages))
		}
		if i+1 < len(runs) {
			nextDist = runs[i+1].StartIndex - (run.StartIndex + 1)
		}

		switch {
		case prevDist >= 0 && (nextDist < 0 || prevDist <= nextDist):
			merged[len(merged)-1].Messages = append(merged[len(merged)-1].Messages, run.Messages...)
		case nextDist >= 0:
			runs[i+1].Messages = append(run.Messages, runs[i+1].Messages...)
			runs[i+1].StartIndex = run.StartIndex
		default:
			merged = append(merged, run)
		}
	}
	return merged
}
