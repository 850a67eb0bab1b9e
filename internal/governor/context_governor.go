package governor

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
)

// GovernorState tracks the context governor's progress through one
// evaluation.
type GovernorState int

const (
	StateIdle GovernorState = iota
	StateEvaluating
	StatePruning
	StateSummarizing
	StateStable
)

func (s GovernorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StatePruning:
		return "pruning"
	case StateSummarizing:
		return "summarizing"
	case StateStable:
		return "stable"
	default:
		return "unknown"
	}
}

// safetyFactor shaves the pruning target below the threshold so a
// freshly-governed context has headroom before it crosses the
// threshold again.
const safetyFactor = 0.9

// EvaluationResult reports what one governor run did.
type EvaluationResult struct {
	// Context is the governed context, committed only once the run
	// reached Stable. On a no-op it is the input context unchanged.
	Context *ConversationContext

	State        GovernorState `json:"state"`
	UsageBefore  float64       `json:"usage_before"`
	UsageAfter   float64       `json:"usage_after"`
	Pruned       int           `json:"pruned"`
	Summaries    int           `json:"summaries"`
	TokensSaved  int           `json:"tokens_saved"`
	TargetTokens int           `json:"target_tokens"`

	// BudgetUnachievable is set when the protected message set alone
	// exceeds the target; the context is returned unchanged and the
	// caller proceeds over the soft budget.
	BudgetUnachievable bool `json:"budget_unachievable,omitempty"`
}

// ContextGovernor walks a context through
// Idle -> Evaluating -> (Stable | Pruning -> Summarizing -> Stable).
// All mutation happens on a clone; the clone is committed into the
// result only when the run reaches Stable, so cancellation leaves the
// caller's context in its pre-call state.
type ContextGovernor struct {
	estimator  *TokenEstimator
	pruner     *MessagePruner
	summarizer *Summarizer
	logger     *logrus.Logger
}

// NewContextGovernor wires the pruning and summarization pipeline.
func NewContextGovernor(estimator *TokenEstimator, pruner *MessagePruner, summarizer *Summarizer, logger *logrus.Logger) *ContextGovernor {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &ContextGovernor{
		estimator:  estimator,
		pruner:     pruner,
		summarizer: summarizer,
		logger:     logger,
	}
}

// Evaluate runs one governing pass. Idempotent: a second call on an
// already-stable context finds usage below threshold and no-ops.
func (g *ContextGovernor) Evaluate(ctx context.Context, conversation *ConversationContext, strategy Strategy, modelMaxTokens int) (*EvaluationResult, error) {
	result := &EvaluationResult{Context: conversation, State: StateEvaluating}

	estimate := g.estimator.EstimateContext(conversation)
	if modelMaxTokens <= 0 {
		return nil, &ConfigurationError{Field: "model_max_tokens", Reason: "must be > 0"}
	}
	result.UsageBefore = float64(estimate.Grand) / float64(modelMaxTokens)
	result.UsageAfter = result.UsageBefore

	if result.UsageBefore < strategy.ThresholdPercent {
		result.State = StateStable
		return result, nil
	}

	// Pruning. The message budget is the context target minus the
	// fixed system and tool cost, which pruning cannot touch.
	result.State = StatePruning
	contextTarget := int(strategy.ThresholdPercent * float64(modelMaxTokens) * safetyFactor)
	messageTarget := contextTarget - estimate.System - estimate.Tools
	result.TargetTokens = contextTarget

	working := conversation.Clone()
	pruneResult, err := g.pruner.Prune(working, messageTarget, strategy.PreserveRecent, working.BookmarkedIDs())
	if err == ErrBudgetUnachievable {
		g.logger.WithFields(logrus.Fields{
			"target":   contextTarget,
			"messages": len(conversation.Messages),
		}).Warn("protected messages alone exceed the token budget")
		result.State = StateStable
		result.BudgetUnachievable = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if len(pruneResult.Runs) == 0 {
		result.State = StateStable
		return result, nil
	}

	// Summarizing: one synthetic message per run, spliced back at the
	// run's original position.
	result.State = StateSummarizing
	var summaries []summaryPlacement
	for _, run := range pruneResult.Runs {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-run: nothing is committed.
			return nil, err
		}
		summary := g.summarizer.Summarize(ctx, run, strategy.TargetClass)
		summaries = append(summaries, summaryPlacement{index: run.StartIndex, msg: summary})
		result.Pruned += len(run.Messages)
		result.TokensSaved += summary.EstimatedTokenSavings
	}
	result.Summaries = len(summaries)

	working.Messages = spliceSummaries(conversation.Messages, pruneResult, summaries)

	finalEstimate := g.estimator.EstimateContext(working)
	result.UsageAfter = float64(finalEstimate.Grand) / float64(modelMaxTokens)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Commit: only now does the governed context replace the input.
	result.Context = working
	result.State = StateStable

	g.logger.WithFields(logrus.Fields{
		"pruned":       result.Pruned,
		"summaries":    result.Summaries,
		"tokens_saved": result.TokensSaved,
		"usage_before": result.UsageBefore,
		"usage_after":  result.UsageAfter,
	}).Info("context governed")

	return result, nil
}

// summaryPlacement anchors a synthetic message at the original
// position of the run it replaces.
type summaryPlacement struct {
	index int
	msg   Message
}

// spliceSummaries rebuilds the message list with each run replaced by
// its synthetic summary at the run's original position.
func spliceSummaries(original []Message, pr *PruneResult, summaries []summaryPlacement) []Message {
	removed := make(map[string]bool)
	for _, run := range pr.Runs {
		for _, m := range run.Messages {
			removed[m.ID] = true
		}
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].index < summaries[j].index })

	var out []Message
	next := 0
	for i, m := range original {
		for next < len(summaries) && summaries[next].index == i {
			out = append(out, summaries[next].msg)
			next++
		}
		if !removed[m.ID] {
			out = append(out, m)
		}
	}
	for next < len(summaries) {
		out = append(out, summaries[next].msg)
		next++
	}
	return out
}
