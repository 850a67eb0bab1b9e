package governor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ModelSpec describes one usable model: its context window and an
// output reservation used for admission estimates.
type ModelSpec struct {
	MaxContextTokens int `json:"max_context_tokens"`
	MaxOutputTokens  int `json:"max_output_tokens"`
}

// PreflightResult is everything the caller needs to make the outbound
// call: the governed context, the cache plan, and the estimates the
// admission decision was based on.
type PreflightResult struct {
	Context    *ConversationContext `json:"-"`
	ModelID    string               `json:"model_id"`
	Strategy   Strategy             `json:"strategy"`
	Estimate   ContextEstimate      `json:"estimate"`
	Evaluation *EvaluationResult    `json:"evaluation"`
	CachePlan  *CachePlan           `json:"cache_plan"`
}

// RequestGovernor is the pre-flight/post-flight pipeline around each
// completion call. It composes the context governor, the shared rate
// window, the cache planner, and the shared usage ledger.
//
// The rate window and ledger are passed in by reference and may be
// shared by many concurrent sessions; the governor itself holds no
// global state.
type RequestGovernor struct {
	contextGov *ContextGovernor
	window     *RateWindow
	planner    *CacheStrategyPlanner
	ledger     *UsageLedger
	strategies *StrategyRegistry
	models     map[string]ModelSpec
	logger     *logrus.Logger
}

// NewRequestGovernor wires the complete pipeline. The models map is
// validated against the ledger's pricing table at construction; an
// unlisted model is a ConfigurationError.
func NewRequestGovernor(
	contextGov *ContextGovernor,
	window *RateWindow,
	planner *CacheStrategyPlanner,
	ledger *UsageLedger,
	strategies *StrategyRegistry,
	models map[string]ModelSpec,
	logger *logrus.Logger,
) (*RequestGovernor, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if len(models) == 0 {
		return nil, &ConfigurationError{Field: "models", Reason: "at least one model is required"}
	}

	ids := make([]string, 0, len(models))
	for id, spec := range models {
		if spec.MaxContextTokens <= 0 {
			return nil, &ConfigurationError{Field: "models", Reason: fmt.Sprintf("model %q has no context window", id)}
		}
		ids = append(ids, id)
	}
	if err := ledger.calculator.Validate(ids); err != nil {
		return nil, err
	}

	return &RequestGovernor{
		contextGov: contextGov,
		window:     window,
		planner:    planner,
		ledger:     ledger,
		strategies: strategies,
		models:     models,
		logger:     logger,
	}, nil
}

// Preflight prepares one outbound call: admission against the rate
// window, a context-governor run, and cache planning. A denied
// admission returns a RateLimitError carrying the suggested wait; the
// governor never sleeps on the caller's behalf.
func (g *RequestGovernor) Preflight(ctx context.Context, conversation *ConversationContext, modelID, strategyName string) (*PreflightResult, error) {
	spec, ok := g.models[modelID]
	if !ok {
		return nil, &ConfigurationError{Field: "model", Reason: fmt.Sprintf("unknown model %q", modelID)}
	}
	strategy, err := g.strategies.Get(strategyName)
	if err != nil {
		return nil, err
	}

	estimator := g.contextGov.estimator
	estimate := estimator.EstimateContext(conversation)

	allowed, wait := g.window.Admit(estimate.Grand, spec.MaxOutputTokens)
	if !allowed {
		g.logger.WithFields(logrus.Fields{
			"model":      modelID,
			"wait":       wait,
			"input_est":  estimate.Grand,
			"output_est": spec.MaxOutputTokens,
		}).Warn("request delayed by rate window")
		return nil, &RateLimitError{RetryAfter: wait, Dimension: "window"}
	}

	evaluation, err := g.contextGov.Evaluate(ctx, conversation, strategy, spec.MaxContextTokens)
	if err != nil {
		return nil, err
	}

	governed := evaluation.Context
	plan := g.planner.Plan(governed, strategy)
	for _, location := range plan.Invalidated {
		g.ledger.ExpectMiss(location)
	}

	return &PreflightResult{
		Context:    governed,
		ModelID:    modelID,
		Strategy:   strategy,
		Estimate:   estimator.EstimateContext(governed),
		Evaluation: evaluation,
		CachePlan:  plan,
	}, nil
}

// Postflight records the actuals of a completed call in the rate
// window and the ledger, returning the priced usage record.
func (g *RequestGovernor) Postflight(result *PreflightResult, actual TokenBreakdown) UsageRecord {
	g.window.Record(actual.TotalInput(), actual.Output)

	cacheHit := actual.CacheRead > 0
	if !cacheHit && result.CachePlan != nil && result.CachePlan.ExpectedHits() > 0 {
		// Providers that do not report cache reads still get credit
		// for planned hits.
		cacheHit = true
	}

	record := g.ledger.Record(result.ModelID, actual, cacheHit)

	g.logger.WithFields(logrus.Fields{
		"model":     record.ModelID,
		"cost":      record.Cost,
		"cache_hit": record.CacheHit,
		"input":     actual.TotalInput(),
		"output":    actual.Output,
	}).Info("call recorded")

	return record
}

// Ledger exposes the shared usage ledger for reporting surfaces.
func (g *RequestGovernor) Ledger() *UsageLedger {
	return g.ledger
}

// Strategies exposes the strategy registry.
func (g *RequestGovernor) Strategies() *StrategyRegistry {
	return g.strategies
}

// Models lists the configured model specs.
func (g *RequestGovernor) Models() map[string]ModelSpec {
	out := make(map[string]ModelSpec, len(g.models))
	for k, v := range g.models {
		out[k] = v
	}
	return out
}
