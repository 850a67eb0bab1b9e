package governor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Breakpoint locations. History breakpoints carry their message
// index, e.g. "history-index-12".
const (
	LocationSystem = "system"
	LocationTools  = "tools"
)

// HistoryLocation formats the location of a history breakpoint.
func HistoryLocation(index int) string {
	return fmt.Sprintf("history-index-%d", index)
}

// CacheBreakpoint marks a request position whose preceding content
// the provider may reuse across calls. Valid only while ContentHash
// matches the current content at the location.
type CacheBreakpoint struct {
	Location    string `json:"location"`
	ContentHash string `json:"content_hash"`
	Tokens      int    `json:"tokens"`
	// ExpectedHit is true when a prior call wrote this content, so
	// the provider should bill it as a cache read.
	ExpectedHit bool `json:"expected_hit"`
}

// CachePlan is the planner's output for one outbound call.
type CachePlan struct {
	Breakpoints []CacheBreakpoint `json:"breakpoints"`
	// Invalidated lists locations whose stored hash no longer matches
	// the current content; those breakpoints are dropped for this
	// call and the ledger is told to expect a cache miss.
	Invalidated []string `json:"invalidated,omitempty"`
}

// ExpectedHits counts breakpoints billed as cache reads.
func (p *CachePlan) ExpectedHits() int {
	n := 0
	for _, bp := range p.Breakpoints {
		if bp.ExpectedHit {
			n++
		}
	}
	return n
}

// cacheSlot is the remembered state of one breakpoint location.
type cacheSlot struct {
	hash    string
	index   int  // history prefix length; 0 for system/tools
	written bool // a breakpoint was emitted for this hash
}

// CacheStrategyPlanner places cache breakpoints and detects
// invalidation across consecutive calls. Safe for concurrent use; a
// planner is typically owned by one conversation session.
type CacheStrategyPlanner struct {
	estimator *TokenEstimator
	minTokens int

	mu    sync.Mutex
	slots map[string]*cacheSlot
}

// NewCacheStrategyPlanner creates a planner. minCacheableTokens is
// the smallest segment worth a breakpoint.
func NewCacheStrategyPlanner(estimator *TokenEstimator, minCacheableTokens int) *CacheStrategyPlanner {
	return &CacheStrategyPlanner{
		estimator: estimator,
		minTokens: minCacheableTokens,
		slots:     make(map[string]*cacheSlot),
	}
}

// Plan decides where breakpoints go for this call. The system prompt
// and tool block are cacheable when large enough; history gets a
// breakpoint after message (len - cacheCutoffTurns) so the trailing
// turns stay uncached.
func (p *CacheStrategyPlanner) Plan(ctx *ConversationContext, strategy Strategy) *CachePlan {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan := &CachePlan{}

	systemTokens := p.estimator.EstimateText(ctx.SystemPrompt)
	if systemTokens >= p.minTokens {
		p.planSlot(plan, LocationSystem, hashText(ctx.SystemPrompt), systemTokens, 0)
	}

	toolTokens := 0
	for _, schema := range ctx.Tools {
		toolTokens += p.estimator.EstimateToolSchema(schema)
	}
	if toolTokens >= p.minTokens {
		p.planSlot(plan, LocationTools, hashTools(ctx.Tools), toolTokens, 0)
	}

	cutoff := len(ctx.Messages) - strategy.CacheCutoffTurns
	if cutoff > 0 {
		prefix := ctx.Messages[:cutoff]
		prefixTokens := p.estimator.EstimateMessages(prefix)
		if prefixTokens >= p.minTokens {
			p.planHistory(plan, ctx, cutoff, prefixTokens)
		}
	}

	return plan
}

// planSlot handles the fixed locations (system, tools): emit a write
// for new content, a read for unchanged previously-written content,
// and drop the breakpoint for one call when the content changed.
func (p *CacheStrategyPlanner) planSlot(plan *CachePlan, location, hash string, tokens, index int) {
	slot, seen := p.slots[location]

	switch {
	case !seen:
		p.slots[location] = &cacheSlot{hash: hash, index: index, written: true}
		plan.Breakpoints = append(plan.Breakpoints, CacheBreakpoint{
			Location: location, ContentHash: hash, Tokens: tokens,
		})
	case slot.hash == hash && slot.written:
		plan.Breakpoints = append(plan.Breakpoints, CacheBreakpoint{
			Location: location, ContentHash: hash, Tokens: tokens, ExpectedHit: true,
		})
	case slot.hash == hash:
		// Content seen before but never written (it was dropped):
		// re-establish the breakpoint as a write.
		slot.written = true
		plan.Breakpoints = append(plan.Breakpoints, CacheBreakpoint{
			Location: location, ContentHash: hash, Tokens: tokens,
		})
	default:
		// Stale hash: drop the breakpoint for this call and expect a
		// miss. The next call re-establishes it.
		plan.Invalidated = append(plan.Invalidated, location)
		slot.hash = hash
		slot.index = index
		slot.written = false
	}
}

// planHistory handles the moving history breakpoint. The stored
// prefix may be shorter than the current one; as long as that prefix
// is intact the prior write is still readable and the breakpoint
// advances to the new cutoff.
func (p *CacheStrategyPlanner) planHistory(plan *CachePlan, ctx *ConversationContext, cutoff, prefixTokens int) {
	hash := hashMessages(ctx.Messages[:cutoff])
	location := HistoryLocation(cutoff)

	slot, seen := p.slots["history"]
	if !seen {
		p.slots["history"] = &cacheSlot{hash: hash, index: cutoff, written: true}
		plan.Breakpoints = append(plan.Breakpoints, CacheBreakpoint{
			Location: location, ContentHash: hash, Tokens: prefixTokens,
		})
		return
	}

	priorIntact := slot.index <= len(ctx.Messages) &&
		hashMessages(ctx.Messages[:slot.index]) == slot.hash

	switch {
	case priorIntact && slot.written:
		plan.Breakpoints = append(plan.Breakpoints, CacheBreakpoint{
			Location: location, ContentHash: hash, Tokens: prefixTokens, ExpectedHit: true,
		})
		slot.hash = hash
		slot.index = cutoff
	case priorIntact:
		// Never written (dropped on an earlier call): re-establish.
		slot.hash = hash
		slot.index = cutoff
		slot.written = true
		plan.Breakpoints = append(plan.Breakpoints, CacheBreakpoint{
			Location: location, ContentHash: hash, Tokens: prefixTokens,
		})
	default:
		// History rewritten (pruning, summarization, edits): the
		// prior breakpoint is stale.
		plan.Invalidated = append(plan.Invalidated, HistoryLocation(slot.index))
		slot.hash = hash
		slot.index = cutoff
		slot.written = false
	}
}

// Reset forgets all remembered breakpoints.
func (p *CacheStrategyPlanner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = make(map[string]*cacheSlot)
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func hashTools(tools []ToolSchema) string {
	var b strings.Builder
	for _, t := range tools {
		b.WriteString(t.Name)
		b.WriteString("\x00")
		b.WriteString(t.Description)
		b.WriteString("\x00")
		if raw, err := json.Marshal(t.Parameters); err == nil {
			b.Write(raw)
		}
		b.WriteString("\x00")
	}
	return hashText(b.String())
}

func hashMessages(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString("\x00")
		b.WriteString(m.Text())
		b.WriteString("\x00")
	}
	return hashText(b.String())
}
