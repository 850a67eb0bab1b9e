package governor

import (
	"sync"
	"time"
)

// RateLimits are the provider's per-window ceilings. A zero limit
// disables that dimension.
type RateLimits struct {
	RequestsPerWindow     int     `json:"requests_per_window"`
	InputTokensPerWindow  int     `json:"input_tokens_per_window"`
	OutputTokensPerWindow int     `json:"output_tokens_per_window"`
	SafetyMargin          float64 `json:"safety_margin"` // e.g. 0.9
}

// windowEntry records one completed call. Entries are append-only and
// evicted once older than the window length.
type windowEntry struct {
	at           time.Time
	inputTokens  int
	outputTokens int
}

// RateWindow is sliding-window admission control over a trailing 60
// second interval. One window is shared by all sessions talking to a
// provider; all read-modify-write sequences hold the mutex and never
// include network I/O.
//
// Admit never blocks: when a limit would be exceeded it reports how
// long until the oldest offending entry leaves the window, and the
// caller decides whether to wait, queue, or reject.
type RateWindow struct {
	limits RateLimits
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries []windowEntry
}

// DefaultWindowLength is the trailing interval usage is measured over.
const DefaultWindowLength = 60 * time.Second

// NewRateWindow creates a window with the standard 60s length.
func NewRateWindow(limits RateLimits) *RateWindow {
	if limits.SafetyMargin <= 0 || limits.SafetyMargin > 1 {
		limits.SafetyMargin = 0.9
	}
	return &RateWindow{
		limits: limits,
		window: DefaultWindowLength,
		now:    time.Now,
	}
}

// Admit checks whether a call with the given token estimates fits the
// window. Returns (false, wait) when any dimension would exceed
// limit*safetyMargin, where wait is the time until enough volume
// falls out of the window.
func (w *RateWindow) Admit(estimatedInput, estimatedOutput int) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.evict(now)

	requests := len(w.entries)
	inputTokens, outputTokens := 0, 0
	for _, e := range w.entries {
		inputTokens += e.inputTokens
		outputTokens += e.outputTokens
	}

	margin := w.limits.SafetyMargin

	// waitFor walks entries oldest-first and returns the time until
	// enough volume has expired for the estimate to fit, or zero when
	// it already fits.
	waitFor := func(current, estimate, limit int, contribution func(windowEntry) int) time.Duration {
		if limit <= 0 {
			return 0
		}
		effective := int(float64(limit) * margin)
		if current+estimate <= effective {
			return 0
		}
		excess := current + estimate - effective
		for _, e := range w.entries {
			excess -= contribution(e)
			if excess <= 0 {
				return e.at.Add(w.window).Sub(now)
			}
		}
		if len(w.entries) == 0 {
			// A single request larger than the effective limit can
			// never be admitted by waiting; let it through and let
			// the provider be the judge.
			return 0
		}
		return w.entries[len(w.entries)-1].at.Add(w.window).Sub(now)
	}

	wait := waitFor(requests, 1, w.limits.RequestsPerWindow, func(windowEntry) int { return 1 })
	if d := waitFor(inputTokens, estimatedInput, w.limits.InputTokensPerWindow, func(e windowEntry) int { return e.inputTokens }); d > wait {
		wait = d
	}
	if d := waitFor(outputTokens, estimatedOutput, w.limits.OutputTokensPerWindow, func(e windowEntry) int { return e.outputTokens }); d > wait {
		wait = d
	}

	if wait > 0 {
		return false, wait
	}
	return true, 0
}

// Record appends the actual post-call counts as a new entry. Past
// entries are never mutated.
func (w *RateWindow) Record(actualInput, actualOutput int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, windowEntry{
		at:           w.now(),
		inputTokens:  actualInput,
		outputTokens: actualOutput,
	})
}

// Totals reports current in-window volume, post-eviction.
func (w *RateWindow) Totals() (requests, inputTokens, outputTokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(w.now())
	requests = len(w.entries)
	for _, e := range w.entries {
		inputTokens += e.inputTokens
		outputTokens += e.outputTokens
	}
	return requests, inputTokens, outputTokens
}

// evict drops entries older than the window. Caller holds the mutex.
func (w *RateWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := 0
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			w.entries[keep] = e
			keep++
		}
	}
	w.entries = w.entries[:keep]
}
