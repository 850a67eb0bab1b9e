package governor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives a RateWindow deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(limits RateLimits) (*RateWindow, *fakeClock) {
	w := NewRateWindow(limits)
	clock := newFakeClock()
	w.now = clock.Now
	return w, clock
}

func TestAdmitUnderLimit(t *testing.T) {
	w, _ := newTestWindow(RateLimits{
		RequestsPerWindow:    10,
		InputTokensPerWindow: 10000,
		SafetyMargin:         0.9,
	})

	allowed, wait := w.Admit(100, 50)
	assert.True(t, allowed)
	assert.Zero(t, wait)
}

func TestAdmitDeniedOnRequests(t *testing.T) {
	w, clock := newTestWindow(RateLimits{
		RequestsPerWindow: 10,
		SafetyMargin:      0.9,
	})

	// Effective limit is 9 requests.
	for i := 0; i < 9; i++ {
		w.Record(10, 10)
		clock.Advance(time.Second)
	}

	allowed, wait := w.Admit(10, 10)
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, DefaultWindowLength)
}

func TestAdmitDeniedOnInputTokens(t *testing.T) {
	w, _ := newTestWindow(RateLimits{
		InputTokensPerWindow: 1000,
		SafetyMargin:         0.9,
	})

	w.Record(850, 0)

	allowed, wait := w.Admit(100, 0) // 850+100 > 900
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))

	allowed, _ = w.Admit(50, 0) // 850+50 <= 900
	assert.True(t, allowed)
}

func TestEvictionFreesCapacity(t *testing.T) {
	w, clock := newTestWindow(RateLimits{
		RequestsPerWindow: 2,
		SafetyMargin:      1.0,
	})

	w.Record(1, 1)
	w.Record(1, 1)

	allowed, wait := w.Admit(1, 1)
	require.False(t, allowed)

	clock.Advance(wait + time.Millisecond)

	allowed, _ = w.Admit(1, 1)
	assert.True(t, allowed, "entries past the window must be evicted")
}

func TestTotalsNeverExceedLimitAfterEviction(t *testing.T) {
	w, clock := newTestWindow(RateLimits{
		RequestsPerWindow:     5,
		InputTokensPerWindow:  500,
		OutputTokensPerWindow: 200,
		SafetyMargin:          0.9,
	})

	for i := 0; i < 20; i++ {
		if allowed, _ := w.Admit(90, 35); allowed {
			w.Record(90, 35)
		}
		clock.Advance(7 * time.Second)

		// Post-eviction totals never exceed limit*margin.
		requests, input, output := w.Totals()
		assert.LessOrEqual(t, requests, 4)
		assert.LessOrEqual(t, input, 450)
		assert.LessOrEqual(t, output, 180)
	}
}

func TestWaitMatchesOldestOffendingEntry(t *testing.T) {
	w, clock := newTestWindow(RateLimits{
		RequestsPerWindow: 2,
		SafetyMargin:      1.0,
	})

	w.Record(1, 1)
	clock.Advance(20 * time.Second)
	w.Record(1, 1)

	// The oldest entry exits the window in 40s.
	_, wait := w.Admit(1, 1)
	assert.Equal(t, 40*time.Second, wait)
}

func TestRecordNeverBlocks(t *testing.T) {
	w, _ := newTestWindow(RateLimits{RequestsPerWindow: 1, SafetyMargin: 0.9})

	// Recording past the limit is allowed; only Admit gates.
	for i := 0; i < 5; i++ {
		w.Record(1000, 1000)
	}
	requests, _, _ := w.Totals()
	assert.Equal(t, 5, requests)
}

func TestOversizedSingleRequestAdmitted(t *testing.T) {
	w, _ := newTestWindow(RateLimits{InputTokensPerWindow: 100, SafetyMargin: 0.9})

	// Nothing in the window and the estimate alone exceeds the
	// limit: waiting would never help, so it is let through.
	allowed, wait := w.Admit(500, 0)
	assert.True(t, allowed)
	assert.Zero(t, wait)
}

func TestConcurrentAdmitRecord(t *testing.T) {
	w := NewRateWindow(RateLimits{
		RequestsPerWindow:    1000,
		InputTokensPerWindow: 1_000_000,
		SafetyMargin:         0.9,
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if allowed, _ := w.Admit(10, 5); allowed {
					w.Record(10, 5)
				}
			}
		}()
	}
	wg.Wait()

	requests, _, _ := w.Totals()
	assert.Equal(t, 800, requests)
}
