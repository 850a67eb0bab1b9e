package governor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// UsageRecord is the immutable record of one completed call.
type UsageRecord struct {
	ID        string         `json:"id"`
	ModelID   string         `json:"model_id"`
	Breakdown TokenBreakdown `json:"breakdown"`
	Cost      float64        `json:"cost"`
	CacheHit  bool           `json:"cache_hit"`
	CreatedAt time.Time      `json:"created_at"`
}

// UsageTotals aggregates records.
type UsageTotals struct {
	Requests     int     `json:"requests"`
	RegularInput int     `json:"regular_input"`
	CacheWrite   int     `json:"cache_write"`
	CacheRead    int     `json:"cache_read"`
	Output       int     `json:"output"`
	Cost         float64 `json:"cost"`
	CacheHits    int     `json:"cache_hits"`
}

func (t *UsageTotals) add(r UsageRecord) {
	t.Requests++
	t.RegularInput += r.Breakdown.RegularInput
	t.CacheWrite += r.Breakdown.CacheWrite
	t.CacheRead += r.Breakdown.CacheRead
	t.Output += r.Breakdown.Output
	t.Cost += r.Cost
	if r.CacheHit {
		t.CacheHits++
	}
}

// StatsExport is the serializable ledger snapshot, the governor's
// only persisted artifact.
type StatsExport struct {
	GeneratedAt  time.Time              `json:"generated_at"`
	Session      UsageTotals            `json:"session"`
	Lifetime     UsageTotals            `json:"lifetime"`
	ByModel      map[string]UsageTotals `json:"by_model"`
	CacheHitRate float64                `json:"cache_hit_rate"`

	// ExpectedMisses counts planner-reported invalidations, total and
	// broken down by breakpoint location.
	ExpectedMisses           int            `json:"expected_misses"`
	ExpectedMissesByLocation map[string]int `json:"expected_misses_by_location,omitempty"`
}

// UsageLedger records per-call actuals and keeps session, lifetime
// and per-model aggregates. Append-only, mutex-guarded, shared across
// concurrent sessions. No failure modes.
type UsageLedger struct {
	calculator *PricingCalculator

	mu             sync.Mutex
	records        []UsageRecord
	session        UsageTotals
	lifetime       UsageTotals
	byModel        map[string]UsageTotals
	expectedMisses map[string]int
}

// NewUsageLedger creates a ledger over a validated calculator.
func NewUsageLedger(calculator *PricingCalculator) *UsageLedger {
	return &UsageLedger{
		calculator:     calculator,
		byModel:        make(map[string]UsageTotals),
		expectedMisses: make(map[string]int),
	}
}

// Record appends a usage record and updates the aggregates. The
// returned record carries the computed cost. Cost computation uses
// the startup-validated table; for safety an unknown model records a
// zero cost rather than failing the call.
func (l *UsageLedger) Record(modelID string, breakdown TokenBreakdown, cacheHit bool) UsageRecord {
	cost, err := l.calculator.Cost(breakdown, modelID)
	if err != nil {
		cost = 0
	}

	record := UsageRecord{
		ID:        uuid.New().String(),
		ModelID:   modelID,
		Breakdown: breakdown,
		Cost:      cost,
		CacheHit:  cacheHit,
		CreatedAt: time.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
	l.session.add(record)
	l.lifetime.add(record)
	totals := l.byModel[modelID]
	totals.add(record)
	l.byModel[modelID] = totals

	return record
}

// ExpectMiss notes a planner-reported cache invalidation at the given
// breakpoint location so the next call's miss shows up in exported
// stats.
func (l *UsageLedger) ExpectMiss(location string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expectedMisses[location]++
}

// SessionStats returns the aggregates for the current session.
func (l *UsageLedger) SessionStats() UsageTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// BreakdownByModel returns per-model aggregates.
func (l *UsageLedger) BreakdownByModel() map[string]UsageTotals {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]UsageTotals, len(l.byModel))
	for k, v := range l.byModel {
		out[k] = v
	}
	return out
}

// CacheHitRate returns hits/total over the lifetime of the ledger, or
// zero before any call.
func (l *UsageLedger) CacheHitRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lifetime.Requests == 0 {
		return 0
	}
	return float64(l.lifetime.CacheHits) / float64(l.lifetime.Requests)
}

// ResetSession starts a fresh session aggregate; lifetime totals and
// records are untouched.
func (l *UsageLedger) ResetSession() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = UsageTotals{}
}

// ExportStats snapshots the ledger for serialization.
func (l *UsageLedger) ExportStats() StatsExport {
	l.mu.Lock()
	defer l.mu.Unlock()

	byModel := make(map[string]UsageTotals, len(l.byModel))
	for k, v := range l.byModel {
		byModel[k] = v
	}

	rate := 0.0
	if l.lifetime.Requests > 0 {
		rate = float64(l.lifetime.CacheHits) / float64(l.lifetime.Requests)
	}

	missTotal := 0
	var byLocation map[string]int
	if len(l.expectedMisses) > 0 {
		byLocation = make(map[string]int, len(l.expectedMisses))
		for loc, n := range l.expectedMisses {
			byLocation[loc] = n
			missTotal += n
		}
	}

	return StatsExport{
		GeneratedAt:              time.Now(),
		Session:                  l.session,
		Lifetime:                 l.lifetime,
		ByModel:                  byModel,
		CacheHitRate:             rate,
		ExpectedMisses:           missTotal,
		ExpectedMissesByLocation: byLocation,
	}
}

// Records returns a copy of the append-only record list.
func (l *UsageLedger) Records() []UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]UsageRecord, len(l.records))
	copy(out, l.records)
	return out
}
