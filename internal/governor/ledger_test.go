package governor

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() *UsageLedger {
	return NewUsageLedger(NewPricingCalculator(DefaultPricingTable()))
}

func TestLedgerRecordAggregates(t *testing.T) {
	l := newTestLedger()

	l.Record("gpt-4o", TokenBreakdown{RegularInput: 1000, Output: 200}, false)
	l.Record("gpt-4o", TokenBreakdown{RegularInput: 500, CacheRead: 800, Output: 100}, true)
	l.Record("claude-sonnet", TokenBreakdown{RegularInput: 100, Output: 50}, false)

	session := l.SessionStats()
	assert.Equal(t, 3, session.Requests)
	assert.Equal(t, 1600, session.RegularInput)
	assert.Equal(t, 800, session.CacheRead)
	assert.Equal(t, 350, session.Output)
	assert.Equal(t, 1, session.CacheHits)
	assert.Greater(t, session.Cost, 0.0)

	byModel := l.BreakdownByModel()
	assert.Equal(t, 2, byModel["gpt-4o"].Requests)
	assert.Equal(t, 1, byModel["claude-sonnet"].Requests)
}

func TestLedgerCacheHitRate(t *testing.T) {
	l := newTestLedger()
	assert.Zero(t, l.CacheHitRate())

	l.Record("gpt-4o", TokenBreakdown{RegularInput: 10}, true)
	l.Record("gpt-4o", TokenBreakdown{RegularInput: 10}, false)
	l.Record("gpt-4o", TokenBreakdown{RegularInput: 10}, true)
	l.Record("gpt-4o", TokenBreakdown{RegularInput: 10}, false)

	assert.InDelta(t, 0.5, l.CacheHitRate(), 1e-9)
}

func TestLedgerRecordComputesCost(t *testing.T) {
	l := newTestLedger()

	record := l.Record("claude-sonnet", TokenBreakdown{
		RegularInput: 1000,
		CacheRead:    500,
		Output:       300,
	}, true)

	// 1000*3/1e6 + 500*3*0.10/1e6 + 300*15/1e6
	assert.InDelta(t, 0.00765, record.Cost, 1e-9)
	assert.True(t, record.CacheHit)
	assert.NotEmpty(t, record.ID)
}

func TestLedgerUnknownModelRecordsZeroCost(t *testing.T) {
	l := newTestLedger()

	// Startup validation catches unknown models; if one slips through
	// the ledger still records the call rather than dropping it.
	record := l.Record("unknown", TokenBreakdown{RegularInput: 100}, false)
	assert.Zero(t, record.Cost)
	assert.Equal(t, 1, l.SessionStats().Requests)
}

func TestLedgerResetSessionKeepsLifetime(t *testing.T) {
	l := newTestLedger()

	l.Record("gpt-4o", TokenBreakdown{RegularInput: 100}, false)
	l.ResetSession()
	l.Record("gpt-4o", TokenBreakdown{RegularInput: 200}, false)

	assert.Equal(t, 1, l.SessionStats().Requests)
	export := l.ExportStats()
	assert.Equal(t, 2, export.Lifetime.Requests)
	assert.Equal(t, 300, export.Lifetime.RegularInput)
}

func TestLedgerExportSerializable(t *testing.T) {
	l := newTestLedger()
	l.Record("gpt-4o", TokenBreakdown{RegularInput: 100, Output: 20}, false)
	l.ExpectMiss(LocationSystem)
	l.ExpectMiss(LocationSystem)
	l.ExpectMiss(HistoryLocation(8))

	export := l.ExportStats()
	assert.Equal(t, 3, export.ExpectedMisses)
	assert.Equal(t, 2, export.ExpectedMissesByLocation[LocationSystem])
	assert.Equal(t, 1, export.ExpectedMissesByLocation[HistoryLocation(8)])
	assert.False(t, export.GeneratedAt.IsZero())

	raw, err := json.Marshal(export)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "cache_hit_rate")

	var back StatsExport
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, export.Lifetime.Requests, back.Lifetime.Requests)
}

func TestLedgerRecordsAppendOnly(t *testing.T) {
	l := newTestLedger()
	l.Record("gpt-4o", TokenBreakdown{RegularInput: 1}, false)

	records := l.Records()
	require.Len(t, records, 1)
	records[0].Cost = 999 // mutating the copy must not touch the ledger

	assert.NotEqual(t, 999.0, l.Records()[0].Cost)
}

func TestLedgerConcurrentRecording(t *testing.T) {
	l := newTestLedger()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Record("gpt-4o", TokenBreakdown{RegularInput: 10, Output: 5}, j%2 == 0)
			}
		}()
	}
	wg.Wait()

	stats := l.SessionStats()
	assert.Equal(t, 400, stats.Requests)
	assert.Equal(t, 4000, stats.RegularInput)
	assert.Equal(t, 200, stats.CacheHits)
}
