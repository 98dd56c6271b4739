package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func metric(entityType, query string, at time.Time, hits uint64) SearchMetric {
	return SearchMetric{
		Query:           query,
		EntityType:      entityType,
		TotalHits:       hits,
		ResultsReturned: int(hits),
		SearchTime:      10 * time.Millisecond,
		Timestamp:       at,
		ZeroResults:     hits == 0,
		Success:         true,
	}
}

func TestRecord_FillsIDAndTimestamp(t *testing.T) {
	tracker := NewMetricsTracker(WithClock(func() time.Time { return base }))

	m := tracker.Record(SearchMetric{Query: "apple", EntityType: "product"})

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, base, m.Timestamp)

	latest, ok := tracker.Latest("apple")
	require.True(t, ok)
	assert.Equal(t, m.ID, latest.ID)

	_, ok = tracker.Latest("unknown")
	assert.False(t, ok)
}

func TestRecord_KeepsAllIndexesInSync(t *testing.T) {
	// Given: metrics across two entity types and two hours
	tracker := NewMetricsTracker()
	tracker.Record(metric("product", "apple", base, 3))
	tracker.Record(metric("product", "apple", base.Add(time.Hour), 1))
	tracker.Record(metric("order", "late", base.Add(time.Minute), 0))

	// Then: each index reflects every record
	assert.Equal(t, 2, tracker.TotalSearches("product"))
	assert.Equal(t, 1, tracker.TotalSearches("order"))
	assert.Len(t, tracker.AllMetricsInRange(base, base.Add(2*time.Hour)), 3)

	latest, ok := tracker.Latest("apple")
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest.TotalHits)

	s := tracker.Summary()
	assert.Equal(t, int64(3), s.Recorded)
	assert.Equal(t, 3, s.Retained)
	assert.Equal(t, 2, s.DistinctQuery)
	assert.Equal(t, 2, s.HourBuckets)
	assert.Equal(t, 1, s.EntityTypes["order"].ZeroResults)
	assert.Equal(t, base, s.Oldest)
	assert.Equal(t, base.Add(time.Hour), s.Newest)
}

func TestTopQueries_SortedAndTruncated(t *testing.T) {
	tracker := NewMetricsTracker()
	for i, q := range []string{"b", "a", "c", "a", "c", "a", "d"} {
		tracker.Record(metric("product", q, base.Add(time.Duration(i)*time.Second), 1))
	}
	tracker.Record(metric("order", "a", base, 1))

	top := tracker.TopQueries("product", 3)

	require.Len(t, top, 3)
	assert.Equal(t, QueryCount{Query: "a", Count: 3}, top[0])
	assert.Equal(t, QueryCount{Query: "c", Count: 2}, top[1])
	// Ties keep first-seen order: b was seen before d.
	assert.Equal(t, QueryCount{Query: "b", Count: 1}, top[2])

	assert.Empty(t, tracker.TopQueries("product", 0))
	assert.Empty(t, tracker.TopQueries("unknown", 5))
}

func TestZeroResultQueries_OnlyCountsZeroResults(t *testing.T) {
	tracker := NewMetricsTracker()
	tracker.Record(metric("product", "unicorn", base, 0))
	tracker.Record(metric("product", "dragon", base, 0))
	tracker.Record(metric("product", "dragon", base, 0))
	tracker.Record(metric("product", "dragon", base, 4))
	tracker.Record(metric("product", "apple", base, 5))

	zero := tracker.ZeroResultQueries("product", 10)

	assert.Equal(t, []QueryCount{
		{Query: "dragon", Count: 2},
		{Query: "unicorn", Count: 1},
	}, zero)
	assert.Len(t, tracker.ZeroResultQueries("product", 1), 1)
}

func TestMetricsInRange_InclusiveAndAscending(t *testing.T) {
	tracker := NewMetricsTracker()
	tracker.Record(metric("product", "third", base.Add(2*time.Minute), 1))
	tracker.Record(metric("product", "first", base, 1))
	tracker.Record(metric("product", "second", base.Add(time.Minute), 1))
	tracker.Record(metric("product", "outside", base.Add(time.Hour), 1))

	got := tracker.MetricsInRange("product", base, base.Add(2*time.Minute))

	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Query)
	assert.Equal(t, "second", got[1].Query)
	assert.Equal(t, "third", got[2].Query)

	assert.Empty(t, tracker.MetricsInRange("unknown", base, base.Add(time.Hour)))
}

func TestAllMetricsInRange_SpansEntityTypesAndBuckets(t *testing.T) {
	tracker := NewMetricsTracker()
	tracker.Record(metric("product", "p", base.Add(-2*time.Hour), 1))
	tracker.Record(metric("order", "o", base.Add(59*time.Minute), 1))
	tracker.Record(metric("product", "q", base, 1))

	got := tracker.AllMetricsInRange(base, base.Add(time.Hour))

	require.Len(t, got, 2)
	assert.Equal(t, "q", got[0].Query)
	assert.Equal(t, "o", got[1].Query)

	assert.Empty(t, tracker.AllMetricsInRange(base.Add(time.Hour), base))
}

func TestAverageSearchTime(t *testing.T) {
	tracker := NewMetricsTracker()
	assert.Zero(t, tracker.AverageSearchTime("product"))
	assert.Zero(t, tracker.TotalSearches("product"))

	m1 := metric("product", "a", base, 1)
	m1.SearchTime = 10 * time.Millisecond
	m2 := metric("product", "b", base, 1)
	m2.SearchTime = 30 * time.Millisecond
	tracker.Record(m1)
	tracker.Record(m2)

	assert.Equal(t, 20*time.Millisecond, tracker.AverageSearchTime("product"))
}

func TestEvictOlderThan_RemovesFromAllIndexes(t *testing.T) {
	// Given: one old and one recent metric
	tracker := NewMetricsTracker()
	tracker.Record(metric("product", "old", base.Add(-3*time.Hour), 1))
	tracker.Record(metric("product", "edge", base, 1))
	tracker.Record(metric("order", "ancient", base.Add(-48*time.Hour), 1))

	// When: evicting strictly before base
	removed := tracker.EvictOlderThan(base)

	// Then: old entries are gone everywhere, the one at the cutoff stays
	assert.Equal(t, 2, removed)
	_, ok := tracker.Latest("old")
	assert.False(t, ok)
	_, ok = tracker.Latest("edge")
	assert.True(t, ok)
	assert.Equal(t, 1, tracker.TotalSearches("product"))
	assert.Zero(t, tracker.TotalSearches("order"))
	assert.Len(t, tracker.AllMetricsInRange(base.Add(-72*time.Hour), base), 1)

	s := tracker.Summary()
	assert.Equal(t, 1, s.HourBuckets)
	assert.Equal(t, int64(2), s.Evicted)
	assert.NotContains(t, s.EntityTypes, "order")
}

func TestEvictOlderThan_SplitsHourBucket(t *testing.T) {
	tracker := NewMetricsTracker()
	tracker.Record(metric("product", "early", base.Add(-10*time.Minute), 1))
	tracker.Record(metric("product", "late", base.Add(10*time.Minute), 1))

	assert.Equal(t, 1, tracker.EvictOlderThan(base))

	got := tracker.AllMetricsInRange(base.Add(-time.Hour), base.Add(time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Query)
}

func TestStartEviction_RunsUntilCancelled(t *testing.T) {
	tracker := NewMetricsTracker(WithClock(func() time.Time { return base }))
	tracker.Record(metric("product", "stale", base.Add(-2*time.Hour), 1))
	tracker.Record(metric("product", "fresh", base, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := tracker.StartEviction(ctx, time.Hour, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return tracker.TotalSearches("product") == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction loop did not stop")
	}
}

func TestStartEviction_DisabledWithoutRetention(t *testing.T) {
	tracker := NewMetricsTracker()
	done := tracker.StartEviction(context.Background(), 0, time.Second)

	select {
	case <-done:
	default:
		t.Fatal("expected closed channel")
	}
}

func TestRecord_ConcurrentWriters(t *testing.T) {
	tracker := NewMetricsTracker()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				tracker.Record(metric("product", fmt.Sprintf("q%d", i%10), base.Add(time.Duration(w)*time.Minute), 1))
				_ = tracker.TopQueries("product", 3)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, tracker.TotalSearches("product"))
	top := tracker.TopQueries("product", 1)
	require.Len(t, top, 1)
	assert.Equal(t, int64(80), top[0].Count)
}
