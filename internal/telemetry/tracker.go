// Package telemetry tracks search metrics in memory for analytics.
// All data stays in-process; exporting is the collector's job.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Search Metric
// =============================================================================

// SearchMetric is one executed search. Immutable once recorded.
type SearchMetric struct {
	ID              string         `json:"id"`
	Query           string         `json:"query"`
	EntityType      string         `json:"entity_type"`
	TotalHits       uint64         `json:"total_hits"`
	ResultsReturned int            `json:"results_returned"`
	SearchTime      time.Duration  `json:"search_time"`
	Timestamp       time.Time      `json:"timestamp"`
	SessionID       string         `json:"session_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	Filters         map[string]any `json:"filters,omitempty"`
	ZeroResults     bool           `json:"zero_results"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// QueryCount is a query string and how often it occurred.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// hourBucket truncates t to the start of its UTC hour.
func hourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// =============================================================================
// Tracker
// =============================================================================

// MetricsTracker keeps recorded metrics in three indexes: the latest metric per
// exact query, the history per entity type and the history per hour bucket.
// All three are written together under one lock.
type MetricsTracker struct {
	mu       sync.RWMutex
	byQuery  map[string]SearchMetric
	byType   map[string][]SearchMetric
	byHour   map[time.Time][]SearchMetric
	logger   *slog.Logger
	now      func() time.Time
	recorded int64
	evicted  int64
}

// TrackerOption configures a MetricsTracker.
type TrackerOption func(*MetricsTracker)

// WithLogger sets the logger used by background eviction.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *MetricsTracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the clock used to stamp metrics without a timestamp.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *MetricsTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewMetricsTracker creates an empty tracker.
func NewMetricsTracker(opts ...TrackerOption) *MetricsTracker {
	t := &MetricsTracker{
		byQuery: make(map[string]SearchMetric),
		byType:  make(map[string][]SearchMetric),
		byHour:  make(map[time.Time][]SearchMetric),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record stores m in all three indexes. A missing ID or timestamp is filled in.
func (t *MetricsTracker) Record(m SearchMetric) SearchMetric {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.byQuery[m.Query] = m
	t.byType[m.EntityType] = append(t.byType[m.EntityType], m)
	bucket := hourBucket(m.Timestamp)
	t.byHour[bucket] = append(t.byHour[bucket], m)
	t.recorded++
	return m
}

// Latest returns the most recent metric recorded for the exact query.
func (t *MetricsTracker) Latest(query string) (SearchMetric, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byQuery[query]
	return m, ok
}

// TopQueries returns the most frequent queries for entityType, most frequent
// first. Ties keep first-seen order.
func (t *MetricsTracker) TopQueries(entityType string, limit int) []QueryCount {
	return t.rank(entityType, limit, func(SearchMetric) bool { return true })
}

// ZeroResultQueries returns the queries that most often produced no results.
func (t *MetricsTracker) ZeroResultQueries(entityType string, limit int) []QueryCount {
	return t.rank(entityType, limit, func(m SearchMetric) bool { return m.ZeroResults })
}

func (t *MetricsTracker) rank(entityType string, limit int, keep func(SearchMetric) bool) []QueryCount {
	if limit <= 0 {
		return []QueryCount{}
	}

	t.mu.RLock()
	counts := make(map[string]int)
	out := []QueryCount{}
	for _, m := range t.byType[entityType] {
		if !keep(m) {
			continue
		}
		i, seen := counts[m.Query]
		if !seen {
			i = len(out)
			counts[m.Query] = i
			out = append(out, QueryCount{Query: m.Query})
		}
		out[i].Count++
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MetricsInRange returns the metrics of entityType with from <= timestamp <= to,
// oldest first.
func (t *MetricsTracker) MetricsInRange(entityType string, from, to time.Time) []SearchMetric {
	t.mu.RLock()
	out := inRange(t.byType[entityType], from, to, nil)
	t.mu.RUnlock()

	sortByTime(out)
	return out
}

// AllMetricsInRange returns the metrics of every entity type with
// from <= timestamp <= to, oldest first. Only the hour buckets overlapping the
// range are scanned.
func (t *MetricsTracker) AllMetricsInRange(from, to time.Time) []SearchMetric {
	out := []SearchMetric{}
	if to.Before(from) {
		return out
	}
	first, last := hourBucket(from), hourBucket(to)

	t.mu.RLock()
	for bucket, metrics := range t.byHour {
		if bucket.Before(first) || bucket.After(last) {
			continue
		}
		out = inRange(metrics, from, to, out)
	}
	t.mu.RUnlock()

	sortByTime(out)
	return out
}

func inRange(metrics []SearchMetric, from, to time.Time, out []SearchMetric) []SearchMetric {
	if out == nil {
		out = []SearchMetric{}
	}
	for _, m := range metrics {
		if m.Timestamp.Before(from) || m.Timestamp.After(to) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func sortByTime(metrics []SearchMetric) {
	sort.SliceStable(metrics, func(i, j int) bool {
		return metrics[i].Timestamp.Before(metrics[j].Timestamp)
	})
}

// AverageSearchTime returns the mean search time for entityType, or 0 when
// nothing was recorded.
func (t *MetricsTracker) AverageSearchTime(entityType string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := t.byType[entityType]
	if len(metrics) == 0 {
		return 0
	}
	var total time.Duration
	for _, m := range metrics {
		total += m.SearchTime
	}
	return total / time.Duration(len(metrics))
}

// TotalSearches returns the number of searches recorded for entityType.
func (t *MetricsTracker) TotalSearches(entityType string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byType[entityType])
}

// EvictOlderThan removes metrics with a timestamp strictly before cutoff from
// every index and returns how many history entries were dropped.
func (t *MetricsTracker) EvictOlderThan(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for q, m := range t.byQuery {
		if m.Timestamp.Before(cutoff) {
			delete(t.byQuery, q)
		}
	}

	removed := 0
	for typ, metrics := range t.byType {
		kept := metrics[:0]
		for _, m := range metrics {
			if m.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(t.byType, typ)
			continue
		}
		t.byType[typ] = kept
	}

	for bucket, metrics := range t.byHour {
		if !bucket.Add(time.Hour).After(cutoff) {
			delete(t.byHour, bucket)
			continue
		}
		kept := metrics[:0]
		for _, m := range metrics {
			if !m.Timestamp.Before(cutoff) {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(t.byHour, bucket)
			continue
		}
		t.byHour[bucket] = kept
	}

	t.evicted += int64(removed)
	return removed
}

// =============================================================================
// Summary
// =============================================================================

// TypeSummary aggregates the history of one entity type.
type TypeSummary struct {
	Searches          int           `json:"searches"`
	ZeroResults       int           `json:"zero_results"`
	Failures          int           `json:"failures"`
	AverageSearchTime time.Duration `json:"average_search_time"`
}

// Summary is a snapshot of the tracker.
type Summary struct {
	Recorded      int64                  `json:"recorded"`
	Evicted       int64                  `json:"evicted"`
	Retained      int                    `json:"retained"`
	DistinctQuery int                    `json:"distinct_queries"`
	HourBuckets   int                    `json:"hour_buckets"`
	EntityTypes   map[string]TypeSummary `json:"entity_types"`
	Oldest        time.Time              `json:"oldest,omitzero"`
	Newest        time.Time              `json:"newest,omitzero"`
}

// Summary returns totals across all indexes.
func (t *MetricsTracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{
		Recorded:      t.recorded,
		Evicted:       t.evicted,
		DistinctQuery: len(t.byQuery),
		HourBuckets:   len(t.byHour),
		EntityTypes:   make(map[string]TypeSummary, len(t.byType)),
	}
	for typ, metrics := range t.byType {
		var ts TypeSummary
		var total time.Duration
		for _, m := range metrics {
			ts.Searches++
			total += m.SearchTime
			if m.ZeroResults {
				ts.ZeroResults++
			}
			if !m.Success {
				ts.Failures++
			}
			if s.Oldest.IsZero() || m.Timestamp.Before(s.Oldest) {
				s.Oldest = m.Timestamp
			}
			if m.Timestamp.After(s.Newest) {
				s.Newest = m.Timestamp
			}
		}
		if ts.Searches > 0 {
			ts.AverageSearchTime = total / time.Duration(ts.Searches)
		}
		s.Retained += ts.Searches
		s.EntityTypes[typ] = ts
	}
	return s
}

// =============================================================================
// Retention
// =============================================================================

// StartEviction evicts metrics older than retention every interval until ctx
// is done. The returned channel closes when the loop exits.
func (t *MetricsTracker) StartEviction(ctx context.Context, retention, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if retention <= 0 || interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := t.now().Add(-retention)
				if n := t.EvictOlderThan(cutoff); n > 0 {
					t.logger.Debug("metrics_evicted",
						slog.Int("count", n),
						slog.Time("cutoff", cutoff))
				}
			}
		}
	}()
	return done
}
