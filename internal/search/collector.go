package search

import "time"

// Collector receives engine events for export. Implementations must be safe
// for concurrent use and must not block.
type Collector interface {
	RecordSearch(entityType, query string, d time.Duration, results int, avgScore float64, success, zeroResults bool)
	RecordIndexing(entityType string, count int, d time.Duration)
	RecordDeletion(entityType string, count int, d time.Duration)
	RecordUpdate(entityType string, count int, d time.Duration)
	RecordOptimization(entityType string, d time.Duration)
}

// NopCollector discards every event.
type NopCollector struct{}

func (NopCollector) RecordSearch(string, string, time.Duration, int, float64, bool, bool) {}
func (NopCollector) RecordIndexing(string, int, time.Duration) {}
func (NopCollector) RecordDeletion(string, int, time.Duration) {}
func (NopCollector) RecordUpdate(string, int, time.Duration) {}
func (NopCollector) RecordOptimization(string, time.Duration) {}

var _ Collector = NopCollector{}
