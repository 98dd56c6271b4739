package search

import (
	"time"

	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/pkg/entity"
)

// SearchResult is one hydrated, ranked hit.
type SearchResult[T entity.Entity] struct {
	Entity    T         `json:"entity"`
	Score     float64   `json:"score"`
	Rank      int       `json:"rank"` // 1-based
	IsFirst   bool      `json:"is_first"`
	InTop3    bool      `json:"in_top3"`
	InTop5    bool      `json:"in_top5"`
	InTop10   bool      `json:"in_top10"`
	Timestamp time.Time `json:"timestamp"`
}

// SearchResponse is the outcome of a search. It is always returned, also when
// the search failed.
type SearchResponse[T entity.Entity] struct {
	Results      []SearchResult[T] `json:"results"`
	TotalHits    uint64            `json:"total_hits"`
	SearchTime   time.Duration     `json:"search_time"`
	Query        string            `json:"query"`
	EntityType   string            `json:"entity_type"`
	Options      query.Options     `json:"options"`
	Filters      query.Filters     `json:"filters,omitempty"`
	Suggestions  []string          `json:"suggestions,omitempty"`
	Success      bool              `json:"success"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`

	// Partial is set when index hits had no matching relational row.
	// Dropped counts them.
	Partial bool `json:"partial,omitempty"`
	Dropped int  `json:"dropped,omitempty"`
}

// ResultsReturned returns the number of hydrated results.
func (r SearchResponse[T]) ResultsReturned() int {
	return len(r.Results)
}

// ZeroResults reports whether the index matched nothing.
func (r SearchResponse[T]) ZeroResults() bool {
	return r.TotalHits == 0
}

// AverageScore returns the mean score of the returned results.
func (r SearchResponse[T]) AverageScore() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	var sum float64
	for _, res := range r.Results {
		sum += res.Score
	}
	return sum / float64(len(r.Results))
}

// PerformanceStats is computed on demand from the engine counters.
type PerformanceStats struct {
	TotalSearches           int64         `json:"total_searches"`
	SuccessfulSearches      int64         `json:"successful_searches"`
	FailedSearches          int64         `json:"failed_searches"`
	AverageSearchTime       time.Duration `json:"average_search_time"`
	TotalResultsReturned    int64         `json:"total_results_returned"`
	AverageResultsPerSearch float64       `json:"average_results_per_search"`
	ZeroResultSearches      int64         `json:"zero_result_searches"`
	SuccessRate             float64       `json:"success_rate"` // percent
	IndexedDocuments        int64         `json:"indexed_documents"`
	DeletedDocuments        int64         `json:"deleted_documents"`
	UpdatedDocuments        int64         `json:"updated_documents"`
	IndexOptimizations      int64         `json:"index_optimizations"`
	LastOptimization        time.Time     `json:"last_optimization,omitzero"`
	StartTime               time.Time     `json:"start_time"`
	Uptime                  time.Duration `json:"uptime"`
	LastActivity            time.Time     `json:"last_activity,omitzero"`
}

// QueryPerformance accumulates executions of one exact query string.
type QueryPerformance struct {
	Query                  string        `json:"query"`
	EntityType             string        `json:"entity_type"`
	ExecutionCount         int64         `json:"execution_count"`
	TotalExecutionTime     time.Duration `json:"total_execution_time"`
	AverageExecutionTime   time.Duration `json:"average_execution_time"`
	TotalResultsReturned   int64         `json:"total_results_returned"`
	AverageResultsReturned float64       `json:"average_results_returned"`
	ZeroResultCount        int64         `json:"zero_result_count"`
	FirstExecuted          time.Time     `json:"first_executed"`
	LastExecuted           time.Time     `json:"last_executed"`
}

func (p *QueryPerformance) add(d time.Duration, results int, zero bool, at time.Time) {
	if p.ExecutionCount == 0 {
		p.FirstExecuted = at
	}
	p.ExecutionCount++
	p.TotalExecutionTime += d
	p.AverageExecutionTime = p.TotalExecutionTime / time.Duration(p.ExecutionCount)
	p.TotalResultsReturned += int64(results)
	p.AverageResultsReturned = float64(p.TotalResultsReturned) / float64(p.ExecutionCount)
	if zero {
		p.ZeroResultCount++
	}
	p.LastExecuted = at
}

// Health is the overall state of the engine's stores.
type Health string

const (
	HealthHealthy   Health = "HEALTHY"
	HealthDegraded  Health = "DEGRADED"
	HealthUnhealthy Health = "UNHEALTHY"
	HealthCorrupted Health = "CORRUPTED"
)

// IndexStats is a point-in-time snapshot of both stores.
type IndexStats struct {
	EntityType       string    `json:"entity_type"`
	TotalDocuments   uint64    `json:"total_documents"`
	DeletedDocuments uint64    `json:"deleted_documents"`
	SegmentCount     int       `json:"segment_count"`
	Version          uint64    `json:"version"`
	SizeBytes        uint64    `json:"size_bytes"`
	LastCommit       time.Time `json:"last_commit,omitzero"`
	LastOptimization time.Time `json:"last_optimization,omitzero"`
	Optimized        bool      `json:"optimized"`
	Health           Health    `json:"health"`

	// RelationalDocuments is -1 for engines without a relational store.
	RelationalDocuments int64 `json:"relational_documents"`
}
