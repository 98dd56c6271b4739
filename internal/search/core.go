package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/internal/store"
	"github.com/h12/seekly/internal/telemetry"
	"github.com/h12/seekly/pkg/entity"
)

// Config holds engine tunables.
type Config struct {
	// AutoOptimize optimizes in the background once AutoOptimizeThreshold
	// documents were written since the last optimization.
	AutoOptimize          bool  `json:"auto_optimize"`
	AutoOptimizeThreshold int64 `json:"auto_optimize_threshold"`

	// EnableMetrics records every search in the metrics tracker.
	EnableMetrics bool `json:"enable_metrics"`

	// EnableQueryPerformance keeps per-query performance records.
	EnableQueryPerformance bool `json:"enable_query_performance"`

	// SuggestionCacheSize bounds the suggestion LRU (0 disables caching).
	SuggestionCacheSize int `json:"suggestion_cache_size"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		AutoOptimize:           false,
		AutoOptimizeThreshold:  1000,
		EnableMetrics:          true,
		EnableQueryPerformance: true,
		SuggestionCacheSize:    256,
	}
}

// Option configures an engine.
type Option func(*settings)

type settings struct {
	cfg       Config
	logger    *slog.Logger
	collector Collector
	tracker   *telemetry.MetricsTracker
	now       func() time.Time
}

// WithConfig replaces the engine configuration.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		s.cfg = cfg
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCollector sets the collector receiving engine events.
func WithCollector(c Collector) Option {
	return func(s *settings) {
		if c != nil {
			s.collector = c
		}
	}
}

// WithTracker shares a metrics tracker between engines. By default each
// engine creates its own.
func WithTracker(t *telemetry.MetricsTracker) Option {
	return func(s *settings) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		collector: NopCollector{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.tracker == nil {
		s.tracker = telemetry.NewMetricsTracker(telemetry.WithLogger(s.logger))
	}
	return s
}

// counters are the running totals behind PerformanceStats.
type counters struct {
	searches      atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	searchNanos   atomic.Int64
	results       atomic.Int64
	zeroResults   atomic.Int64
	indexed       atomic.Int64
	deleted       atomic.Int64
	updated       atomic.Int64
	optimizations atomic.Int64
	lastOptimized atomic.Int64 // unix nanos
	lastActivity  atomic.Int64 // unix nanos
}

// core is the state shared by HybridEngine and FileEngine.
type core struct {
	entityType string
	cfg        Config
	logger     *slog.Logger
	collector  Collector
	tracker    *telemetry.MetricsTracker
	builder    *query.Builder
	now        func() time.Time
	started    time.Time

	stats         counters
	sinceOptimize atomic.Int64

	perfMu sync.Mutex
	perf   map[string]*QueryPerformance
}

func newCore(entityType string, s settings) (*core, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return nil, serrors.ConfigError("entity type is required", nil)
	}
	if s.cfg.AutoOptimize && s.cfg.AutoOptimizeThreshold <= 0 {
		return nil, serrors.ConfigError("auto optimize threshold must be positive", nil).
			WithDetail("threshold", "0")
	}
	return &core{
		entityType: entityType,
		cfg:        s.cfg,
		logger:     s.logger.With(slog.String("entity_type", entityType)),
		collector:  s.collector,
		tracker:    s.tracker,
		builder:    query.NewBuilder(),
		now:        s.now,
		started:    s.now(),
		perf:       make(map[string]*QueryPerformance),
	}, nil
}

// EntityType returns the entity type served by the engine.
func (c *core) EntityType() string {
	return c.entityType
}

// Tracker returns the metrics tracker.
func (c *core) Tracker() *telemetry.MetricsTracker {
	return c.tracker
}

func (c *core) touch() {
	c.stats.lastActivity.Store(c.now().UnixNano())
}

// =============================================================================
// Projection
// =============================================================================

// projection is an entity flattened for both stores.
type projection struct {
	record store.Record
	doc    store.Document
}

func (c *core) project(e entity.Entity, withPayload bool) (projection, error) {
	attrs := e.SearchAttributes()
	if err := attrs.Validate(); err != nil {
		return projection{}, serrors.New(serrors.ErrCodeInvalidEntity, "invalid entity", err)
	}
	if attrs.Type != c.entityType {
		return projection{}, serrors.New(serrors.ErrCodeInvalidEntity, "entity type does not match engine", nil).
			WithDetail("id", attrs.ID).
			WithDetail("entity_type", attrs.Type).
			WithDetail("engine_entity_type", c.entityType)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return projection{}, serrors.New(serrors.ErrCodeSerialization, "failed to serialize entity", err).
			WithDetail("id", attrs.ID)
	}

	now := c.now()
	p := projection{
		record: store.Record{
			ID:                attrs.ID,
			EntityType:        attrs.Type,
			SearchableContent: attrs.Content,
			SearchableFields:  attrs.Fields,
			RelevanceScore:    attrs.Relevance(),
			CreatedAt:         attrs.CreatedAt(now),
			UpdatedAt:         attrs.UpdatedAt(now),
			Active:            attrs.Active(),
			Payload:           payload,
		},
	}
	p.doc = documentFromRecord(p.record)
	if !withPayload {
		p.doc.Payload = nil
	}
	return p, nil
}

func documentFromRecord(rec store.Record) store.Document {
	return store.Document{
		ID:             rec.ID,
		EntityType:     rec.EntityType,
		Content:        rec.SearchableContent,
		Fields:         rec.SearchableFields,
		RelevanceScore: rec.RelevanceScore,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		Active:         rec.Active,
		Payload:        rec.Payload,
	}
}

func projectAll[T entity.Entity](c *core, entities []T, withPayload bool) ([]projection, error) {
	out := make([]projection, 0, len(entities))
	for _, e := range entities {
		p, err := c.project(e, withPayload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// wrap attaches code to err unless err already carries one.
func wrap(code, message string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := serrors.As(err); ok {
		return err
	}
	return serrors.New(code, message, err)
}

// =============================================================================
// Write bookkeeping
// =============================================================================

func (c *core) wrote(n int, update bool, d time.Duration) (dueForOptimize bool) {
	if update {
		c.stats.updated.Add(int64(n))
		c.collector.RecordUpdate(c.entityType, n, d)
	} else {
		c.stats.indexed.Add(int64(n))
		c.collector.RecordIndexing(c.entityType, n, d)
	}
	c.touch()

	pending := c.sinceOptimize.Add(int64(n))
	return c.cfg.AutoOptimize && pending >= c.cfg.AutoOptimizeThreshold
}

func (c *core) removed(n int, d time.Duration) {
	c.stats.deleted.Add(int64(n))
	c.sinceOptimize.Add(int64(n))
	c.collector.RecordDeletion(c.entityType, n, d)
	c.touch()
}

func (c *core) optimized(d time.Duration) {
	c.stats.optimizations.Add(1)
	c.stats.lastOptimized.Store(c.now().UnixNano())
	c.sinceOptimize.Store(0)
	c.collector.RecordOptimization(c.entityType, d)
	c.touch()
}

// =============================================================================
// Search
// =============================================================================

// hydrateFunc turns ranked hits into results. It returns the number of hits
// that could not be hydrated.
type hydrateFunc[T entity.Entity] func(ctx context.Context, hits []store.Hit) ([]SearchResult[T], int, error)

// execute runs the search pipeline shared by both engines. It never fails;
// errors are reported in the response.
func execute[T entity.Entity](ctx context.Context, c *core, idx store.Index, text string, filters query.Filters, opts query.Options, hydrate hydrateFunc[T]) SearchResponse[T] {
	start := c.now()
	opts = opts.Normalize()

	resp := SearchResponse[T]{
		Results:    []SearchResult[T]{},
		Query:      text,
		EntityType: c.entityType,
		Options:    opts,
		Filters:    filters,
		Timestamp:  start,
	}

	err := func() error {
		q, err := c.builder.Build(text, opts, filters)
		if err != nil {
			return serrors.New(serrors.ErrCodeInvalidQuery, "invalid query", err)
		}

		hits, total, err := idx.Search(ctx, q, opts.Offset+opts.MaxResults)
		if err != nil {
			return wrap(serrors.ErrCodeSearchFailed, "index search failed", err)
		}
		resp.TotalHits = total

		hits = page(hits, opts.Offset, opts.MinScore)
		results, dropped, err := hydrate(ctx, hits)
		if err != nil {
			return wrap(serrors.ErrCodeHydrationFailed, "failed to hydrate results", err)
		}
		if dropped > 0 {
			resp.Partial = true
			resp.Dropped = dropped
			c.logger.Warn("hydration_miss",
				slog.String("query", text),
				slog.Int("dropped", dropped))
		}
		rank(results, start)
		resp.Results = results
		return nil
	}()

	resp.SearchTime = c.now().Sub(start)
	if err != nil {
		resp.Results = []SearchResult[T]{}
		resp.TotalHits = 0
		resp.Success = false
		resp.ErrorMessage = err.Error()
		c.logger.Error("search_failed",
			slog.String("query", text),
			slog.String("error", err.Error()))
	} else {
		resp.Success = true
	}

	c.recordSearch(outcome{
		query:    text,
		opts:     opts,
		filters:  filters,
		duration: resp.SearchTime,
		returned: len(resp.Results),
		total:    resp.TotalHits,
		avgScore: resp.AverageScore(),
		success:  resp.Success,
		errMsg:   resp.ErrorMessage,
		at:       start,
	})
	return resp
}

// page applies offset and the minimum score to a ranked hit list.
func page(hits []store.Hit, offset int, minScore float64) []store.Hit {
	if offset >= len(hits) {
		return nil
	}
	hits = hits[offset:]
	if minScore <= 0 {
		return hits
	}
	kept := hits[:0:0]
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	return kept
}

// rank assigns positional rank flags.
func rank[T entity.Entity](results []SearchResult[T], at time.Time) {
	for i := range results {
		r := i + 1
		results[i].Rank = r
		results[i].IsFirst = r == 1
		results[i].InTop3 = r <= 3
		results[i].InTop5 = r <= 5
		results[i].InTop10 = r <= 10
		results[i].Timestamp = at
	}
}

// outcome is the type-erased summary of a search used for bookkeeping.
type outcome struct {
	query    string
	opts     query.Options
	filters  query.Filters
	duration time.Duration
	returned int
	total    uint64
	avgScore float64
	success  bool
	errMsg   string
	at       time.Time
}

func (c *core) recordSearch(o outcome) {
	zero := o.success && o.total == 0

	c.stats.searches.Add(1)
	c.stats.searchNanos.Add(int64(o.duration))
	if o.success {
		c.stats.successes.Add(1)
		c.stats.results.Add(int64(o.returned))
		if zero {
			c.stats.zeroResults.Add(1)
		}
	} else {
		c.stats.failures.Add(1)
	}
	c.touch()

	c.collector.RecordSearch(c.entityType, o.query, o.duration, o.returned, o.avgScore, o.success, zero)

	if c.cfg.EnableMetrics && o.opts.TrackMetrics {
		c.tracker.Record(telemetry.SearchMetric{
			Query:           o.query,
			EntityType:      c.entityType,
			TotalHits:       o.total,
			ResultsReturned: o.returned,
			SearchTime:      o.duration,
			Timestamp:       o.at,
			SessionID:       o.opts.SessionID,
			UserID:          o.opts.UserID,
			Filters:         o.filters,
			ZeroResults:     zero,
			Success:         o.success,
			ErrorMessage:    o.errMsg,
		})
	}

	if o.success && c.cfg.EnableQueryPerformance {
		c.perfMu.Lock()
		p, ok := c.perf[o.query]
		if !ok {
			p = &QueryPerformance{Query: o.query, EntityType: c.entityType}
			c.perf[o.query] = p
		}
		p.add(o.duration, o.returned, zero, o.at)
		c.perfMu.Unlock()
	}
}

// =============================================================================
// Statistics
// =============================================================================

// PerformanceStats returns the running totals. Averages are 0 when nothing
// was counted.
func (c *core) PerformanceStats() PerformanceStats {
	now := c.now()
	s := PerformanceStats{
		TotalSearches:        c.stats.searches.Load(),
		SuccessfulSearches:   c.stats.successes.Load(),
		FailedSearches:       c.stats.failures.Load(),
		TotalResultsReturned: c.stats.results.Load(),
		ZeroResultSearches:   c.stats.zeroResults.Load(),
		IndexedDocuments:     c.stats.indexed.Load(),
		DeletedDocuments:     c.stats.deleted.Load(),
		UpdatedDocuments:     c.stats.updated.Load(),
		IndexOptimizations:   c.stats.optimizations.Load(),
		LastOptimization:     fromNanos(c.stats.lastOptimized.Load()),
		LastActivity:         fromNanos(c.stats.lastActivity.Load()),
		StartTime:            c.started,
		Uptime:               now.Sub(c.started),
	}
	if s.TotalSearches > 0 {
		s.AverageSearchTime = time.Duration(c.stats.searchNanos.Load() / s.TotalSearches)
		s.AverageResultsPerSearch = float64(s.TotalResultsReturned) / float64(s.TotalSearches)
		s.SuccessRate = float64(s.SuccessfulSearches) / float64(s.TotalSearches) * 100
	}
	return s
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// QueryPerformance returns the record for the exact query, if any.
func (c *core) QueryPerformance(q string) (QueryPerformance, bool) {
	c.perfMu.Lock()
	defer c.perfMu.Unlock()
	p, ok := c.perf[q]
	if !ok {
		return QueryPerformance{}, false
	}
	return *p, true
}

// TopQueries returns the most executed queries, most executed first.
func (c *core) TopQueries(limit int) []QueryPerformance {
	return c.rankPerformance(limit, func(p QueryPerformance) (int64, bool) {
		return p.ExecutionCount, true
	})
}

// ZeroResultQueries returns the queries that most often matched nothing.
func (c *core) ZeroResultQueries(limit int) []QueryPerformance {
	return c.rankPerformance(limit, func(p QueryPerformance) (int64, bool) {
		return p.ZeroResultCount, p.ZeroResultCount > 0
	})
}

func (c *core) rankPerformance(limit int, key func(QueryPerformance) (int64, bool)) []QueryPerformance {
	out := []QueryPerformance{}
	if limit <= 0 {
		return out
	}

	c.perfMu.Lock()
	for _, p := range c.perf {
		if _, ok := key(*p); ok {
			out = append(out, *p)
		}
	}
	c.perfMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ki, _ := key(out[i])
		kj, _ := key(out[j])
		if ki != kj {
			return ki > kj
		}
		if !out[i].FirstExecuted.Equal(out[j].FirstExecuted) {
			return out[i].FirstExecuted.Before(out[j].FirstExecuted)
		}
		return out[i].Query < out[j].Query
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SearchMetrics returns the latest tracked metric for the exact query.
func (c *core) SearchMetrics(q string) (telemetry.SearchMetric, bool) {
	return c.tracker.Latest(q)
}

// SearchMetricsInRange returns the tracked metrics of this engine's entity
// type between from and to, inclusive.
func (c *core) SearchMetricsInRange(from, to time.Time) []telemetry.SearchMetric {
	return c.tracker.MetricsInRange(c.entityType, from, to)
}

// indexStats fills the index part of an IndexStats snapshot.
func indexStats(entityType string, st store.IndexStats) IndexStats {
	return IndexStats{
		EntityType:          entityType,
		TotalDocuments:      st.DocCount,
		DeletedDocuments:    st.DeletedSince,
		SegmentCount:        st.Segments,
		Version:             st.Commits,
		SizeBytes:           st.SizeBytes,
		LastCommit:          st.LastCommit,
		LastOptimization:    st.LastOptimization,
		Optimized:           st.Optimized,
		Health:              HealthHealthy,
		RelationalDocuments: -1,
	}
}
