package search

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/internal/store"
	"github.com/h12/seekly/pkg/entity"
)

type product struct {
	ID       string  `json:"id"`
	Type     string  `json:"type,omitempty"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Brand    string  `json:"brand"`
	Price    float64 `json:"price"`
	Rating   float64 `json:"rating,omitempty"`
	Inactive bool    `json:"inactive,omitempty"`
}

func (p product) SearchAttributes() entity.Attributes {
	typ := p.Type
	if typ == "" {
		typ = "product"
	}
	attrs := entity.NewAttributes(p.ID, typ, p.Name,
		entity.Field{Name: "category", Value: p.Category},
		entity.Field{Name: "brand", Value: p.Brand},
	).WithActive(!p.Inactive)
	if p.Rating > 0 {
		attrs = attrs.WithRelevance(p.Rating)
	}
	return attrs
}

type testEngine struct {
	*HybridEngine[product]
	idx     *store.BleveIndex
	records *store.SQLiteStore
}

func newTestEngine(t *testing.T, opts ...Option) testEngine {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := store.NewBleveIndex(store.IndexConfig{Path: filepath.Join(dir, "product.bleve")})
	require.NoError(t, err)
	records, err := store.NewSQLiteStore(ctx, store.DefaultSQLiteConfig(filepath.Join(dir, "seekly.db"), "product"))
	require.NoError(t, err)

	e, err := NewHybridEngine[product]("product", idx, records, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return testEngine{HybridEngine: e, idx: idx, records: records}
}

func catalog() []product {
	return []product{
		{ID: "p1", Name: "iPhone 15 Pro", Category: "Electronics", Brand: "Apple", Price: 999},
		{ID: "p2", Name: "MacBook Air", Category: "Electronics", Brand: "Apple", Price: 1199},
		{ID: "p3", Name: "AirPods Pro", Category: "Electronics", Brand: "Apple", Price: 249},
		{ID: "p4", Name: "iPad Mini", Category: "Electronics", Brand: "Apple", Price: 499},
		{ID: "p5", Name: "Apple Watch Ultra", Category: "Electronics", Brand: "Apple", Price: 799},
		{ID: "p6", Name: "Trail Running Shoes", Category: "Sports", Brand: "Nike", Price: 129},
	}
}

func resultIDs(results []SearchResult[product]) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Entity.ID
	}
	return out
}

func TestNewHybridEngine_RequiresDependencies(t *testing.T) {
	idx, err := store.NewBleveIndex(store.IndexConfig{})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	_, err = NewHybridEngine[product]("product", nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewHybridEngine[product]("product", idx, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestHybridEngine_IndexThenSearch(t *testing.T) {
	// Given: an engine with one product
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Index(ctx, product{ID: "p1", Name: "Mechanical Keyboard", Category: "Electronics", Brand: "Keychron"}))

	// When: searching by a field value it contains
	opts := query.DefaultOptions()
	opts.SearchFields = []string{"brand"}
	resp := e.Search(ctx, "keychron", nil, opts)

	// Then: it is found and hydrated from the relational store
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, uint64(1), resp.TotalHits)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Mechanical Keyboard", resp.Results[0].Entity.Name)
	assert.Equal(t, "product", resp.EntityType)
	assert.False(t, resp.Partial)
}

func TestHybridEngine_ElectronicsScenario(t *testing.T) {
	// Given: five Apple electronics and one sports product
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	// When: searching "Apple" restricted to brand and category
	opts := query.DefaultOptions()
	opts.SearchFields = []string{"brand", "category"}
	resp := e.Search(ctx, "Apple", nil, opts)

	// Then: the Apple products are returned and the sports product is not
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, uint64(5), resp.TotalHits)
	assert.ElementsMatch(t, []string{"p1", "p2", "p3", "p4", "p5"}, resultIDs(resp.Results))
	// p5 also matches on content.
	assert.Equal(t, "p5", resp.Results[0].Entity.ID)

	// When: searching a term that appears nowhere
	before := e.PerformanceStats().ZeroResultSearches
	resp = e.Search(ctx, "xylophone", nil, opts)

	// Then: zero hits and the zero-result counter moves by one
	require.True(t, resp.Success)
	assert.Zero(t, resp.TotalHits)
	assert.Empty(t, resp.Results)
	assert.Equal(t, before+1, e.PerformanceStats().ZeroResultSearches)
}

func TestHybridEngine_RankFlags(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	opts := query.DefaultOptions()
	opts.SearchFields = []string{"category"}
	resp := e.Search(ctx, "electronics", nil, opts)

	require.Len(t, resp.Results, 5)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, i == 0, r.IsFirst)
		assert.Equal(t, i < 3, r.InTop3)
		assert.True(t, r.InTop5)
		assert.True(t, r.InTop10)
	}
}

func TestHybridEngine_RemoveMakesEntityUnreachable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	require.NoError(t, e.Remove(ctx, "p6"))

	resp := e.Search(ctx, "running", nil, query.DefaultOptions())
	assert.Zero(t, resp.TotalHits)

	_, err := e.Get(ctx, "p6")
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeNotFound, serrors.GetCode(err))
	assert.Equal(t, int64(1), e.PerformanceStats().DeletedDocuments)
}

func TestHybridEngine_RemoveUnknownIDSucceeds(t *testing.T) {
	e := newTestEngine(t)
	assert.NoError(t, e.Remove(context.Background(), "never-indexed"))
}

func TestHybridEngine_ReindexSameIDKeepsLatest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Index(ctx, product{ID: "p1", Name: "Wireless Mouse"}))
	require.NoError(t, e.Update(ctx, product{ID: "p1", Name: "Gaming Headset"}))

	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	docs, err := e.idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), docs)

	assert.Zero(t, e.Search(ctx, "mouse", nil, query.DefaultOptions()).TotalHits)
	resp := e.Search(ctx, "headset", nil, query.DefaultOptions())
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Gaming Headset", resp.Results[0].Entity.Name)

	stats := e.PerformanceStats()
	assert.Equal(t, int64(1), stats.IndexedDocuments)
	assert.Equal(t, int64(1), stats.UpdatedDocuments)
}

func TestHybridEngine_InactiveEntitiesAreNotSearchable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.IndexBatch(ctx, []product{
		{ID: "p1", Name: "Desk Lamp"},
		{ID: "p2", Name: "Desk Lamp Deluxe", Inactive: true},
	}))

	resp := e.Search(ctx, "lamp", nil, query.DefaultOptions())
	assert.Equal(t, []string{"p1"}, resultIDs(resp.Results))

	_, err := e.Get(ctx, "p2")
	assert.Equal(t, serrors.ErrCodeNotFound, serrors.GetCode(err))
}

func TestHybridEngine_Filters(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	opts := query.DefaultOptions()
	resp := e.Search(ctx, "pro", query.Filters{"category": "Electronics"}, opts)
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.ElementsMatch(t, []string{"p1", "p3"}, resultIDs(resp.Results))

	resp = e.Search(ctx, "pro", query.Filters{"category": "Sports"}, opts)
	require.True(t, resp.Success)
	assert.Empty(t, resp.Results)
}

func TestHybridEngine_SearchFailureIsReported(t *testing.T) {
	// Given: a filter value the index cannot express
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	// When: searching with it
	resp := e.Search(ctx, "apple", query.Filters{"brand": []string{"Apple"}}, query.DefaultOptions())

	// Then: the response carries the failure instead of an error
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.ErrorMessage)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.TotalHits)

	stats := e.PerformanceStats()
	assert.Equal(t, int64(1), stats.FailedSearches)

	m, ok := e.SearchMetrics("apple")
	require.True(t, ok)
	assert.False(t, m.Success)
	assert.NotEmpty(t, m.ErrorMessage)
}

func TestHybridEngine_SuccessRate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// No searches yet: no division by zero.
	stats := e.PerformanceStats()
	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.AverageSearchTime)
	assert.Zero(t, stats.AverageResultsPerSearch)

	require.NoError(t, e.IndexBatch(ctx, catalog()))
	for _, q := range []string{"apple", "ipad", "shoes"} {
		require.True(t, e.Search(ctx, q, nil, query.DefaultOptions()).Success)
	}
	require.False(t, e.Search(ctx, "apple", query.Filters{"x": struct{}{}}, query.DefaultOptions()).Success)

	stats = e.PerformanceStats()
	assert.Equal(t, int64(4), stats.TotalSearches)
	assert.Equal(t, int64(3), stats.SuccessfulSearches)
	assert.InDelta(t, 75.0, stats.SuccessRate, 1e-9)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestHybridEngine_HydrationMissIsPartial(t *testing.T) {
	// Given: an indexed product whose relational row disappeared
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))
	require.NoError(t, e.records.Delete(ctx, "p2"))

	// When: searching for it among others
	opts := query.DefaultOptions()
	opts.SearchFields = []string{"brand"}
	resp := e.Search(ctx, "apple", nil, opts)

	// Then: the miss is dropped and flagged, the index total is kept
	require.True(t, resp.Success)
	assert.Equal(t, uint64(5), resp.TotalHits)
	assert.Len(t, resp.Results, 4)
	assert.NotContains(t, resultIDs(resp.Results), "p2")
	assert.True(t, resp.Partial)
	assert.Equal(t, 1, resp.Dropped)
}

func TestHybridEngine_OffsetAndMaxResults(t *testing.T) {
	// Given: equally matching products told apart by relevance
	e := newTestEngine(t)
	ctx := context.Background()
	var batch []product
	for i := 1; i <= 5; i++ {
		batch = append(batch, product{ID: fmt.Sprintf("r%d", i), Name: "Standing Desk", Rating: float64(i)})
	}
	require.NoError(t, e.IndexBatch(ctx, batch))

	// When: asking for the second page of two
	opts := query.DefaultOptions()
	opts.MaxResults = 2
	opts.Offset = 2
	resp := e.Search(ctx, "desk", nil, opts)

	// Then: ranks restart at one and the total covers every hit
	require.Len(t, resp.Results, 2)
	assert.Equal(t, uint64(5), resp.TotalHits)
	assert.Equal(t, []string{"r3", "r2"}, resultIDs(resp.Results))
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.True(t, resp.Results[0].IsFirst)

	// And: a minimum score drops the weaker hits
	opts = query.DefaultOptions()
	all := e.Search(ctx, "desk", nil, opts)
	require.Len(t, all.Results, 5)
	opts.MinScore = all.Results[1].Score
	top := e.Search(ctx, "desk", nil, opts)
	assert.Equal(t, []string{"r5", "r4"}, resultIDs(top.Results))
}

func TestHybridEngine_PagingOneHitAtATimeWalksTheRanking(t *testing.T) {
	// Given: six equally matching products told apart only by relevance
	e := newTestEngine(t)
	ctx := context.Background()
	var batch []product
	for i := 1; i <= 6; i++ {
		batch = append(batch, product{ID: fmt.Sprintf("r%d", i), Name: "Standing Desk", Rating: float64(i)})
	}
	require.NoError(t, e.IndexBatch(ctx, batch))

	// When: fetching one result per page
	var walked []string
	for offset := range 6 {
		opts := query.DefaultOptions()
		opts.MaxResults = 1
		opts.Offset = offset
		resp := e.Search(ctx, "standing desk", nil, opts)
		require.True(t, resp.Success, resp.ErrorMessage)
		require.Len(t, resp.Results, 1)
		walked = append(walked, resp.Results[0].Entity.ID)
	}

	// Then: every product shows up once, in relevance order
	assert.Equal(t, []string{"r6", "r5", "r4", "r3", "r2", "r1"}, walked)
}

func TestHybridEngine_UpdateKeepsCreationTimeInBothStores(t *testing.T) {
	// Given: a product indexed at t0
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(t0.UnixNano())
	e := newTestEngine(t, WithClock(func() time.Time { return time.Unix(0, clock.Load()).UTC() }))
	ctx := context.Background()
	require.NoError(t, e.Index(ctx, product{ID: "p1", Name: "Standing Desk"}))

	// When: it is updated two days later
	clock.Store(t0.Add(48 * time.Hour).UnixNano())
	require.NoError(t, e.Update(ctx, product{ID: "p1", Name: "Standing Desk Pro"}))

	// Then: the relational row keeps t0
	rec, err := e.records.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, t0.Equal(rec.CreatedAt), "got %s", rec.CreatedAt)

	// And: the index agrees, so a creation-time filter still finds it
	created := query.Filters{entity.FieldCreatedAt: query.TimeRange(time.Time{}, t0.Add(time.Hour))}
	resp := e.Search(ctx, "desk", created, query.DefaultOptions())
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Equal(t, []string{"p1"}, resultIDs(resp.Results))
	assert.Equal(t, "Standing Desk Pro", resp.Results[0].Entity.Name)

	later := query.Filters{entity.FieldCreatedAt: query.TimeRange(t0.Add(24*time.Hour), time.Time{})}
	resp = e.Search(ctx, "desk", later, query.DefaultOptions())
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Empty(t, resp.Results)
}

func TestHybridEngine_UndecodablePayloadIsDropped(t *testing.T) {
	// Given: a stored payload that no longer decodes into a product
	var logs bytes.Buffer
	e := newTestEngine(t, WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))
	rec, err := e.records.Get(ctx, "p2")
	require.NoError(t, err)
	rec.Payload = []byte(`{"id":"p2","price":"not a number"}`)
	require.NoError(t, e.records.Upsert(ctx, rec))

	// When: a search hits it
	opts := query.DefaultOptions()
	opts.SearchFields = []string{"brand"}
	resp := e.Search(ctx, "apple", nil, opts)

	// Then: the other hits survive and the bad one counts as a miss
	require.True(t, resp.Success, resp.ErrorMessage)
	assert.Len(t, resp.Results, 4)
	assert.NotContains(t, resultIDs(resp.Results), "p2")
	assert.True(t, resp.Partial)
	assert.Equal(t, 1, resp.Dropped)
	assert.Contains(t, logs.String(), "hydration_decode_failed")
	assert.Contains(t, logs.String(), `"id":"p2"`)
}

func TestHybridEngine_EmptyQueryMatchesNothing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	resp := e.Search(ctx, "   ", nil, query.DefaultOptions())
	assert.True(t, resp.Success)
	assert.Zero(t, resp.TotalHits)
}

func TestHybridEngine_RejectsForeignEntityType(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.IndexBatch(ctx, []product{{ID: "p1", Name: "ok"}, {ID: "s1", Type: "seller", Name: "shop"}})
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeInvalidEntity, serrors.GetCode(err))

	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is written when validation fails")

	err = e.Index(ctx, product{Name: "no id"})
	assert.Equal(t, serrors.ErrCodeInvalidEntity, serrors.GetCode(err))
}

func TestHybridEngine_IndexFailureKeepsRecord(t *testing.T) {
	// Given: an index that can no longer be written
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.idx.Close())

	// When: indexing
	err := e.Index(ctx, product{ID: "p1", Name: "Desk"})

	// Then: the call fails but the authoritative record exists for a retry
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeIndexFailed, serrors.GetCode(err))
	got, err := e.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Desk", got.Name)
	assert.False(t, e.IsHealthy(ctx))
}

func TestHybridEngine_BatchThenOptimize(t *testing.T) {
	// Given: a thousand products written in one batch
	e := newTestEngine(t)
	ctx := context.Background()

	batch := make([]product, 1000)
	for i := range batch {
		batch[i] = product{ID: fmt.Sprintf("p%04d", i), Name: fmt.Sprintf("Item %d", i), Category: "Bulk"}
	}
	require.NoError(t, e.IndexBatch(ctx, batch))

	// When: optimizing
	require.NoError(t, e.OptimizeIndex(ctx))

	// Then: every document is present and the index is optimized
	st, err := e.IndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), st.TotalDocuments)
	assert.Equal(t, int64(1000), st.RelationalDocuments)
	assert.True(t, st.Optimized)
	assert.Equal(t, HealthHealthy, st.Health)

	perf := e.PerformanceStats()
	assert.Equal(t, int64(1), perf.IndexOptimizations)
	assert.False(t, perf.LastOptimization.IsZero())
}

func TestHybridEngine_OptimizeHonorsCancellationBeforeStart(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.OptimizeIndex(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), e.PerformanceStats().IndexOptimizations)
}

func TestHybridEngine_IndexStatsDegradedWhenStoresDisagree(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Index(ctx, product{ID: "p1", Name: "Desk"}))

	// A record written behind the engine's back is not indexed.
	require.NoError(t, e.records.Upsert(ctx, store.Record{
		ID: "p2", EntityType: "product", SearchableContent: "Chair", Active: true,
		CreatedAt: time.Now(), UpdatedAt: time.Now(), Payload: []byte(`{"id":"p2"}`),
	}))

	st, err := e.IndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthDegraded, st.Health)

	// Reindex brings the index back in line.
	n, err := e.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err = e.IndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, st.Health)
	assert.Equal(t, uint64(1), e.Search(ctx, "chair", nil, query.DefaultOptions()).TotalHits)
}

func TestHybridEngine_ClearIndex(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	require.NoError(t, e.ClearIndex(ctx))

	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, e.Search(ctx, "apple", nil, query.DefaultOptions()).TotalHits)
}

func TestHybridEngine_Suggestions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	got, err := e.GetSuggestions(ctx, "ip", 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"iPhone 15 Pro", "iPad Mini"}, got)

	// A write invalidates the cached answer.
	require.NoError(t, e.Index(ctx, product{ID: "p7", Name: "iPod Classic"}))
	got, err = e.GetSuggestions(ctx, "IP", 5)
	require.NoError(t, err)
	assert.Contains(t, got, "iPod Classic")

	opts := query.DefaultOptions()
	opts.IncludeSuggestions = true
	resp := e.Search(ctx, "ipa", nil, opts)
	assert.Equal(t, []string{"iPad Mini"}, resp.Suggestions)

	empty, err := e.GetSuggestions(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHybridEngine_QueryPerformance(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	for range 3 {
		e.Search(ctx, "apple", nil, query.DefaultOptions())
	}
	for range 2 {
		e.Search(ctx, "unicorn", nil, query.DefaultOptions())
	}
	e.Search(ctx, "dragon", nil, query.DefaultOptions())

	p, ok := e.QueryPerformance("apple")
	require.True(t, ok)
	assert.Equal(t, int64(3), p.ExecutionCount)
	assert.Zero(t, p.ZeroResultCount)
	assert.False(t, p.FirstExecuted.After(p.LastExecuted))

	top := e.TopQueries(2)
	require.Len(t, top, 2)
	assert.Equal(t, "apple", top[0].Query)
	assert.Equal(t, "unicorn", top[1].Query)

	zero := e.ZeroResultQueries(10)
	require.Len(t, zero, 2)
	assert.Equal(t, "unicorn", zero[0].Query)
	assert.Equal(t, int64(2), zero[0].ZeroResultCount)
	assert.Equal(t, "dragon", zero[1].Query)

	tracked := e.Tracker().TopQueries("product", 1)
	require.Len(t, tracked, 1)
	assert.Equal(t, "apple", tracked[0].Query)

	window := e.SearchMetricsInRange(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	assert.Len(t, window, 6)
}

func TestHybridEngine_MetricsCanBeDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	cfg.EnableQueryPerformance = false
	e := newTestEngine(t, WithConfig(cfg))
	ctx := context.Background()

	e.Search(ctx, "apple", nil, query.DefaultOptions())

	_, ok := e.SearchMetrics("apple")
	assert.False(t, ok)
	_, ok = e.QueryPerformance("apple")
	assert.False(t, ok)
	assert.Equal(t, int64(1), e.PerformanceStats().TotalSearches)
}

type recordingCollector struct {
	mu            sync.Mutex
	searches      int
	zero          int
	indexed       int
	deleted       int
	updated       int
	optimizations int
}

func (c *recordingCollector) RecordSearch(_, _ string, _ time.Duration, _ int, _ float64, _, zero bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches++
	if zero {
		c.zero++
	}
}

func (c *recordingCollector) RecordIndexing(_ string, n int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexed += n
}

func (c *recordingCollector) RecordDeletion(_ string, n int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted += n
}

func (c *recordingCollector) RecordUpdate(_ string, n int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updated += n
}

func (c *recordingCollector) RecordOptimization(string, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.optimizations++
}

func TestHybridEngine_CollectorReceivesEvents(t *testing.T) {
	col := &recordingCollector{}
	e := newTestEngine(t, WithCollector(col))
	ctx := context.Background()

	require.NoError(t, e.IndexBatch(ctx, catalog()))
	require.NoError(t, e.Update(ctx, catalog()[0]))
	require.NoError(t, e.Remove(ctx, "p6"))
	e.Search(ctx, "apple", nil, query.DefaultOptions())
	e.Search(ctx, "nothing-here", nil, query.DefaultOptions())
	require.NoError(t, e.OptimizeIndex(ctx))

	col.mu.Lock()
	defer col.mu.Unlock()
	assert.Equal(t, 6, col.indexed)
	assert.Equal(t, 1, col.updated)
	assert.Equal(t, 1, col.deleted)
	assert.Equal(t, 2, col.searches)
	assert.Equal(t, 1, col.zero)
	assert.Equal(t, 1, col.optimizations)
}

func TestHybridEngine_AutoOptimize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoOptimize = true
	cfg.AutoOptimizeThreshold = 5
	e := newTestEngine(t, WithConfig(cfg))
	ctx := context.Background()

	require.NoError(t, e.IndexBatch(ctx, catalog()[:4]))
	assert.Zero(t, e.PerformanceStats().IndexOptimizations)

	require.NoError(t, e.Index(ctx, catalog()[4]))
	require.Eventually(t, func() bool {
		return e.PerformanceStats().IndexOptimizations == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHybridEngine_NoBackgroundOptimizeAfterClose(t *testing.T) {
	// Given: a closed engine
	var logs bytes.Buffer
	e := newTestEngine(t, WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	require.NoError(t, e.Close())

	// When: a write path asks for a background optimization
	e.optimizeInBackground(context.Background())
	e.background.Wait()

	// Then: nothing was started against the closed stores
	assert.Zero(t, e.PerformanceStats().IndexOptimizations)
	assert.NotContains(t, logs.String(), "auto_optimize_failed")
}

func TestNewHybridEngine_RejectsBadConfig(t *testing.T) {
	idx, err := store.NewBleveIndex(store.IndexConfig{})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	records, err := store.NewSQLiteStore(context.Background(), store.DefaultSQLiteConfig(store.MemoryDSN, "product"))
	require.NoError(t, err)
	defer func() { _ = records.Close() }()

	cfg := DefaultConfig()
	cfg.AutoOptimize = true
	cfg.AutoOptimizeThreshold = 0
	_, err = NewHybridEngine[product]("product", idx, records, WithConfig(cfg))
	assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))

	_, err = NewHybridEngine[product](" ", idx, records)
	assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))
}

func TestHybridEngine_ConcurrentWritesAndSearches(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, catalog()))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for w := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 10 {
				errs <- e.Index(ctx, product{ID: fmt.Sprintf("w%d-%d", w, i), Name: "Concurrent Widget"})
			}
		}()
		go func() {
			defer wg.Done()
			for range 10 {
				e.Search(ctx, "widget", nil, query.DefaultOptions())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	resp := e.Search(ctx, "widget", nil, query.DefaultOptions())
	assert.Equal(t, uint64(40), resp.TotalHits)
	assert.Equal(t, int64(41), e.PerformanceStats().SuccessfulSearches)
}
