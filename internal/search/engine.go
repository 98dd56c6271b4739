// Package search implements the search engines: HybridEngine keeps a bleve
// index and a SQLite store in sync, FileEngine runs on the index alone.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/internal/store"
	"github.com/h12/seekly/pkg/entity"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// reindexPageSize is the number of records copied per index batch.
const reindexPageSize = 500

// HybridEngine serves one entity type from two stores. The relational store
// holds the authoritative payload; the index ranks ids.
//
// Writes go to the relational store first and to the index second. A failure
// in between leaves a record that is retrievable but not yet searchable, and
// retrying the write converges because both upserts are idempotent. Removal
// follows the same order.
type HybridEngine[T entity.Entity] struct {
	*core
	index   store.Index
	records store.RecordStore

	suggestions *lru.Cache[string, []string]
	optimizer   singleflight.Group

	mu         sync.Mutex
	closed     bool
	background sync.WaitGroup
}

// NewHybridEngine creates an engine for entityType over index and records.
func NewHybridEngine[T entity.Entity](entityType string, index store.Index, records store.RecordStore, opts ...Option) (*HybridEngine[T], error) {
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrNilDependency)
	}
	if records == nil {
		return nil, fmt.Errorf("%w: record store is required", ErrNilDependency)
	}

	c, err := newCore(entityType, newSettings(opts))
	if err != nil {
		return nil, err
	}

	e := &HybridEngine[T]{
		core:    c,
		index:   index,
		records: records,
	}
	if c.cfg.SuggestionCacheSize > 0 {
		cache, err := lru.New[string, []string](c.cfg.SuggestionCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create suggestion cache: %w", err)
		}
		e.suggestions = cache
	}
	return e, nil
}

// =============================================================================
// Writes
// =============================================================================

// Index adds or replaces one entity.
func (e *HybridEngine[T]) Index(ctx context.Context, ent T) error {
	return e.write(ctx, []T{ent}, false)
}

// IndexBatch adds or replaces entities: one relational transaction, then one
// index commit.
func (e *HybridEngine[T]) IndexBatch(ctx context.Context, ents []T) error {
	return e.write(ctx, ents, false)
}

// Update replaces an entity. It takes the same path as Index.
func (e *HybridEngine[T]) Update(ctx context.Context, ent T) error {
	return e.write(ctx, []T{ent}, true)
}

func (e *HybridEngine[T]) write(ctx context.Context, ents []T, update bool) error {
	if len(ents) == 0 {
		return nil
	}
	start := e.now()

	projected, err := projectAll(e.core, ents, false)
	if err != nil {
		return err
	}
	recs := make([]store.Record, len(projected))
	docs := make([]store.Document, len(projected))
	for i, p := range projected {
		recs[i] = p.record
		docs[i] = p.doc
	}

	if err := e.records.UpsertBatch(ctx, recs); err != nil {
		e.logger.Error("record_upsert_failed",
			slog.Int("count", len(recs)),
			slog.String("error", err.Error()))
		return wrap(serrors.ErrCodeStoreWrite, "failed to write records", err)
	}
	for i := range docs {
		docs[i].CreatedAt = recs[i].CreatedAt
	}
	if err := e.index.UpsertBatch(ctx, docs); err != nil {
		// The records are committed; a retry converges.
		e.logger.Error("index_upsert_failed",
			slog.Int("count", len(docs)),
			slog.String("error", err.Error()))
		return wrap(serrors.ErrCodeIndexFailed, "failed to index documents", err)
	}
	e.invalidateSuggestions()

	if e.wrote(len(ents), update, e.now().Sub(start)) {
		e.optimizeInBackground(ctx)
	}
	e.logger.Debug("documents_written",
		slog.Int("count", len(ents)),
		slog.Bool("update", update))
	return nil
}

// Remove deletes an entity. Unknown ids succeed.
func (e *HybridEngine[T]) Remove(ctx context.Context, id string) error {
	return e.RemoveBatch(ctx, []string{id})
}

// RemoveBatch deletes entities by id.
func (e *HybridEngine[T]) RemoveBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	start := e.now()

	for _, id := range ids {
		if err := e.records.Delete(ctx, id); err != nil {
			return wrap(serrors.ErrCodeStoreWrite, "failed to delete record", err)
		}
	}
	if err := e.index.DeleteBatch(ctx, ids); err != nil {
		e.logger.Error("index_delete_failed",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()))
		return wrap(serrors.ErrCodeIndexFailed, "failed to delete documents", err)
	}
	e.invalidateSuggestions()
	e.removed(len(ids), e.now().Sub(start))
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Search runs text against the index and hydrates the hits from the
// relational store. It never returns an error; failures yield a response with
// Success false.
func (e *HybridEngine[T]) Search(ctx context.Context, text string, filters query.Filters, opts query.Options) SearchResponse[T] {
	resp := execute(ctx, e.core, e.index, text, filters, opts, e.hydrate)
	if resp.Success && resp.Options.IncludeSuggestions {
		suggestions, err := e.GetSuggestions(ctx, text, resp.Options.MaxSuggestions)
		if err != nil {
			e.logger.Warn("suggestions_failed", slog.String("error", err.Error()))
		} else {
			resp.Suggestions = suggestions
		}
	}
	return resp
}

// hydrate loads the hits' payloads in one query. Hits without an active row,
// or whose payload no longer decodes, are dropped and counted.
func (e *HybridEngine[T]) hydrate(ctx context.Context, hits []store.Hit) ([]SearchResult[T], int, error) {
	results := make([]SearchResult[T], 0, len(hits))
	if len(hits) == 0 {
		return results, 0, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := e.records.GetMany(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	dropped := 0
	for _, h := range hits {
		rec, ok := rows[h.ID]
		if !ok {
			dropped++
			continue
		}
		ent, err := decode[T](rec.Payload)
		if err != nil {
			e.logger.Warn("hydration_decode_failed",
				slog.String("id", h.ID),
				slog.String("error", err.Error()))
			dropped++
			continue
		}
		results = append(results, SearchResult[T]{Entity: ent, Score: h.Score})
	}
	return results, dropped, nil
}

func decode[T entity.Entity](payload []byte) (T, error) {
	var ent T
	err := json.Unmarshal(payload, &ent)
	return ent, err
}

// Get returns the active entity stored under id.
func (e *HybridEngine[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	rec, err := e.records.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return zero, serrors.New(serrors.ErrCodeNotFound, "entity not found", err).
			WithDetail("id", id)
	}
	if err != nil {
		return zero, wrap(serrors.ErrCodeStoreRead, "failed to read entity", err)
	}
	ent, err := decode[T](rec.Payload)
	if err != nil {
		return zero, serrors.New(serrors.ErrCodeSerialization, "failed to decode entity", err).
			WithDetail("id", id)
	}
	return ent, nil
}

// Count returns the number of active entities.
func (e *HybridEngine[T]) Count(ctx context.Context) (int64, error) {
	n, err := e.records.Count(ctx, true)
	if err != nil {
		return 0, wrap(serrors.ErrCodeStoreRead, "failed to count entities", err)
	}
	return n, nil
}

// GetSuggestions returns up to max stored contents starting with prefix,
// case-insensitive. Results are cached until the next write.
func (e *HybridEngine[T]) GetSuggestions(ctx context.Context, prefix string, max int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || max <= 0 {
		return []string{}, nil
	}

	key := fmt.Sprintf("%d\x00%s", max, strings.ToLower(prefix))
	if e.suggestions != nil {
		if cached, ok := e.suggestions.Get(key); ok {
			return cached, nil
		}
	}

	out, err := e.records.Suggest(ctx, prefix, max)
	if err != nil {
		return nil, wrap(serrors.ErrCodeStoreRead, "failed to load suggestions", err)
	}
	if e.suggestions != nil {
		e.suggestions.Add(key, out)
	}
	return out, nil
}

func (e *HybridEngine[T]) invalidateSuggestions() {
	if e.suggestions != nil {
		e.suggestions.Purge()
	}
}

// =============================================================================
// Maintenance
// =============================================================================

// OptimizeIndex runs relational maintenance and merges index segments
// concurrently. Concurrent calls share one run.
func (e *HybridEngine[T]) OptimizeIndex(ctx context.Context) error {
	_, err, _ := e.optimizer.Do("optimize", func() (any, error) {
		return nil, e.optimize(ctx)
	})
	return err
}

// optimize runs to completion once started; ctx only guards the start.
func (e *HybridEngine[T]) optimize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := e.now()
	e.logger.Info("optimize_started")

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		return wrap(serrors.ErrCodeStoreWrite, "relational maintenance failed", e.records.Maintenance(gctx))
	})
	g.Go(func() error {
		return wrap(serrors.ErrCodeOptimizeFailed, "index optimization failed", e.index.Optimize(gctx))
	})
	if err := g.Wait(); err != nil {
		e.logger.Error("optimize_failed", slog.String("error", err.Error()))
		return err
	}

	d := e.now().Sub(start)
	e.optimized(d)
	e.logger.Info("optimize_completed", slog.Duration("duration", d))
	return nil
}

func (e *HybridEngine[T]) optimizeInBackground(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if err := e.OptimizeIndex(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("auto_optimize_failed", slog.String("error", err.Error()))
		}
	}()
}

// ClearIndex removes every entity from both stores.
func (e *HybridEngine[T]) ClearIndex(ctx context.Context) error {
	if err := e.records.Truncate(ctx); err != nil {
		return wrap(serrors.ErrCodeStoreWrite, "failed to truncate records", err)
	}
	if err := e.index.Clear(ctx); err != nil {
		return wrap(serrors.ErrCodeIndexFailed, "failed to clear index", err)
	}
	e.invalidateSuggestions()
	e.sinceOptimize.Store(0)
	e.touch()
	e.logger.Info("index_cleared")
	return nil
}

// Reindex rebuilds the index from the relational store and returns the number
// of documents written.
func (e *HybridEngine[T]) Reindex(ctx context.Context) (int, error) {
	if err := e.index.Clear(ctx); err != nil {
		return 0, wrap(serrors.ErrCodeIndexFailed, "failed to clear index", err)
	}

	total := 0
	after := ""
	for {
		page, err := e.records.List(ctx, after, reindexPageSize)
		if err != nil {
			return total, wrap(serrors.ErrCodeStoreRead, "failed to list records", err)
		}
		if len(page) == 0 {
			break
		}

		docs := make([]store.Document, len(page))
		for i, rec := range page {
			docs[i] = documentFromRecord(rec)
			docs[i].Payload = nil
		}
		if err := e.index.UpsertBatch(ctx, docs); err != nil {
			return total, wrap(serrors.ErrCodeIndexFailed, "failed to index documents", err)
		}

		total += len(page)
		after = page[len(page)-1].ID
		e.logger.Debug("reindex_progress", slog.Int("documents", total))
	}

	e.invalidateSuggestions()
	e.touch()
	e.logger.Info("reindex_completed", slog.Int("documents", total))
	return total, nil
}

// CheckHealth returns the first failure of either store.
func (e *HybridEngine[T]) CheckHealth(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wrap(serrors.ErrCodeStoreUnavailable, "relational store unavailable", e.records.Ping(gctx))
	})
	g.Go(func() error {
		return wrap(serrors.ErrCodeIndexIO, "index unavailable", e.index.HealthCheck(gctx))
	})
	return g.Wait()
}

// IsHealthy reports whether both stores are usable.
func (e *HybridEngine[T]) IsHealthy(ctx context.Context) bool {
	return e.CheckHealth(ctx) == nil
}

// IndexStats returns a snapshot of both stores.
//
// Health is CORRUPTED when the index reports corruption, UNHEALTHY when
// either store fails, DEGRADED when the stores disagree on the document
// count, and HEALTHY otherwise.
func (e *HybridEngine[T]) IndexStats(ctx context.Context) (IndexStats, error) {
	var (
		ist     store.IndexStats
		rows    int64
		idxErr  error
		rowsErr error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ist, idxErr = e.index.Stats(ctx)
	}()
	go func() {
		defer wg.Done()
		rows, rowsErr = e.records.Count(ctx, false)
	}()
	wg.Wait()

	if idxErr != nil {
		st := IndexStats{EntityType: e.entityType, Health: HealthUnhealthy, RelationalDocuments: rows}
		if errors.Is(idxErr, store.ErrCorrupt) {
			st.Health = HealthCorrupted
		}
		return st, wrap(serrors.ErrCodeIndexIO, "failed to read index stats", idxErr)
	}

	st := indexStats(e.entityType, ist)
	st.RelationalDocuments = rows
	switch {
	case rowsErr != nil:
		st.Health = HealthUnhealthy
		st.RelationalDocuments = -1
	case uint64(rows) != ist.DocCount:
		st.Health = HealthDegraded
	}
	return st, nil
}

// Close waits for background optimization and closes both stores. No
// optimization starts once Close has begun.
func (e *HybridEngine[T]) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.background.Wait()
	return errors.Join(e.index.Close(), e.records.Close())
}
