package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blevesearch/bleve/v2"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/internal/store"
	"github.com/h12/seekly/pkg/entity"
)

// FileEngine serves one entity type from the index alone. The serialized
// entity is stored in the index document and returned with each hit, so
// there is no hydration step and no hydration miss.
type FileEngine[T entity.Entity] struct {
	*core
	index store.Index
}

// NewFileEngine creates an index-only engine for entityType.
func NewFileEngine[T entity.Entity](entityType string, index store.Index, opts ...Option) (*FileEngine[T], error) {
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrNilDependency)
	}
	c, err := newCore(entityType, newSettings(opts))
	if err != nil {
		return nil, err
	}
	return &FileEngine[T]{core: c, index: index}, nil
}

// Index adds or replaces one entity.
func (e *FileEngine[T]) Index(ctx context.Context, ent T) error {
	return e.write(ctx, []T{ent}, false)
}

// IndexBatch adds or replaces entities under one commit.
func (e *FileEngine[T]) IndexBatch(ctx context.Context, ents []T) error {
	return e.write(ctx, ents, false)
}

// Update replaces an entity.
func (e *FileEngine[T]) Update(ctx context.Context, ent T) error {
	return e.write(ctx, []T{ent}, true)
}

func (e *FileEngine[T]) write(ctx context.Context, ents []T, update bool) error {
	if len(ents) == 0 {
		return nil
	}
	start := e.now()

	projected, err := projectAll(e.core, ents, true)
	if err != nil {
		return err
	}
	docs := make([]store.Document, len(projected))
	for i, p := range projected {
		docs[i] = p.doc
	}

	if err := e.index.UpsertBatch(ctx, docs); err != nil {
		e.logger.Error("index_upsert_failed",
			slog.Int("count", len(docs)),
			slog.String("error", err.Error()))
		return wrap(serrors.ErrCodeIndexFailed, "failed to index documents", err)
	}
	if e.wrote(len(ents), update, e.now().Sub(start)) {
		if err := e.OptimizeIndex(ctx); err != nil {
			e.logger.Warn("auto_optimize_failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Remove deletes an entity. Unknown ids succeed.
func (e *FileEngine[T]) Remove(ctx context.Context, id string) error {
	start := e.now()
	if err := e.index.Delete(ctx, id); err != nil {
		return wrap(serrors.ErrCodeIndexFailed, "failed to delete document", err)
	}
	e.removed(1, e.now().Sub(start))
	return nil
}

// Search runs text against the index and decodes the stored payloads.
func (e *FileEngine[T]) Search(ctx context.Context, text string, filters query.Filters, opts query.Options) SearchResponse[T] {
	return execute(ctx, e.core, e.index, text, filters, opts, e.hydrate)
}

func (e *FileEngine[T]) hydrate(_ context.Context, hits []store.Hit) ([]SearchResult[T], int, error) {
	results := make([]SearchResult[T], 0, len(hits))
	dropped := 0
	for _, h := range hits {
		if len(h.Payload) == 0 {
			dropped++
			continue
		}
		ent, err := decode[T](h.Payload)
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

// Get returns the active entity indexed under id.
func (e *FileEngine[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T

	byID := bleve.NewTermQuery(id)
	byID.SetField(entity.FieldID)
	active := bleve.NewBoolFieldQuery(true)
	active.SetField(entity.FieldActive)

	hits, _, err := e.index.Search(ctx, bleve.NewConjunctionQuery(byID, active), 1)
	if err != nil {
		return zero, wrap(serrors.ErrCodeSearchFailed, "failed to look up entity", err)
	}
	if len(hits) == 0 || len(hits[0].Payload) == 0 {
		return zero, serrors.New(serrors.ErrCodeNotFound, "entity not found", store.ErrNotFound).
			WithDetail("id", id)
	}
	ent, err := decode[T](hits[0].Payload)
	if err != nil {
		return zero, serrors.New(serrors.ErrCodeSerialization, "failed to decode entity", err).
			WithDetail("id", id)
	}
	return ent, nil
}

// Count returns the number of indexed documents, inactive ones included.
func (e *FileEngine[T]) Count(ctx context.Context) (int64, error) {
	n, err := e.index.Count(ctx)
	if err != nil {
		return 0, wrap(serrors.ErrCodeIndexIO, "failed to count documents", err)
	}
	return int64(n), nil
}

// OptimizeIndex merges the index segments.
func (e *FileEngine[T]) OptimizeIndex(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := e.now()
	if err := e.index.Optimize(context.WithoutCancel(ctx)); err != nil {
		return wrap(serrors.ErrCodeOptimizeFailed, "index optimization failed", err)
	}
	e.optimized(e.now().Sub(start))
	return nil
}

// ClearIndex removes every document.
func (e *FileEngine[T]) ClearIndex(ctx context.Context) error {
	if err := e.index.Clear(ctx); err != nil {
		return wrap(serrors.ErrCodeIndexFailed, "failed to clear index", err)
	}
	e.sinceOptimize.Store(0)
	e.touch()
	return nil
}

// suggestionScan is how many prefix hits GetSuggestions inspects per
// requested suggestion.
const suggestionScan = 10

// GetSuggestions returns up to max active contents starting with prefix,
// case-insensitive. Candidates come from a term-prefix query on the content
// field and are decoded from their stored payloads.
func (e *FileEngine[T]) GetSuggestions(ctx context.Context, prefix string, max int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || max <= 0 {
		return []string{}, nil
	}
	lower := strings.ToLower(prefix)

	// Only the first token is a usable prefix for the analyzed field.
	first := strings.Fields(lower)[0]
	byPrefix := bleve.NewPrefixQuery(first)
	byPrefix.SetField(entity.FieldContent)
	active := bleve.NewBoolFieldQuery(true)
	active.SetField(entity.FieldActive)

	hits, _, err := e.index.Search(ctx, bleve.NewConjunctionQuery(byPrefix, active), max*suggestionScan)
	if err != nil {
		return nil, wrap(serrors.ErrCodeSearchFailed, "failed to load suggestions", err)
	}

	out := []string{}
	seen := make(map[string]bool)
	for _, h := range hits {
		if len(h.Payload) == 0 {
			continue
		}
		ent, err := decode[T](h.Payload)
		if err != nil {
			continue
		}
		content := ent.SearchAttributes().Content
		if seen[content] || !strings.HasPrefix(strings.ToLower(content), lower) {
			continue
		}
		seen[content] = true
		out = append(out, content)
		if len(out) == max {
			break
		}
	}
	return out, nil
}

// CheckHealth returns the index health check failure, if any.
func (e *FileEngine[T]) CheckHealth(ctx context.Context) error {
	return wrap(serrors.ErrCodeIndexIO, "index unavailable", e.index.HealthCheck(ctx))
}

// IsHealthy reports whether the index can be read.
func (e *FileEngine[T]) IsHealthy(ctx context.Context) bool {
	return e.CheckHealth(ctx) == nil
}

// IndexStats returns a snapshot of the index.
func (e *FileEngine[T]) IndexStats(ctx context.Context) (IndexStats, error) {
	ist, err := e.index.Stats(ctx)
	if err != nil {
		st := IndexStats{EntityType: e.entityType, Health: HealthUnhealthy, RelationalDocuments: -1}
		if errors.Is(err, store.ErrCorrupt) {
			st.Health = HealthCorrupted
		}
		return st, wrap(serrors.ErrCodeIndexIO, "failed to read index stats", err)
	}
	return indexStats(e.entityType, ist), nil
}

// Close closes the index.
func (e *FileEngine[T]) Close() error {
	return e.index.Close()
}
