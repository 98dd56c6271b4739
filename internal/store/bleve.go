package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	"github.com/blevesearch/bleve/v2/mapping"
	bq "github.com/blevesearch/bleve/v2/search/query"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/pkg/entity"
)

// IndexConfig configures a BleveIndex.
type IndexConfig struct {
	// Path is the index directory. Empty means an in-memory index.
	Path string

	// Logger receives adapter warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// BleveIndex is the inverted-index adapter backed by bleve.
//
// Writers are serialized by writeMu and commit once per call. Readers never
// take writeMu, so searches run concurrently with in-flight writes and see the
// snapshot that was current when they started.
type BleveIndex struct {
	mu      sync.RWMutex // guards index and closed
	writeMu sync.Mutex
	index   bleve.Index
	mapping *mapping.IndexMappingImpl
	path    string
	lock    *IndexLock
	logger  *slog.Logger
	closed  bool

	lastCommit    atomic.Int64 // unix nanos
	lastOptimized atomic.Int64 // unix nanos
	dirty         atomic.Uint64
	deletes       atomic.Uint64
	commits       atomic.Uint64
}

// validateIndexIntegrity checks an existing index directory before opening.
// A missing directory is valid; it will be created.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveIndex opens or creates the index described by cfg.
//
// An on-disk index is locked for the lifetime of the adapter. A corrupted
// index is reported, never repaired: the relational store is the source of
// truth, and rebuilding from it is the caller's decision.
func NewBleveIndex(cfg IndexConfig) (*BleveIndex, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := newIndexMapping()

	b := &BleveIndex{
		mapping: m,
		path:    cfg.Path,
		logger:  logger,
	}

	if cfg.Path == "" {
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		b.index = idx
		return b, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, serrors.New(serrors.ErrCodeIndexIO, "failed to create index parent directory", err)
	}

	lock, err := LockIndex(cfg.Path)
	if err != nil {
		return nil, err
	}

	idx, err := openOrCreate(cfg.Path, m)
	if err != nil {
		_ = lock.Release()
		logger.Error("index_open_failed",
			slog.String("path", cfg.Path),
			slog.String("error", err.Error()))
		return nil, err
	}

	b.index = idx
	b.lock = lock
	return b, nil
}

func openOrCreate(path string, m mapping.IndexMapping) (bleve.Index, error) {
	if err := validateIndexIntegrity(path); err != nil {
		return nil, corruptError(path, err)
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, m)
		if err != nil {
			return nil, serrors.New(serrors.ErrCodeIndexIO, "failed to create index", err).
				WithDetail("path", path)
		}
		return idx, nil
	}
	if err != nil {
		return nil, corruptError(path, err)
	}
	return idx, nil
}

func corruptError(path string, cause error) error {
	return serrors.New(serrors.ErrCodeCorruptIndex, "index cannot be opened", fmt.Errorf("%w: %v", ErrCorrupt, cause)).
		WithDetail("path", path).
		WithSuggestion("remove the index directory and run 'seekly reindex' to rebuild it from the database")
}

// newIndexMapping declares the engine-owned fields. Searchable fields are
// mapped dynamically as analyzed, unstored text.
func newIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name
	im.StoreDynamic = false
	im.DocValuesDynamic = false

	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = false

	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = false

	relevance := bleve.NewNumericFieldMapping()
	relevance.Store = true

	timestamp := bleve.NewNumericFieldMapping()
	timestamp.Store = false

	active := bleve.NewBooleanFieldMapping()
	active.Store = false

	payload := bleve.NewTextFieldMapping()
	payload.Index = false
	payload.Store = true
	payload.IncludeInAll = false
	payload.IncludeTermVectors = false
	payload.DocValues = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(entity.FieldID, keyword)
	doc.AddFieldMappingsAt(entity.FieldType, keyword)
	doc.AddFieldMappingsAt(entity.FieldContent, content)
	doc.AddFieldMappingsAt(entity.FieldRelevance, relevance)
	doc.AddFieldMappingsAt(entity.FieldCreatedAt, timestamp)
	doc.AddFieldMappingsAt(entity.FieldUpdatedAt, timestamp)
	doc.AddFieldMappingsAt(entity.FieldActive, active)
	doc.AddFieldMappingsAt(entity.FieldPayload, payload)

	im.DefaultMapping = doc
	return im
}

// toBleveDoc flattens a Document. Searchable fields that collide with an
// engine-owned field are skipped.
func (b *BleveIndex) toBleveDoc(doc Document) map[string]interface{} {
	out := map[string]interface{}{
		entity.FieldID:        doc.ID,
		entity.FieldType:      doc.EntityType,
		entity.FieldContent:   doc.Content,
		entity.FieldRelevance: doc.RelevanceScore,
		entity.FieldCreatedAt: float64(doc.CreatedAt.UnixMilli()),
		entity.FieldUpdatedAt: float64(doc.UpdatedAt.UnixMilli()),
		entity.FieldActive:    doc.Active,
	}
	for _, f := range doc.Fields {
		if entity.IsReserved(f.Name) {
			b.logger.Warn("index_field_reserved",
				slog.String("id", doc.ID),
				slog.String("field", f.Name))
			continue
		}
		out[f.Name] = f.Value
	}
	if len(doc.Payload) > 0 {
		out[entity.FieldPayload] = string(doc.Payload)
	}
	return out
}

// Upsert adds or replaces one document.
func (b *BleveIndex) Upsert(ctx context.Context, doc Document) error {
	return b.UpsertBatch(ctx, []Document{doc})
}

// UpsertBatch adds or replaces documents under one commit. Re-indexing an id
// replaces its previous document atomically.
func (b *BleveIndex) UpsertBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("failed to index document: empty id")
		}
		if err := batch.Index(doc.ID, b.toBleveDoc(doc)); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to commit batch of %d documents: %w", len(docs), err)
	}
	b.committed(len(docs), 0)
	return nil
}

// Delete removes one document. Absent ids are ignored.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.DeleteBatch(ctx, []string{id})
}

// DeleteBatch removes documents under one commit.
func (b *BleveIndex) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete %d documents: %w", len(ids), err)
	}
	b.committed(0, len(ids))
	return nil
}

func (b *BleveIndex) committed(upserts, deletes int) {
	b.lastCommit.Store(time.Now().UnixNano())
	b.commits.Add(1)
	b.dirty.Add(uint64(upserts + deletes))
	b.deletes.Add(uint64(deletes))
}

// RescoreWindow bounds how many matches Search rescores by relevance before
// cutting the page. Matches beyond it are never returned.
const RescoreWindow = 10000

// Search executes q and returns up to maxResults hits ranked by score. The
// stored relevance score of each document multiplies its native score, and
// the ranking covers every match up to RescoreWindow, so a document boosted
// past the requested page is still found. A relevance of zero or below leaves
// the native score unchanged. Equal scores are ordered by id.
func (b *BleveIndex) Search(ctx context.Context, q bq.Query, maxResults int) ([]Hit, uint64, error) {
	if maxResults < 0 {
		maxResults = 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, 0, ErrClosed
	}

	res, err := b.search(ctx, q, maxResults)
	if err != nil {
		return nil, 0, err
	}
	if maxResults > 0 && res.Total > uint64(len(res.Hits)) && maxResults < RescoreWindow {
		res, err = b.search(ctx, q, int(min(res.Total, RescoreWindow)))
		if err != nil {
			return nil, 0, err
		}
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if r, ok := h.Fields[entity.FieldRelevance].(float64); ok && r > 0 {
			hit.Score *= r
		}
		if p, ok := h.Fields[entity.FieldPayload].(string); ok {
			hit.Payload = []byte(p)
		}
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	return hits, res.Total, nil
}

func (b *BleveIndex) search(ctx context.Context, q bq.Query, size int) (*bleve.SearchResult, error) {
	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.Fields = []string{entity.FieldRelevance, entity.FieldPayload}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return res, nil
}

// forceMerger is implemented by the scorch index.
type forceMerger interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

// Optimize merges all segments into one. In-memory indexes have nothing to
// merge and only reset the optimization bookkeeping.
func (b *BleveIndex) Optimize(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	adv, err := b.index.Advanced()
	if err != nil {
		return fmt.Errorf("failed to access index internals: %w", err)
	}
	if fm, ok := adv.(forceMerger); ok {
		opts := singleSegmentPlan()
		if err := fm.ForceMerge(ctx, &opts); err != nil {
			return fmt.Errorf("failed to force merge: %w", err)
		}
	}

	b.lastOptimized.Store(time.Now().UnixNano())
	b.dirty.Store(0)
	b.deletes.Store(0)
	return nil
}

// singleSegmentPlan merges every segment in one task. MaxSegmentSize must
// stay within mergeplan.MaxSegmentSizeLimit or scorch rejects the plan.
func singleSegmentPlan() mergeplan.MergePlanOptions {
	opts := mergeplan.SingleSegmentMergePlanOptions
	opts.SegmentsPerMergeTask = 1 << 10
	return opts
}

// HealthCheck verifies the document count can be read.
func (b *BleveIndex) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.Count(ctx)
	return err
}

// Count returns the number of live documents.
func (b *BleveIndex) Count(_ context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}

	n, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Stats returns a snapshot of the index.
func (b *BleveIndex) Stats(ctx context.Context) (IndexStats, error) {
	count, err := b.Count(ctx)
	if err != nil {
		return IndexStats{}, err
	}

	b.mu.RLock()
	raw := b.index.StatsMap()
	b.mu.RUnlock()

	st := IndexStats{
		DocCount:         count,
		DeletedSince:     b.deletes.Load(),
		Commits:          b.commits.Load(),
		LastCommit:       unixNanos(b.lastCommit.Load()),
		LastOptimization: unixNanos(b.lastOptimized.Load()),
	}
	st.Segments, st.SizeBytes = segmentStats(raw, count)
	st.Optimized = b.dirty.Load() == 0 && (!st.LastOptimization.IsZero() || count == 0)
	return st, nil
}

// segmentStats reads segment and size figures from the scorch stats map.
// Indexes that do not report them count as a single segment.
func segmentStats(raw map[string]interface{}, docs uint64) (int, uint64) {
	var segments, size uint64
	var found bool

	if inner, ok := raw["index"].(map[string]interface{}); ok {
		for _, key := range []string{"TotFileSegmentsAtRoot", "TotMemorySegmentsAtRoot", "num_root_filesegments", "num_root_memorysegments"} {
			if v, ok := toUint64(inner[key]); ok {
				segments += v
				found = true
			}
		}
		for _, key := range []string{"CurOnDiskBytes", "num_bytes_used_disk"} {
			if v, ok := toUint64(inner[key]); ok {
				size = v
				break
			}
		}
	}

	if !found {
		if docs > 0 {
			return 1, size
		}
		return 0, size
	}
	return int(segments), size
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case float64:
		return uint64(n), n >= 0
	}
	return 0, false
}

func unixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Clear removes every document by recreating the index.
func (b *BleveIndex) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if err := b.index.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}

	var (
		idx bleve.Index
		err error
	)
	if b.path == "" {
		idx, err = bleve.NewMemOnly(b.mapping)
	} else {
		if err := os.RemoveAll(b.path); err != nil {
			return b.abandon(fmt.Errorf("failed to remove index directory: %w", err))
		}
		idx, err = bleve.New(b.path, b.mapping)
	}
	if err != nil {
		return b.abandon(fmt.Errorf("failed to recreate index: %w", err))
	}

	b.index = idx
	b.lastCommit.Store(time.Now().UnixNano())
	b.dirty.Store(0)
	b.deletes.Store(0)
	return nil
}

// abandon marks the adapter closed after its index was lost. Callers hold mu.
func (b *BleveIndex) abandon(err error) error {
	b.closed = true
	b.index = nil
	_ = b.lock.Release()
	return err
}

// Close closes the index and releases the directory lock.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if b.index != nil {
		errs = append(errs, b.index.Close())
	}
	errs = append(errs, b.lock.Release())
	return errors.Join(errs...)
}
