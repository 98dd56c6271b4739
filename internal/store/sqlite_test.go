package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/pkg/entity"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	cfg := DefaultSQLiteConfig(filepath.Join(t.TempDir(), "seekly.db"), "product")
	s, err := NewSQLiteStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(id, content string) Record {
	now := time.Now().UTC()
	return Record{
		ID:                id,
		EntityType:        "product",
		SearchableContent: content,
		SearchableFields:  entity.Fields{{Name: "category", Value: "Electronics"}},
		RelevanceScore:    1.0,
		CreatedAt:         now,
		UpdatedAt:         now,
		Active:            true,
		Payload:           []byte(fmt.Sprintf(`{"id":%q}`, id)),
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"product", "seekly_product_documents", false},
		{"Order-Line", "seekly_order_line_documents", false},
		{"a; DROP TABLE x", "seekly_a__drop_table_x_documents", false},
		{"  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := TableName(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t,
		"/tmp/a.db?_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_pragma=journal_mode(WAL)",
		buildDSN("/tmp/a.db"))
	assert.NotContains(t, buildDSN(MemoryDSN), "journal_mode")
	assert.Contains(t, buildDSN("file:a.db?mode=rwc"), "mode=rwc&_pragma=")
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	// Given: a fresh store
	s := newTestSQLite(t)
	ctx := context.Background()

	// When: a record is upserted
	rec := testRecord("p1", "Apple iPhone 15 Pro")
	require.NoError(t, s.Upsert(ctx, rec))

	// Then: it reads back intact
	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Apple iPhone 15 Pro", got.SearchableContent)
	assert.Equal(t, rec.SearchableFields, got.SearchableFields)
	assert.JSONEq(t, `{"id":"p1"}`, string(got.Payload))
	assert.True(t, got.Active)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Microsecond)
}

func TestSQLiteStore_UpsertPreservesCreatedAt(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first := testRecord("p1", "old content")
	first.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, first))

	second := testRecord("p1", "new content")
	second.CreatedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, second))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "new content", got.SearchableContent)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	n, err := s.Count(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_UpsertBatchReportsStoredCreatedAt(t *testing.T) {
	// Given: a stored record created on 2024-01-01
	s := newTestSQLite(t)
	ctx := context.Background()
	original := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := testRecord("p1", "old content")
	first.CreatedAt = original
	require.NoError(t, s.Upsert(ctx, first))

	// When: a batch replaces it with a newer creation time and adds a record
	replaced := testRecord("p1", "new content")
	replaced.CreatedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fresh := testRecord("p2", "fresh content")
	fresh.CreatedAt = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	batch := []Record{replaced, fresh}
	require.NoError(t, s.UpsertBatch(ctx, batch))

	// Then: the batch carries the stored values back
	assert.True(t, original.Equal(batch[0].CreatedAt), "got %s", batch[0].CreatedAt)
	assert.True(t, fresh.CreatedAt.Equal(batch[1].CreatedAt), "got %s", batch[1].CreatedAt)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_InactiveRecordsAreHidden(t *testing.T) {
	// Given: one active and one inactive record
	s := newTestSQLite(t)
	ctx := context.Background()
	inactive := testRecord("p2", "Apple Watch")
	inactive.Active = false
	require.NoError(t, s.UpsertBatch(ctx, []Record{testRecord("p1", "Apple iPhone"), inactive}))

	// Then: reads and suggestions only see the active one
	_, err := s.Get(ctx, "p2")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetMany(ctx, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "p1")

	suggestions, err := s.Suggest(ctx, "apple", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Apple iPhone"}, suggestions)

	active, err := s.Count(ctx, true)
	require.NoError(t, err)
	all, err := s.Count(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
	assert.Equal(t, int64(2), all)
}

func TestSQLiteStore_GetManyChunks(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	recs := make([]Record, 0, getManyChunk+10)
	ids := make([]string, 0, getManyChunk+10)
	for i := range getManyChunk + 10 {
		id := fmt.Sprintf("p%04d", i)
		recs = append(recs, testRecord(id, "item"))
		ids = append(ids, id)
	}
	require.NoError(t, s.UpsertBatch(ctx, recs))

	got, err := s.GetMany(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, got, len(ids))

	empty, err := s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStore_ListPagesByID(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	inactive := testRecord("c", "inactive")
	inactive.Active = false
	require.NoError(t, s.UpsertBatch(ctx, []Record{
		testRecord("b", "x"), testRecord("a", "x"), inactive, testRecord("d", "x"),
	}))

	page, err := s.List(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, err = s.List(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.False(t, page[0].Active)
	assert.Equal(t, "d", page[1].ID)
}

func TestSQLiteStore_SuggestPrefix(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []Record{
		testRecord("p1", "Apple iPhone"),
		testRecord("p2", "apple MacBook"),
		testRecord("p3", "Apple iPhone"),
		testRecord("p4", "Pineapple slicer"),
		testRecord("p5", "100% cotton shirt"),
		testRecord("p6", "100 cotton shirts"),
	}))

	tests := []struct {
		name   string
		prefix string
		limit  int
		want   []string
	}{
		{"case insensitive and distinct", "APP", 10, []string{"Apple iPhone", "apple MacBook"}},
		{"limit", "app", 1, []string{"Apple iPhone"}},
		{"wildcards are literal", "100%", 10, []string{"100% cotton shirt"}},
		{"no match", "zzz", 10, []string{}},
		{"empty prefix", "", 10, []string{}},
		{"zero limit", "app", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Suggest(ctx, tt.prefix, tt.limit)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestSQLiteStore_DeleteAndTruncate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []Record{testRecord("p1", "a"), testRecord("p2", "b")}))
	require.NoError(t, s.Delete(ctx, "p1"))
	require.NoError(t, s.Delete(ctx, "p1"))

	n, err := s.Count(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Truncate(ctx))
	n, err = s.Count(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_UpsertRejectsEmptyID(t *testing.T) {
	s := newTestSQLite(t)

	err := s.UpsertBatch(context.Background(), []Record{testRecord("p1", "a"), testRecord("", "b")})
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeInvalidEntity, serrors.GetCode(err))

	// The whole batch rolled back.
	n, err := s.Count(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_ConcurrentBatches(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]Record, 0, 25)
			for i := range 25 {
				batch = append(batch, testRecord(fmt.Sprintf("w%d-%d", w, i), "concurrent"))
			}
			errs <- s.UpsertBatch(ctx, batch)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	n, err := s.Count(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(200), n)
}

func TestSQLiteStore_MemoryDSNUsesSingleConnection(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), DefaultSQLiteConfig(MemoryDSN, "product"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, 1, s.db.Stats().MaxOpenConnections)
	require.NoError(t, s.Upsert(context.Background(), testRecord("p1", "a")))
	_, err = s.Get(context.Background(), "p1")
	require.NoError(t, err)
}

func TestSQLiteStore_PoolSettings(t *testing.T) {
	s := newTestSQLite(t)
	assert.Equal(t, 20, s.db.Stats().MaxOpenConnections)
	assert.Equal(t, "seekly_product_documents", s.Table())
}

func TestSQLiteStore_MaintenanceAndPing(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testRecord("p1", "a")))
	require.NoError(t, s.Maintenance(ctx))
	require.NoError(t, s.Ping(ctx))
}

func TestSQLiteStore_ClosedOperationsFail(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.Upsert(context.Background(), testRecord("p1", "a")), ErrClosed)
}

func TestSQLiteStore_ReopenKeepsRows(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "seekly.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(ctx, DefaultSQLiteConfig(dsn, "product"))
	require.NoError(t, err)
	require.NoError(t, first.Upsert(ctx, testRecord("p1", "a")))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(ctx, DefaultSQLiteConfig(dsn, "product"))
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	_, err = second.Get(ctx, "p1")
	require.NoError(t, err)
}

func TestNewSQLiteStore_RejectsBadConfig(t *testing.T) {
	_, err := NewSQLiteStore(context.Background(), SQLiteConfig{EntityType: "product"})
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))

	_, err = NewSQLiteStore(context.Background(), SQLiteConfig{DSN: MemoryDSN})
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))
}
