// Package store provides the two storage adapters behind the search engine:
// a bleve inverted index for ranked text search and a SQLite relational store
// holding the authoritative entity payload.
package store

import (
	"context"
	"errors"
	"time"

	bq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/h12/seekly/pkg/entity"
)

// Sentinel errors shared by both adapters.
var (
	// ErrNotFound is returned when a record does not exist or is inactive.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned by operations on a closed adapter.
	ErrClosed = errors.New("store is closed")

	// ErrLocked is returned when another process holds the index directory.
	ErrLocked = errors.New("index is locked by another process")

	// ErrCorrupt is returned when an on-disk index cannot be opened.
	ErrCorrupt = errors.New("index is corrupted")
)

// Document is the index projection of an entity.
type Document struct {
	ID             string
	EntityType     string
	Content        string
	Fields         entity.Fields
	RelevanceScore float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Active         bool

	// Payload is stored, not indexed. Only set by the file-only engine.
	Payload []byte
}

// Record is the relational projection of an entity.
type Record struct {
	ID                string
	EntityType        string
	SearchableContent string
	SearchableFields  entity.Fields
	RelevanceScore    float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Active            bool

	// Payload is the full serialized entity (JSON).
	Payload []byte
}

// Hit is one ranked search result from the index.
type Hit struct {
	ID    string
	Score float64

	// Payload is the stored payload, when the document carries one.
	Payload []byte
}

// IndexStats is a point-in-time snapshot of the inverted index.
type IndexStats struct {
	DocCount         uint64
	DeletedSince     uint64 // deletes since the last optimization
	Commits          uint64 // commits since open
	Segments         int
	SizeBytes        uint64
	LastCommit       time.Time
	LastOptimization time.Time
	Optimized        bool
}

// Index is the inverted-index adapter contract.
type Index interface {
	// Upsert adds or replaces one document and commits.
	Upsert(ctx context.Context, doc Document) error

	// UpsertBatch adds or replaces documents under a single commit.
	UpsertBatch(ctx context.Context, docs []Document) error

	// Delete removes a document by id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// DeleteBatch removes documents under a single commit.
	DeleteBatch(ctx context.Context, ids []string) error

	// Search runs q against a point-in-time snapshot and returns up to
	// maxResults ranked hits plus the total hit count.
	Search(ctx context.Context, q bq.Query, maxResults int) ([]Hit, uint64, error)

	// Optimize merges all segments into one.
	Optimize(ctx context.Context) error

	// HealthCheck returns nil when the index can be read.
	HealthCheck(ctx context.Context) error

	// Count returns the number of indexed documents.
	Count(ctx context.Context) (uint64, error)

	// Stats returns a point-in-time snapshot.
	Stats(ctx context.Context) (IndexStats, error)

	// Clear removes every document.
	Clear(ctx context.Context) error

	// Close releases the index. Safe to call more than once.
	Close() error
}

// RecordStore is the relational adapter contract.
type RecordStore interface {
	// Upsert inserts or updates a record by id.
	Upsert(ctx context.Context, rec Record) error

	// UpsertBatch upserts records in a single transaction. Each record's
	// CreatedAt is set to the stored value, which an update keeps.
	UpsertBatch(ctx context.Context, recs []Record) error

	// Delete removes a record. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// Get returns an active record or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// GetMany returns the active records among ids, keyed by id.
	GetMany(ctx context.Context, ids []string) (map[string]Record, error)

	// List pages through all records, inactive included, ordered by id.
	List(ctx context.Context, afterID string, limit int) ([]Record, error)

	// Count returns the number of records, optionally only active ones.
	Count(ctx context.Context, activeOnly bool) (int64, error)

	// Truncate removes every record.
	Truncate(ctx context.Context) error

	// Suggest returns distinct contents starting with prefix, case-insensitive.
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)

	// Maintenance reclaims free pages and refreshes planner statistics.
	Maintenance(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}

// Verify interface implementations at compile time
var (
	_ Index       = (*BleveIndex)(nil)
	_ RecordStore = (*SQLiteStore)(nil)
)
