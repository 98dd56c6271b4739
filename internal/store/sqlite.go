package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	serrors "github.com/h12/seekly/internal/errors"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// getManyChunk bounds the number of bound parameters per IN query.
const getManyChunk = 500

// SQLiteConfig configures the relational store and its connection pool.
type SQLiteConfig struct {
	// DSN is a database file path, a file: URI, or MemoryDSN.
	DSN string

	// EntityType selects the table: seekly_<entity type>_documents.
	EntityType string

	// MaxOpenConns bounds the pool (default: 20).
	MaxOpenConns int
	// MaxIdleConns bounds idle connections kept open (default: 5).
	MaxIdleConns int
	// ConnTimeout bounds the wait for a pooled connection (default: 30s).
	ConnTimeout time.Duration
	// IdleTimeout closes connections idle for longer (default: 10m).
	IdleTimeout time.Duration
	// MaxLifetime recycles connections older than this (default: 30m).
	MaxLifetime time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultSQLiteConfig returns the default pool settings for dsn.
func DefaultSQLiteConfig(dsn, entityType string) SQLiteConfig {
	return SQLiteConfig{
		DSN:          dsn,
		EntityType:   entityType,
		MaxOpenConns: 20,
		MaxIdleConns: 5,
		ConnTimeout:  30 * time.Second,
		IdleTimeout:  10 * time.Minute,
		MaxLifetime:  30 * time.Minute,
	}
}

// SQLiteStore is the relational adapter. It holds one row per entity id in
// seekly_<entity type>_documents.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	cfg    SQLiteConfig
	table  string
	logger *slog.Logger
	closed bool
}

// TableName returns the table used for entityType.
func TableName(entityType string) (string, error) {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(entityType)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("entity type is required")
	}
	return "seekly_" + sb.String() + "_documents", nil
}

// buildDSN appends the per-connection pragmas. Immediate transactions take
// the write lock up front so concurrent batch upserts wait on busy_timeout
// instead of failing on lock upgrade.
func buildDSN(dsn string) string {
	params := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
		"_txlock=immediate",
	}
	if dsn != MemoryDSN {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// NewSQLiteStore opens the database, applies pool bounds and creates the
// entity table if needed.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	def := DefaultSQLiteConfig(cfg.DSN, cfg.EntityType)
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.MaxIdleConns < 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = def.ConnTimeout
	}
	if cfg.DSN == "" {
		return nil, serrors.ConfigError("database dsn is required", nil)
	}

	table, err := TableName(cfg.EntityType)
	if err != nil {
		return nil, serrors.ConfigError("invalid entity type", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.DSN == MemoryDSN {
		// Every connection to :memory: is a separate database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.IdleTimeout = 0
		cfg.MaxLifetime = 0
	} else if !strings.HasPrefix(cfg.DSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
			return nil, serrors.New(serrors.ErrCodeStoreUnavailable, "failed to create database directory", err)
		}
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}

	db, err := sql.Open("sqlite", buildDSN(cfg.DSN))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreUnavailable, "failed to open database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	s := &SQLiteStore{
		db:     db,
		cfg:    cfg,
		table:  table,
		logger: logger,
	}

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.checkIntegrity(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) checkIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return serrors.New(serrors.ErrCodeStoreRead, "integrity check failed", err)
	}
	if result != "ok" {
		return serrors.New(serrors.ErrCodeStoreRead, "database corrupted", errors.New(result)).
			WithDetail("dsn", s.cfg.DSN)
	}
	return nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		searchable_content TEXT NOT NULL,
		searchable_fields TEXT NOT NULL DEFAULT '{}',
		relevance_score REAL NOT NULL DEFAULT 1.0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		entity_data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_active ON %[1]s(active);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_updated_at ON %[1]s(updated_at);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_content ON %[1]s(searchable_content COLLATE NOCASE);
	`, s.table)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return serrors.New(serrors.ErrCodeStoreWrite, "failed to initialize schema", err).
			WithDetail("table", s.table)
	}
	return nil
}

// Table returns the backing table name.
func (s *SQLiteStore) Table() string {
	return s.table
}

// conn acquires a pooled connection, waiting at most ConnTimeout.
func (s *SQLiteStore) conn(ctx context.Context) (*sql.Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnTimeout)
	defer cancel()

	c, err := s.db.Conn(acquireCtx)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreUnavailable, "failed to acquire database connection", err).
			WithDetail("timeout", s.cfg.ConnTimeout.String())
	}
	return c, nil
}

const recordColumns = `id, entity_type, searchable_content, searchable_fields, relevance_score, created_at, updated_at, active, entity_data`

func (s *SQLiteStore) upsertSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			searchable_content = excluded.searchable_content,
			searchable_fields = excluded.searchable_fields,
			relevance_score = excluded.relevance_score,
			updated_at = excluded.updated_at,
			active = excluded.active,
			entity_data = excluded.entity_data
		RETURNING created_at
	`, s.table, recordColumns)
}

func recordArgs(rec Record) ([]any, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("record id is required")
	}
	fields, err := json.Marshal(rec.SearchableFields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode searchable fields of %s: %w", rec.ID, err)
	}
	payload := rec.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	return []any{
		rec.ID,
		rec.EntityType,
		rec.SearchableContent,
		string(fields),
		rec.RelevanceScore,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		boolToInt(rec.Active),
		string(payload),
	}, nil
}

// Upsert inserts rec or updates every mutable column of the existing row.
// created_at keeps its first value.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	args, err := recordArgs(rec)
	if err != nil {
		return serrors.New(serrors.ErrCodeInvalidEntity, "invalid record", err)
	}

	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	var created string
	if err := c.QueryRowContext(ctx, s.upsertSQL(), args...).Scan(&created); err != nil {
		return serrors.New(serrors.ErrCodeStoreWrite, "failed to upsert record", err).
			WithDetail("id", rec.ID)
	}
	return nil
}

// UpsertBatch upserts recs in one transaction and writes the stored
// created_at back into each record.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return serrors.New(serrors.ErrCodeStoreWrite, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL())
	if err != nil {
		return serrors.New(serrors.ErrCodeStoreWrite, "failed to prepare upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	created := make([]string, len(recs))
	for i, rec := range recs {
		args, err := recordArgs(rec)
		if err != nil {
			return serrors.New(serrors.ErrCodeInvalidEntity, "invalid record", err)
		}
		if err := stmt.QueryRowContext(ctx, args...).Scan(&created[i]); err != nil {
			return serrors.New(serrors.ErrCodeStoreWrite, "failed to upsert record", err).
				WithDetail("id", rec.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return serrors.New(serrors.ErrCodeStoreWrite, "failed to commit batch", err).
			WithDetail("size", fmt.Sprint(len(recs)))
	}
	for i := range recs {
		recs[i].CreatedAt = parseTime(created[i])
	}
	return nil
}

// Delete removes the row for id. Absent ids are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table)
	if _, err := c.ExecContext(ctx, query, id); err != nil {
		return serrors.New(serrors.ErrCodeStoreWrite, "failed to delete record", err).
			WithDetail("id", id)
	}
	return nil
}

// Get returns the active record for id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = c.Close() }()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? AND active = 1", recordColumns, s.table)
	rec, err := scanRecord(c.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, serrors.New(serrors.ErrCodeStoreRead, "failed to read record", err).
			WithDetail("id", id)
	}
	return rec, nil
}

// GetMany returns the active records among ids. Missing or inactive ids are
// absent from the map.
func (s *SQLiteStore) GetMany(ctx context.Context, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	for start := 0; start < len(ids); start += getManyChunk {
		end := min(start+getManyChunk, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := fmt.Sprintf("SELECT %s FROM %s WHERE active = 1 AND id IN (%s)", recordColumns, s.table, placeholders)

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		if err := s.collect(ctx, c, query, args, func(rec Record) { out[rec.ID] = rec }); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// List returns up to limit records with id greater than afterID, ordered by
// id, including inactive ones. It pages through the table for index rebuilds.
func (s *SQLiteStore) List(ctx context.Context, afterID string, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id > ? ORDER BY id LIMIT ?", recordColumns, s.table)
	out := make([]Record, 0, limit)
	err = s.collect(ctx, c, query, []any{afterID, limit}, func(rec Record) { out = append(out, rec) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) collect(ctx context.Context, c *sql.Conn, query string, args []any, fn func(Record)) error {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return serrors.New(serrors.ErrCodeStoreRead, "failed to query records", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return serrors.New(serrors.ErrCodeStoreRead, "failed to scan record", err)
		}
		fn(rec)
	}
	if err := rows.Err(); err != nil {
		return serrors.New(serrors.ErrCodeStoreRead, "failed to iterate records", err)
	}
	return nil
}

// Count returns the number of rows, optionally only active ones.
func (s *SQLiteStore) Count(ctx context.Context, activeOnly bool) (int64, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Close() }()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)
	if activeOnly {
		query += " WHERE active = 1"
	}

	var n int64
	if err := c.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, serrors.New(serrors.ErrCodeStoreRead, "failed to count records", err)
	}
	return n, nil
}

// Truncate removes every row.
func (s *SQLiteStore) Truncate(ctx context.Context) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if _, err := c.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return serrors.New(serrors.ErrCodeStoreWrite, "failed to truncate table", err).
			WithDetail("table", s.table)
	}
	return nil
}

// escapeLike escapes LIKE wildcards so the prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Suggest returns distinct active contents starting with prefix. SQLite's
// LIKE is case-insensitive for ASCII.
func (s *SQLiteStore) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	out := []string{}
	if limit <= 0 || strings.TrimSpace(prefix) == "" {
		return out, nil
	}

	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	query := fmt.Sprintf(`
		SELECT DISTINCT searchable_content FROM %s
		WHERE active = 1 AND searchable_content LIKE ? ESCAPE '\'
		ORDER BY searchable_content
		LIMIT ?`, s.table)

	rows, err := c.QueryContext(ctx, query, escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreRead, "failed to query suggestions", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, serrors.New(serrors.ErrCodeStoreRead, "failed to scan suggestion", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreRead, "failed to iterate suggestions", err)
	}
	return out, nil
}

// Maintenance rebuilds the database file, refreshes planner statistics and
// truncates the WAL.
func (s *SQLiteStore) Maintenance(ctx context.Context) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	for _, stmt := range []string{"VACUUM", "ANALYZE", "PRAGMA wal_checkpoint(TRUNCATE)"} {
		if _, err := c.ExecContext(ctx, stmt); err != nil {
			return serrors.New(serrors.ErrCodeStoreWrite, "maintenance failed", err).
				WithDetail("statement", stmt)
		}
	}
	return nil
}

// Ping checks that a connection can be acquired and used.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.PingContext(ctx); err != nil {
		return serrors.New(serrors.ErrCodeStoreUnavailable, "database ping failed", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the pool. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.cfg.DSN != MemoryDSN {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec                  Record
		fields, payload      string
		createdAt, updatedAt string
		active               int
	)
	err := row.Scan(&rec.ID, &rec.EntityType, &rec.SearchableContent, &fields,
		&rec.RelevanceScore, &createdAt, &updatedAt, &active, &payload)
	if err != nil {
		return Record{}, err
	}

	if fields != "" {
		if err := json.Unmarshal([]byte(fields), &rec.SearchableFields); err != nil {
			return Record{}, fmt.Errorf("failed to decode searchable fields of %s: %w", rec.ID, err)
		}
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Active = active != 0
	rec.Payload = []byte(payload)
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
