package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/internal/search"
	"github.com/h12/seekly/internal/store"
)

// Backend selects the engine variant.
const (
	BackendHybrid = "hybrid"
	BackendFile   = "file"
)

// Config represents the complete Seekly configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Index    IndexConfig    `yaml:"index" json:"index"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Engine   EngineConfig   `yaml:"engine" json:"engine"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// IndexConfig configures the inverted index.
type IndexConfig struct {
	// Path is the bleve index directory.
	Path string `yaml:"path" json:"path"`

	// EntityType is the single entity type served by the engine.
	EntityType string `yaml:"entity_type" json:"entity_type"`

	// Backend is "hybrid" (index plus SQLite, default) or "file" (index only).
	Backend string `yaml:"backend" json:"backend"`
}

// DatabaseConfig configures the relational store and its connection pool.
type DatabaseConfig struct {
	DSN          string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnTimeout  time.Duration `yaml:"conn_timeout" json:"conn_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxLifetime  time.Duration `yaml:"max_lifetime" json:"max_lifetime"`
}

// EngineConfig mirrors search.Config.
type EngineConfig struct {
	AutoOptimize           bool  `yaml:"auto_optimize" json:"auto_optimize"`
	AutoOptimizeThreshold  int64 `yaml:"auto_optimize_threshold" json:"auto_optimize_threshold"`
	EnableMetrics          bool  `yaml:"enable_metrics" json:"enable_metrics"`
	EnableQueryPerformance bool  `yaml:"enable_query_performance" json:"enable_query_performance"`
	SuggestionCacheSize    int   `yaml:"suggestion_cache_size" json:"suggestion_cache_size"`
}

// SearchConfig holds the default search options.
type SearchConfig struct {
	MaxResults       int     `yaml:"max_results" json:"max_results"`
	FuzzyDistance    int     `yaml:"fuzzy_distance" json:"fuzzy_distance"`
	ExactMatchBoost  float64 `yaml:"exact_match_boost" json:"exact_match_boost"`
	PhraseMatchBoost float64 `yaml:"phrase_match_boost" json:"phrase_match_boost"`
	PhraseMatching   bool    `yaml:"phrase_matching" json:"phrase_matching"`
	MaxSuggestions   int     `yaml:"max_suggestions" json:"max_suggestions"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`

	// RateLimit is the sustained search rate per second (0 disables).
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// MetricsConfig configures search metric retention.
type MetricsConfig struct {
	// Retention is how long tracked search metrics are kept (0 keeps all).
	Retention time.Duration `yaml:"retention" json:"retention"`

	// EvictionInterval is how often expired metrics are dropped.
	EvictionInterval time.Duration `yaml:"eviction_interval" json:"eviction_interval"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	dataDir := DefaultDataDir()
	db := store.DefaultSQLiteConfig(filepath.Join(dataDir, "seekly.db"), "document")
	eng := search.DefaultConfig()
	opts := query.DefaultOptions()

	return &Config{
		Version: 1,
		Index: IndexConfig{
			Path:       filepath.Join(dataDir, "index.bleve"),
			EntityType: "document",
			Backend:    BackendHybrid,
		},
		Database: DatabaseConfig{
			DSN:          db.DSN,
			MaxOpenConns: db.MaxOpenConns,
			MaxIdleConns: db.MaxIdleConns,
			ConnTimeout:  db.ConnTimeout,
			IdleTimeout:  db.IdleTimeout,
			MaxLifetime:  db.MaxLifetime,
		},
		Engine: EngineConfig{
			AutoOptimize:           eng.AutoOptimize,
			AutoOptimizeThreshold:  eng.AutoOptimizeThreshold,
			EnableMetrics:          eng.EnableMetrics,
			EnableQueryPerformance: eng.EnableQueryPerformance,
			SuggestionCacheSize:    eng.SuggestionCacheSize,
		},
		Search: SearchConfig{
			MaxResults:       opts.MaxResults,
			FuzzyDistance:    opts.FuzzyDistance,
			ExactMatchBoost:  opts.ExactMatchBoost,
			PhraseMatchBoost: opts.PhraseMatchBoost,
			PhraseMatching:   opts.PhraseMatching,
			MaxSuggestions:   opts.MaxSuggestions,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			RateLimit: 100,
			RateBurst: 200,
			LogLevel:  "info",
		},
		Metrics: MetricsConfig{
			Retention:        24 * time.Hour,
			EvictionInterval: 10 * time.Minute,
		},
	}
}

// DefaultDataDir returns ~/.seekly/data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".seekly", "data")
	}
	return filepath.Join(home, ".seekly", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/seekly/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/seekly/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "seekly", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "seekly", "config.yaml")
	}
	return filepath.Join(home, ".config", "seekly", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/seekly/config.yaml)
//  3. Project config (.seekly.yaml in dir)
//  4. Environment variables (SEEKLY_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, serrors.ConfigError("failed to load user config", err).
				WithDetail("path", path)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, serrors.ConfigError("failed to load project config", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, serrors.ConfigError("invalid environment override", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, serrors.ConfigError("invalid configuration", err).
			WithSuggestion("run 'seekly config show' to inspect the effective configuration")
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .seekly.yaml or .seekly.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".seekly.yaml", ".seekly.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over c. Keys absent from the file keep their current
// value, so an explicit false or 0 in the file is honored.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies SEEKLY_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	env := envReader{}

	env.str("SEEKLY_INDEX_PATH", &c.Index.Path)
	env.str("SEEKLY_ENTITY_TYPE", &c.Index.EntityType)
	env.str("SEEKLY_BACKEND", &c.Index.Backend)
	env.str("SEEKLY_DATABASE_DSN", &c.Database.DSN)
	env.int("SEEKLY_DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	env.duration("SEEKLY_DATABASE_CONN_TIMEOUT", &c.Database.ConnTimeout)
	env.bool("SEEKLY_AUTO_OPTIMIZE", &c.Engine.AutoOptimize)
	env.bool("SEEKLY_ENABLE_METRICS", &c.Engine.EnableMetrics)
	env.int("SEEKLY_MAX_RESULTS", &c.Search.MaxResults)
	env.str("SEEKLY_SERVER_ADDR", &c.Server.Addr)
	env.float("SEEKLY_RATE_LIMIT", &c.Server.RateLimit)
	env.str("SEEKLY_LOG_LEVEL", &c.Server.LogLevel)
	env.duration("SEEKLY_METRICS_RETENTION", &c.Metrics.Retention)

	return env.err
}

// envReader parses environment variables into typed fields and keeps the
// first error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.err = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.err = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.err = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.err = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = d
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Index.EntityType) == "" {
		return fmt.Errorf("index.entity_type is required")
	}
	if c.Index.Path == "" {
		return fmt.Errorf("index.path is required")
	}
	switch c.Index.Backend {
	case BackendHybrid:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the hybrid backend")
		}
	case BackendFile:
	default:
		return fmt.Errorf("index.backend must be 'hybrid' or 'file', got %s", c.Index.Backend)
	}

	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database connection limits must be non-negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns && c.Database.MaxOpenConns > 0 {
		return fmt.Errorf("database.max_idle_conns (%d) exceeds max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Database.ConnTimeout < 0 || c.Database.IdleTimeout < 0 || c.Database.MaxLifetime < 0 {
		return fmt.Errorf("database timeouts must be non-negative")
	}

	if c.Engine.AutoOptimize && c.Engine.AutoOptimizeThreshold <= 0 {
		return fmt.Errorf("engine.auto_optimize_threshold must be positive, got %d", c.Engine.AutoOptimizeThreshold)
	}
	if c.Engine.SuggestionCacheSize < 0 {
		return fmt.Errorf("engine.suggestion_cache_size must be non-negative, got %d", c.Engine.SuggestionCacheSize)
	}

	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.FuzzyDistance < 0 || c.Search.FuzzyDistance > query.MaxFuzzyDistance {
		return fmt.Errorf("search.fuzzy_distance must be between 0 and %d, got %d",
			query.MaxFuzzyDistance, c.Search.FuzzyDistance)
	}
	if c.Search.ExactMatchBoost < 0 || c.Search.PhraseMatchBoost < 0 {
		return fmt.Errorf("search boosts must be non-negative")
	}

	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limits must be non-negative")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Metrics.Retention < 0 || c.Metrics.EvictionInterval < 0 {
		return fmt.Errorf("metrics durations must be non-negative")
	}
	return nil
}

// EngineSettings returns the engine configuration.
func (c *Config) EngineSettings() search.Config {
	return search.Config{
		AutoOptimize:           c.Engine.AutoOptimize,
		AutoOptimizeThreshold:  c.Engine.AutoOptimizeThreshold,
		EnableMetrics:          c.Engine.EnableMetrics,
		EnableQueryPerformance: c.Engine.EnableQueryPerformance,
		SuggestionCacheSize:    c.Engine.SuggestionCacheSize,
	}
}

// SearchOptions returns the default search options.
func (c *Config) SearchOptions() query.Options {
	opts := query.DefaultOptions()
	opts.MaxResults = c.Search.MaxResults
	opts.FuzzyDistance = c.Search.FuzzyDistance
	opts.ExactMatchBoost = c.Search.ExactMatchBoost
	opts.PhraseMatchBoost = c.Search.PhraseMatchBoost
	opts.PhraseMatching = c.Search.PhraseMatching
	opts.MaxSuggestions = c.Search.MaxSuggestions
	return opts.Normalize()
}

// SQLiteSettings returns the relational store configuration.
func (c *Config) SQLiteSettings() store.SQLiteConfig {
	return store.SQLiteConfig{
		DSN:          c.Database.DSN,
		EntityType:   c.Index.EntityType,
		MaxOpenConns: c.Database.MaxOpenConns,
		MaxIdleConns: c.Database.MaxIdleConns,
		ConnTimeout:  c.Database.ConnTimeout,
		IdleTimeout:  c.Database.IdleTimeout,
		MaxLifetime:  c.Database.MaxLifetime,
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
