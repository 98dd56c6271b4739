// Package server exposes an engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/internal/search"
	"github.com/h12/seekly/pkg/entity"
)

const (
	maxBatchSize    = 1000
	maxBodyBytes    = 16 << 20
	shutdownTimeout = 10 * time.Second
)

// Engine is the engine surface served over HTTP.
type Engine interface {
	EntityType() string
	Index(ctx context.Context, doc entity.Document) error
	IndexBatch(ctx context.Context, docs []entity.Document) error
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (entity.Document, error)
	Search(ctx context.Context, text string, filters query.Filters, opts query.Options) search.SearchResponse[entity.Document]
	GetSuggestions(ctx context.Context, prefix string, max int) ([]string, error)
	PerformanceStats() search.PerformanceStats
	IndexStats(ctx context.Context) (search.IndexStats, error)
	TopQueries(limit int) []search.QueryPerformance
	ZeroResultQueries(limit int) []search.QueryPerformance
	OptimizeIndex(ctx context.Context) error
	CheckHealth(ctx context.Context) error
}

var (
	_ Engine = (*search.HybridEngine[entity.Document])(nil)
	_ Engine = (*search.FileEngine[entity.Document])(nil)
)

// Config configures the HTTP server.
type Config struct {
	// SearchDefaults are the options applied before request parameters.
	SearchDefaults query.Options

	// RateLimit is the sustained search rate per second (0 disables limiting).
	RateLimit float64
	RateBurst int

	// Metrics serves GET /metrics and instruments every route when set.
	Metrics MetricsExporter

	Logger *slog.Logger
}

// MetricsExporter is implemented by metrics.Prometheus.
type MetricsExporter interface {
	Handler() http.Handler
	Middleware() func(http.Handler) http.Handler
}

// Server routes HTTP requests to an engine.
type Server struct {
	engine  Engine
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	router  chi.Router
}

// New creates a server for engine.
func New(engine Engine, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SearchDefaults.MaxResults == 0 {
		cfg.SearchDefaults = query.DefaultOptions()
	}

	s := &Server{
		engine: engine,
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "server")),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.cfg.Metrics != nil {
		r.Use(s.cfg.Metrics.Middleware())
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", s.handleIndex)
		r.Post("/documents:batch", s.handleIndexBatch)
		r.Get("/documents/{id}", s.handleGet)
		r.Delete("/documents/{id}", s.handleRemove)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Get("/search", s.handleSearch)
			r.Get("/suggest", s.handleSuggest)
		})

		r.Get("/stats", s.handleStats)
		r.Get("/stats/queries/top", s.handleTopQueries)
		r.Get("/stats/queries/zero", s.handleZeroQueries)
		r.Post("/optimize", s.handleOptimize)
	})
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_started", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server_stopped")
	return nil
}

// rateLimit rejects requests above the configured rate.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.writeError(w, serrors.New(serrors.ErrCodeRateLimited, "rate limit exceeded", nil).
				WithSuggestion("retry after a short delay"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, serrors.ValidationError("invalid request body", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error serrors.Payload `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := serrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.LogAttrs(context.Background(), slog.LevelError, "request_failed", serrors.LogAttrs(err)...)
	} else {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "request_rejected", serrors.LogAttrs(err)...)
	}
	writeJSON(w, status, errorResponse{Error: serrors.ToPayload(err)})
}
