// Package metrics exports engine events to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/h12/seekly/internal/search"
)

const namespace = "seekly"

// Prometheus implements search.Collector. Query text is never used as a label.
type Prometheus struct {
	registry *prometheus.Registry

	searches       *prometheus.CounterVec
	zeroResults    *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.HistogramVec
	searchScore    *prometheus.GaugeVec

	documents     *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec

	optimizations    *prometheus.CounterVec
	optimizeDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheus creates a collector with its own registry, including the Go
// runtime and process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),

		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "requests_total",
				Help:      "Total number of searches",
			},
			[]string{"entity_type", "status"},
		),
		zeroResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "zero_results_total",
				Help:      "Successful searches that matched nothing",
			},
			[]string{"entity_type"},
		),
		searchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "Search duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"entity_type"},
		),
		searchResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "results",
				Help:      "Results returned per search",
				Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
			},
			[]string{"entity_type"},
		),
		searchScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "last_average_score",
				Help:      "Average score of the last successful search",
			},
			[]string{"entity_type"},
		),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "documents_total",
				Help:      "Documents written or removed",
			},
			[]string{"entity_type", "op"},
		),
		writeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "write_duration_seconds",
				Help:      "Write call duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"entity_type", "op"},
		),
		optimizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "optimizations_total",
				Help:      "Completed index optimizations",
			},
			[]string{"entity_type"},
		),
		optimizeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "optimize_duration_seconds",
				Help:      "Index optimization duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"entity_type"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
	}

	p.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		p.searches, p.zeroResults, p.searchDuration, p.searchResults, p.searchScore,
		p.documents, p.writeDuration,
		p.optimizations, p.optimizeDuration,
		p.httpRequests, p.httpDuration,
	)
	return p
}

// Registry returns the registry holding every seekly metric.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) RecordSearch(entityType, _ string, d time.Duration, results int, avgScore float64, success, zeroResults bool) {
	status := "success"
	if !success {
		status = "error"
	}
	p.searches.WithLabelValues(entityType, status).Inc()
	p.searchDuration.WithLabelValues(entityType).Observe(d.Seconds())
	if !success {
		return
	}
	p.searchResults.WithLabelValues(entityType).Observe(float64(results))
	p.searchScore.WithLabelValues(entityType).Set(avgScore)
	if zeroResults {
		p.zeroResults.WithLabelValues(entityType).Inc()
	}
}

func (p *Prometheus) RecordIndexing(entityType string, count int, d time.Duration) {
	p.write(entityType, "index", count, d)
}

func (p *Prometheus) RecordDeletion(entityType string, count int, d time.Duration) {
	p.write(entityType, "delete", count, d)
}

func (p *Prometheus) RecordUpdate(entityType string, count int, d time.Duration) {
	p.write(entityType, "update", count, d)
}

func (p *Prometheus) write(entityType, op string, count int, d time.Duration) {
	p.documents.WithLabelValues(entityType, op).Add(float64(count))
	p.writeDuration.WithLabelValues(entityType, op).Observe(d.Seconds())
}

func (p *Prometheus) RecordOptimization(entityType string, d time.Duration) {
	p.optimizations.WithLabelValues(entityType).Inc()
	p.optimizeDuration.WithLabelValues(entityType).Observe(d.Seconds())
}

// Middleware records HTTP request duration and count, labelled by chi route
// pattern.
func (p *Prometheus) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			path := "unknown"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}
			status := strconv.Itoa(ww.status)

			p.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
			p.httpRequests.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

var _ search.Collector = (*Prometheus)(nil)
