package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/h12/seekly/internal/logging"
	"github.com/h12/seekly/internal/metrics"
	"github.com/h12/seekly/internal/search"
	"github.com/h12/seekly/internal/server"
	"github.com/h12/seekly/internal/telemetry"
)

type serveOptions struct {
	addr      string
	logFile   string
	noMetrics bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP search API",
		Long: `Serve the HTTP search API for the configured entity type.

Routes:
  POST   /v1/documents          index one document
  POST   /v1/documents:batch    index up to 1000 documents
  GET    /v1/documents/{id}     fetch a document
  DELETE /v1/documents/{id}     remove a document
  GET    /v1/search?q=...       search (rate limited)
  GET    /v1/suggest?q=...      prefix suggestions (rate limited)
  GET    /v1/stats              performance and index statistics
  POST   /v1/optimize           optimize the index
  GET    /healthz               health check
  GET    /metrics               Prometheus metrics

Logs are written as JSON to ~/.seekly/logs/seekly.log and stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Log file path (default ~/.seekly/logs/seekly.log)")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false, "Disable the Prometheus exporter")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts serveOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	if root.debug {
		logCfg.Level = "debug"
	}
	if opts.logFile != "" {
		logCfg.FilePath = opts.logFile
	}
	logger, cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := telemetry.NewMetricsTracker(telemetry.WithLogger(logger))
	evicted := tracker.StartEviction(ctx, cfg.Metrics.Retention, cfg.Metrics.EvictionInterval)

	engineOpts := []search.Option{search.WithTracker(tracker)}
	srvCfg := server.Config{
		SearchDefaults: cfg.SearchOptions(),
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		Logger:         logger,
	}
	if !opts.noMetrics {
		prom := metrics.NewPrometheus()
		engineOpts = append(engineOpts, search.WithCollector(prom))
		srvCfg.Metrics = prom
	}

	a, err := openApp(ctx, cfg, logger, engineOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.engine.Close(); err != nil {
			logger.Warn("engine_close_failed", slog.String("error", err.Error()))
		}
	}()

	addr := cfg.Server.Addr
	if opts.addr != "" {
		addr = opts.addr
	}
	logger.Info("serve_starting",
		slog.String("addr", addr),
		slog.String("entity_type", cfg.Index.EntityType),
		slog.String("backend", cfg.Index.Backend),
		slog.Bool("metrics", !opts.noMetrics))

	err = server.New(a.engine, srvCfg).Run(ctx, addr)
	cancel()
	<-evicted
	return err
}
