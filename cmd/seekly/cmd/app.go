package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/h12/seekly/internal/config"
	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/search"
	"github.com/h12/seekly/internal/server"
	"github.com/h12/seekly/internal/store"
	"github.com/h12/seekly/pkg/entity"
)

// Engine is what the CLI needs from either backend.
type Engine interface {
	server.Engine
	Count(ctx context.Context) (int64, error)
	ClearIndex(ctx context.Context) error
	Close() error
}

var (
	_ Engine = (*search.HybridEngine[entity.Document])(nil)
	_ Engine = (*search.FileEngine[entity.Document])(nil)
)

// openRetry is the backoff used while the stores are locked or unavailable.
var openRetry = serrors.DefaultRetryConfig()

// retryFor returns openRetry logging each retry of the named store.
func retryFor(logger *slog.Logger, storeName string) serrors.RetryConfig {
	cfg := openRetry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("store_open_retry",
			slog.String("store", storeName),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}
	return cfg
}

// app is an opened engine plus the configuration it was built from.
type app struct {
	cfg    *config.Config
	engine Engine

	// hybrid is set for the hybrid backend only.
	hybrid *search.HybridEngine[entity.Document]
}

// openApp opens the stores named by cfg and builds the configured engine.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...search.Option) (*app, error) {
	idx, err := serrors.RetryWithResult(ctx, retryFor(logger, "index"), func() (*store.BleveIndex, error) {
		return store.NewBleveIndex(store.IndexConfig{Path: cfg.Index.Path, Logger: logger})
	})
	if err != nil {
		return nil, err
	}

	opts := append([]search.Option{
		search.WithConfig(cfg.EngineSettings()),
		search.WithLogger(logger),
	}, extra...)

	if cfg.Index.Backend == config.BackendFile {
		eng, err := search.NewFileEngine[entity.Document](cfg.Index.EntityType, idx, opts...)
		if err != nil {
			_ = idx.Close()
			return nil, err
		}
		return &app{cfg: cfg, engine: eng}, nil
	}

	dbCfg := cfg.SQLiteSettings()
	dbCfg.Logger = logger
	records, err := serrors.RetryWithResult(ctx, retryFor(logger, "relational"), func() (*store.SQLiteStore, error) {
		return store.NewSQLiteStore(ctx, dbCfg)
	})
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	eng, err := search.NewHybridEngine[entity.Document](cfg.Index.EntityType, idx, records, opts...)
	if err != nil {
		_ = idx.Close()
		_ = records.Close()
		return nil, err
	}
	return &app{cfg: cfg, engine: eng, hybrid: eng}, nil
}

// withApp loads the configuration, opens the engine, runs fn and closes the
// engine.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, o.log())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.engine.Close(); cerr != nil {
			o.log().Warn("engine_close_failed", slog.String("error", cerr.Error()))
		}
	}()
	return fn(a)
}
