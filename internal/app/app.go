package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/samplegrid/internal/catalog"
	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/metrics"
	"github.com/vk/samplegrid/internal/params"
	"github.com/vk/samplegrid/internal/pipeline"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	set     *params.Set
	catalog *pipeline.Catalog
	metrics *metrics.Metrics

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It loads and validates
// the parameter file up front; a parameter set that cannot be validated is a
// fatal startup error and panics, to be recovered by the entrypoint.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	raw, err := params.Load(ctx, cfg.ParamsFile, cfg.Overrides)
	if err != nil {
		panic(fmt.Errorf("failed to load parameter file: %w", err))
	}
	logger.Debug("Parameter file loaded.", "path", cfg.ParamsFile, "overrides", len(cfg.Overrides))

	set, err := params.Validate(ctx, raw)
	if err != nil {
		panic(fmt.Errorf("parameter validation failed: %w", err))
	}
	logger.Debug("Parameter set validated.")

	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		set:     set,
		catalog: catalog.Default(),
		metrics: metrics.New(),
	}
}

// Params returns the validated parameter set. This is primarily for testing.
func (a *App) Params() *params.Set {
	return a.set
}
