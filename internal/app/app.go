// Package app provides the top-level application lifecycle for insiderwatch.
// It wires together every dependency (stores, caches, exchange client,
// detector, notifications, scheduler, HTTP server) and starts the goroutines
// the configured operating mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/insiderwatch/internal/config"
	"github.com/alanyoungcy/insiderwatch/internal/pipeline"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled or a one-shot mode finishes. Cleanup runs in Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("storage", a.cfg.Storage.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.Exchange != nil {
		a.logAccountLimits(ctx, deps)
		a.closers = append(a.closers, func() { deps.Exchange.LogMetrics(context.Background()) })
	}

	switch mode := strings.ToLower(a.cfg.Mode); mode {
	case "full":
		return a.FullMode(ctx, deps)
	case "scheduler":
		return a.SchedulerMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case pipeline.JobIngest, pipeline.JobDetect, pipeline.JobProfiles, pipeline.JobArchive:
		return a.OneShot(ctx, deps, mode)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// logAccountLimits is diagnostic only; failures are logged and ignored.
func (a *App) logAccountLimits(ctx context.Context, deps *Dependencies) {
	limits, err := deps.Exchange.GetAccountLimits(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "could not fetch account limits", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "kalshi account limits", slog.Any("limits", limits))
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
