package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/insiderwatch/internal/server"
	"github.com/alanyoungcy/insiderwatch/internal/server/handler"
	"github.com/alanyoungcy/insiderwatch/internal/server/ws"
)

// FullMode runs the scheduler, the HTTP API and the WebSocket hub in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(deps.Scheduler.Run(ctx)) })
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, true)
	}
	return g.Wait()
}

// SchedulerMode runs only the periodic jobs.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode", slog.Any("jobs", deps.Scheduler.Jobs()))
	return ignoreCanceled(deps.Scheduler.Run(ctx))
}

// ServerMode serves the query API over whatever another process stored.
// Job triggers are unavailable because no scheduler runs here.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, false)
	return g.Wait()
}

// OneShot runs a single job through the scheduler, so the job lock and
// whole-job retry still apply, then returns.
func (a *App) OneShot(ctx context.Context, deps *Dependencies, job string) error {
	a.logger.InfoContext(ctx, "running one-shot job", slog.String("job", job))
	start := time.Now()
	if err := deps.Scheduler.RunOnce(ctx, job); err != nil {
		return fmt.Errorf("app: %s: %w", job, err)
	}
	a.logger.InfoContext(ctx, "one-shot job finished",
		slog.String("job", job),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// startHTTPServer adds the hub, the HTTP server and its shutdown watcher to
// g. withTrigger exposes the scheduler through POST /api/jobs/{name}/trigger.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, withTrigger bool) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: time.Now().UTC()})
	g.Go(func() error { return hub.Run(ctx) })

	checks := map[string]handler.HealthCheck{"database": deps.Store.Ping}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}
	if deps.Exchange != nil {
		checks["kalshi"] = func(ctx context.Context) error {
			if !deps.Exchange.HealthCheck(ctx) {
				return errors.New("api unreachable")
			}
			return nil
		}
	}

	var metrics handler.MetricsSource
	if deps.Exchange != nil {
		metrics = deps.Exchange.Metrics()
	}
	var trigger handler.JobTrigger
	if withTrigger {
		trigger = deps.Scheduler
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(checks, a.logger),
		Markets:   handler.NewMarketHandler(deps.Store.Markets(), deps.Store.Trades(), deps.Store.Anomalies(), a.logger),
		Anomalies: handler.NewAnomalyHandler(deps.Store.Anomalies(), deps.Detector.Anomalies(), a.logger),
		Traders:   handler.NewTraderHandler(deps.Store.Traders(), a.logger),
		Stats:     handler.NewStatsHandler(deps.Store, metrics, a.logger),
		Jobs:      handler.NewJobsHandler(trigger, a.logger),
	}, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
