// Package server exposes the HTTP query API and the WebSocket event feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/server/handler"
	"github.com/alanyoungcy/insiderwatch/internal/server/middleware"
	"github.com/alanyoungcy/insiderwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimitRPS is the per-IP request budget; zero disables it.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Anomalies *handler.AnomalyHandler
	Traders   *handler.TraderHandler
	Stats     *handler.StatsHandler
	Jobs      *handler.JobsHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, wsHub, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{ticker}", handlers.Markets.GetMarket)

	mux.HandleFunc("GET /api/anomalies", handlers.Anomalies.ListAnomalies)
	mux.HandleFunc("GET /api/anomalies/{id}", handlers.Anomalies.GetAnomaly)
	mux.HandleFunc("POST /api/anomalies/{id}/resolve", handlers.Anomalies.ResolveAnomaly)

	mux.HandleFunc("GET /api/traders/whales", handlers.Traders.ListWhales)
	mux.HandleFunc("GET /api/traders/{id}", handlers.Traders.GetTrader)

	mux.HandleFunc("GET /api/stats", handlers.Stats.GetStats)
	mux.HandleFunc("GET /api/metrics", handlers.Stats.GetMetrics)
	mux.HandleFunc("GET /api/audit", handlers.Stats.ListAudit)

	mux.HandleFunc("GET /api/jobs", handlers.Jobs.ListJobs)
	mux.HandleFunc("POST /api/jobs/{name}/trigger", handlers.Jobs.TriggerJob)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var limiter *middleware.IPLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter)(h)
	h = middleware.Logging(logger, "/api/health")(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
