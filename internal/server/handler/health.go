package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	checks map[string]HealthCheck
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be empty.
func NewHealthHandler(checks map[string]HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck runs every check with a 5s budget. Any failure turns the
// status to "degraded" with 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
			components[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
