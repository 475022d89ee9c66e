package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
	"github.com/alanyoungcy/insiderwatch/internal/platform/kalshi"
)

// MetricsSource exposes exchange client usage counters.
type MetricsSource interface {
	Snapshot() kalshi.MetricsSnapshot
}

// StatsHandler serves aggregate counts and API usage.
type StatsHandler struct {
	store   domain.Store
	metrics MetricsSource
	logger  *slog.Logger
}

// NewStatsHandler creates a StatsHandler. metrics may be nil.
func NewStatsHandler(store domain.Store, metrics MetricsSource, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{store: store, metrics: metrics, logger: logger}
}

type statsResponse struct {
	Markets             int64                     `json:"markets"`
	Trades              int64                     `json:"trades"`
	Anomalies           int64                     `json:"anomalies"`
	AnomaliesBySeverity map[domain.Severity]int64 `json:"anomalies_by_severity"`
}

// GetStats returns row counts and anomalies per severity.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fail := func(what string, err error) {
		h.logger.ErrorContext(ctx, "handler: stats failed",
			slog.String("query", what),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
	}

	markets, err := h.store.Markets().Count(ctx)
	if err != nil {
		fail("markets", err)
		return
	}
	trades, err := h.store.Trades().Count(ctx)
	if err != nil {
		fail("trades", err)
		return
	}
	bySeverity, err := h.store.Anomalies().CountBySeverity(ctx)
	if err != nil {
		fail("anomalies", err)
		return
	}

	resp := statsResponse{
		Markets:             markets,
		Trades:              trades,
		AnomaliesBySeverity: make(map[domain.Severity]int64, 4),
	}
	for _, sev := range []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
		resp.AnomaliesBySeverity[sev] = bySeverity[sev]
		resp.Anomalies += bySeverity[sev]
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMetrics returns the exchange client's counters.
// GET /api/metrics
func (h *StatsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "exchange client not configured")
		return
	}
	snap := h.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_requests":        snap.TotalRequests,
		"successful_requests":   snap.SuccessfulRequests,
		"failed_requests":       snap.FailedRequests,
		"rate_limited_requests": snap.RateLimited,
		"retries":               snap.Retries,
		"success_rate":          snap.SuccessRate,
		"avg_latency_ms":        float64(snap.AvgLatency.Microseconds()) / 1000,
	})
}

// ListAudit returns audit rows newest first, optionally narrowed to an
// event prefix such as "archive.".
// GET /api/audit?event=&limit=&offset=
func (h *StatsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	f := domain.AuditFilter{
		EventPrefix: r.URL.Query().Get("event"),
		ListOpts:    parseListOpts(r),
	}
	entries, err := h.store.Audit().List(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}
