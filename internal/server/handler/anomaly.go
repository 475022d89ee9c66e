package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// AnomalyResolver marks anomalies resolved.
type AnomalyResolver interface {
	Resolve(ctx context.Context, id int64, note string) (domain.Anomaly, error)
}

// AnomalyHandler serves anomaly endpoints.
type AnomalyHandler struct {
	anomalies domain.AnomalyStore
	resolver  AnomalyResolver
	logger    *slog.Logger

	Now func() time.Time
}

// NewAnomalyHandler creates an AnomalyHandler.
func NewAnomalyHandler(anomalies domain.AnomalyStore, resolver AnomalyResolver, logger *slog.Logger) *AnomalyHandler {
	return &AnomalyHandler{anomalies: anomalies, resolver: resolver, logger: logger, Now: time.Now}
}

type listAnomaliesResponse struct {
	Anomalies []domain.Anomaly `json:"anomalies"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// ListAnomalies returns anomalies newest first.
// GET /api/anomalies?severity=high&days=7&resolved=false&ticker=KXFED&limit=50&offset=0
func (h *AnomalyHandler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)
	f := domain.AnomalyFilter{Ticker: q.Get("ticker"), Limit: opts.Limit, Offset: opts.Offset}

	if v := q.Get("severity"); v != "" {
		sev, err := domain.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Severity = sev
	}
	if v := q.Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		since := h.Now().UTC().AddDate(0, 0, -days)
		f.Since = &since
	}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		f.Resolved = &b
	}

	anomalies, err := h.anomalies.List(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list anomalies failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list anomalies")
		return
	}
	if anomalies == nil {
		anomalies = []domain.Anomaly{}
	}
	writeJSON(w, http.StatusOK, listAnomaliesResponse{Anomalies: anomalies, Limit: f.Limit, Offset: f.Offset})
}

func anomalyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid anomaly id")
		return 0, false
	}
	return id, true
}

// GetAnomaly returns one anomaly.
// GET /api/anomalies/{id}
func (h *AnomalyHandler) GetAnomaly(w http.ResponseWriter, r *http.Request) {
	id, ok := anomalyID(w, r)
	if !ok {
		return
	}
	a, err := h.anomalies.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "anomaly not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get anomaly failed",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get anomaly")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type resolveRequest struct {
	Note string `json:"note"`
}

// ResolveAnomaly marks an anomaly resolved. The body is optional.
// POST /api/anomalies/{id}/resolve {"note": "..."}
func (h *AnomalyHandler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id, ok := anomalyID(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := h.resolver.Resolve(r.Context(), id, req.Note)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "anomaly not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: resolve anomaly failed",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to resolve anomaly")
		return
	}
	h.logger.InfoContext(r.Context(), "anomaly resolved", slog.Int64("id", id))
	writeJSON(w, http.StatusOK, a)
}
