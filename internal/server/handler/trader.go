package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// TraderHandler serves trader profile endpoints.
type TraderHandler struct {
	traders domain.TraderProfileStore
	logger  *slog.Logger
}

// NewTraderHandler creates a TraderHandler.
func NewTraderHandler(traders domain.TraderProfileStore, logger *slog.Logger) *TraderHandler {
	return &TraderHandler{traders: traders, logger: logger}
}

// ListWhales returns whale profiles by total volume.
// GET /api/traders/whales?limit=50&offset=0
func (h *TraderHandler) ListWhales(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	whales, err := h.traders.ListWhales(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list whales failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list whales")
		return
	}
	if whales == nil {
		whales = []domain.TraderProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traders": whales, "limit": opts.Limit, "offset": opts.Offset})
}

// GetTrader returns one profile.
// GET /api/traders/{id}
func (h *TraderHandler) GetTrader(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.traders.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trader not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get trader failed",
			slog.String("trader_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trader")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
