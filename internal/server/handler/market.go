package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

const marketDetailItems = 10

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets   domain.MarketStore
	trades    domain.TradeStore
	anomalies domain.AnomalyStore
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets domain.MarketStore, trades domain.TradeStore, anomalies domain.AnomalyStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, trades: trades, anomalies: anomalies, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns active markets.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListActive(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	total, err := h.markets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

type marketDetail struct {
	Market       domain.Market    `json:"market"`
	RecentTrades []domain.Trade   `json:"recent_trades"`
	Anomalies    []domain.Anomaly `json:"anomalies"`
}

// GetMarket returns a market with its latest trades and anomalies.
// GET /api/markets/{ticker}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")
	ctx := r.Context()

	market, err := h.markets.Get(ctx, ticker)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: get market failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	trades, err := h.trades.ListByTicker(ctx, ticker, domain.ListOpts{Limit: marketDetailItems})
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: market trades failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	anomalies, err := h.anomalies.List(ctx, domain.AnomalyFilter{Ticker: ticker, Limit: marketDetailItems})
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: market anomalies failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list anomalies")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}
	if anomalies == nil {
		anomalies = []domain.Anomaly{}
	}
	writeJSON(w, http.StatusOK, marketDetail{Market: market, RecentTrades: trades, Anomalies: anomalies})
}
