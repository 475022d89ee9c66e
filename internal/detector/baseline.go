package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// BaselineEngine recomputes and serves per-market baselines. The cache is
// optional and is written through on every recomputation.
type BaselineEngine struct {
	trades     domain.TradeStore
	baselines  domain.BaselineStore
	cache      domain.BaselineCache
	windowDays int
	minTrades  int
	logger     *slog.Logger

	Now func() time.Time
}

// NewBaselineEngine creates a BaselineEngine. cache may be nil.
func NewBaselineEngine(trades domain.TradeStore, baselines domain.BaselineStore, cache domain.BaselineCache, cfg Config, logger *slog.Logger) *BaselineEngine {
	return &BaselineEngine{
		trades:     trades,
		baselines:  baselines,
		cache:      cache,
		windowDays: cfg.BaselineWindowDays,
		minTrades:  cfg.MinBaselineTrades,
		logger:     logger,
		Now:        time.Now,
	}
}

// Calculate recomputes the baseline for ticker from the trailing window and
// upserts it. ok is false when there is not enough trade history, in which
// case nothing is written.
func (e *BaselineEngine) Calculate(ctx context.Context, ticker string) (domain.Baseline, bool, error) {
	now := e.Now().UTC()
	since := now.AddDate(0, 0, -e.windowDays)

	trades, err := e.trades.ListByTicker(ctx, ticker, domain.ListOpts{Since: &since})
	if err != nil {
		return domain.Baseline{}, false, fmt.Errorf("detector: baseline trades %s: %w", ticker, err)
	}

	b, ok := ComputeBaseline(ticker, trades, e.windowDays, e.minTrades, now)
	if !ok {
		return domain.Baseline{}, false, nil
	}
	if err := e.baselines.Upsert(ctx, b); err != nil {
		return domain.Baseline{}, false, fmt.Errorf("detector: save baseline %s: %w", ticker, err)
	}
	if e.cache != nil {
		if err := e.cache.Set(ctx, b); err != nil {
			e.logger.WarnContext(ctx, "baseline cache write failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
		}
	}
	return b, true, nil
}

// Current returns the latest baseline for ticker, preferring the cache.
func (e *BaselineEngine) Current(ctx context.Context, ticker string) (domain.Baseline, error) {
	if e.cache != nil {
		b, err := e.cache.Get(ctx, ticker)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "baseline cache read failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
		}
	}
	return e.baselines.Get(ctx, ticker)
}
