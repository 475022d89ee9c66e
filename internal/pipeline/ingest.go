package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
	"github.com/alanyoungcy/insiderwatch/internal/platform/kalshi"
)

// Exchange is the subset of the Kalshi client the ingestion job calls.
type Exchange interface {
	GetAllMarketsFromEvents(ctx context.Context, categories []string, maxEvents int) ([]kalshi.Market, error)
	GetAllMarkets(ctx context.Context, status string, pageLimit, maxMarkets int) ([]kalshi.Market, error)
	GetAllTrades(ctx context.Context, q kalshi.TradesQuery, maxTrades int) ([]kalshi.RawTrade, error)
}

// IngestConfig controls one ingestion run.
type IngestConfig struct {
	// Status filters GET /markets when events are not used.
	Status string
	// Categories restricts the event fan-out. Markets are discovered through
	// events whenever Categories is non-empty or MaxEvents > 0.
	Categories       []string
	MaxEvents        int
	PriorityPrefixes []string
	// MaxMarkets caps markets processed per run after prioritisation.
	MaxMarkets         int
	TradeLookback      time.Duration
	TradePageLimit     int
	MaxTradesPerMarket int
	// MaxConsecutiveFailures aborts the run with ErrTooManyFailures.
	MaxConsecutiveFailures int
	// MaxParseErrors is the per-market ceiling of malformed trade records
	// above which that market's batch is discarded.
	MaxParseErrors int
}

// DefaultPriorityPrefixes are the ticker families ingested first: elections,
// macro releases, crypto and the major sports leagues.
var DefaultPriorityPrefixes = []string{
	"KXPRES", "KXCPI", "KXFED", "KXBTC", "KXETH",
	"KXXRP", "KXGDP", "KXUNEMP", "KXNBA", "KXNFL",
}

// DefaultIngestConfig returns the stock ingestion settings.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Status:                 "open",
		PriorityPrefixes:       slices.Clone(DefaultPriorityPrefixes),
		MaxMarkets:             500,
		TradeLookback:          24 * time.Hour,
		TradePageLimit:         1000,
		MaxTradesPerMarket:     5000,
		MaxConsecutiveFailures: 20,
		MaxParseErrors:         50,
	}
}

// IngestSummary counts the outcome of an ingestion run.
type IngestSummary struct {
	Markets        int   `json:"markets"`
	MarketsClosed  int64 `json:"markets_closed"`
	TradesFetched  int   `json:"trades_fetched"`
	TradesInserted int64 `json:"trades_inserted"`
	ParseErrors    int   `json:"parse_errors"`
	FailedMarkets  int   `json:"failed_markets"`
}

func (s IngestSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("markets", s.Markets),
		slog.Int64("markets_closed", s.MarketsClosed),
		slog.Int("trades_fetched", s.TradesFetched),
		slog.Int64("trades_inserted", s.TradesInserted),
		slog.Int("parse_errors", s.ParseErrors),
		slog.Int("failed_markets", s.FailedMarkets),
	)
}

var errParseCeiling = errors.New("parse error ceiling exceeded")

// Ingester pulls markets and recent trades from the exchange into the store.
type Ingester struct {
	exchange Exchange
	markets  domain.MarketStore
	trades   domain.TradeStore
	cfg      IngestConfig
	logger   *slog.Logger

	Now func() time.Time
}

// NewIngester creates an Ingester.
func NewIngester(exchange Exchange, store domain.Store, cfg IngestConfig, logger *slog.Logger) *Ingester {
	return &Ingester{
		exchange: exchange,
		markets:  store.Markets(),
		trades:   store.Trades(),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ingest")),
		Now:      time.Now,
	}
}

// Run performs one ingestion pass. The market batch is upserted before any
// trade is fetched, and stored active markets whose close time has passed
// are marked closed, since the open listing never returns them again. Trade inserts are idempotent, so overlapping runs never
// double count. Authorization failures and ErrTooManyFailures end the run
// early.
func (in *Ingester) Run(ctx context.Context) (IngestSummary, error) {
	var sum IngestSummary

	raw, err := in.fetchMarkets(ctx)
	if err != nil {
		return sum, fmt.Errorf("pipeline: fetch markets: %w", err)
	}
	markets := make([]domain.Market, 0, len(raw))
	for _, m := range raw {
		if m.Ticker == "" {
			continue
		}
		markets = append(markets, kalshi.NormalizeMarket(m))
	}
	markets = prioritize(markets, in.cfg.PriorityPrefixes, in.cfg.MaxMarkets)
	sum.Markets = len(markets)

	if len(markets) > 0 {
		if err := in.markets.UpsertBatch(ctx, markets); err != nil {
			return sum, fmt.Errorf("pipeline: upsert markets: %w", err)
		}
		in.logger.InfoContext(ctx, "markets upserted", slog.Int("count", len(markets)))
	}

	now := in.Now().UTC()
	closed, err := in.markets.CloseExpired(ctx, now)
	if err != nil {
		return sum, fmt.Errorf("pipeline: close expired markets: %w", err)
	}
	sum.MarketsClosed = closed
	if closed > 0 {
		in.logger.InfoContext(ctx, "expired markets closed", slog.Int64("count", closed))
	}

	if len(markets) == 0 {
		in.logger.WarnContext(ctx, "no markets to ingest")
		return sum, nil
	}

	minTS := now.Add(-in.cfg.TradeLookback)
	consecutive := 0
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		fetched, inserted, parseErrs, err := in.ingestMarket(ctx, m.Ticker, minTS)
		sum.TradesFetched += fetched
		sum.TradesInserted += inserted
		sum.ParseErrors += parseErrs
		if err == nil {
			consecutive = 0
			continue
		}

		sum.FailedMarkets++
		consecutive++
		in.logger.ErrorContext(ctx, "ingest market failed",
			slog.String("ticker", m.Ticker),
			slog.Int("consecutive_failures", consecutive),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrUnauthorized) {
			return sum, fmt.Errorf("pipeline: trades %s: %w", m.Ticker, err)
		}
		if in.cfg.MaxConsecutiveFailures > 0 && consecutive >= in.cfg.MaxConsecutiveFailures {
			return sum, fmt.Errorf("pipeline: %d consecutive market failures: %w", consecutive, domain.ErrTooManyFailures)
		}
	}

	in.logger.InfoContext(ctx, "ingestion complete", slog.Any("summary", sum))
	return sum, nil
}

func (in *Ingester) fetchMarkets(ctx context.Context) ([]kalshi.Market, error) {
	if len(in.cfg.Categories) > 0 || in.cfg.MaxEvents > 0 {
		return in.exchange.GetAllMarketsFromEvents(ctx, in.cfg.Categories, in.cfg.MaxEvents)
	}
	// Without priorities the first MaxMarkets are as good as any.
	limit := 0
	if len(in.cfg.PriorityPrefixes) == 0 {
		limit = in.cfg.MaxMarkets
	}
	return in.exchange.GetAllMarkets(ctx, in.cfg.Status, 0, limit)
}

func (in *Ingester) ingestMarket(ctx context.Context, ticker string, minTS time.Time) (fetched int, inserted int64, parseErrs int, err error) {
	raw, err := in.exchange.GetAllTrades(ctx, kalshi.TradesQuery{
		Ticker: ticker,
		MinTS:  minTS,
		Limit:  in.cfg.TradePageLimit,
	}, in.cfg.MaxTradesPerMarket)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(raw) == 0 {
		return 0, 0, 0, nil
	}

	trades := make([]domain.Trade, 0, len(raw))
	for _, r := range raw {
		t, err := kalshi.NormalizeTrade(r, ticker)
		if err != nil {
			parseErrs++
			in.logger.WarnContext(ctx, "skipping malformed trade",
				slog.String("ticker", ticker),
				slog.Int("parse_errors", parseErrs),
				slog.String("error", err.Error()),
			)
			if in.cfg.MaxParseErrors > 0 && parseErrs > in.cfg.MaxParseErrors {
				return len(raw), 0, parseErrs, fmt.Errorf("%s: %w", ticker, errParseCeiling)
			}
			continue
		}
		trades = append(trades, t)
	}

	n, err := in.trades.InsertBatch(ctx, trades)
	if err != nil {
		return len(raw), 0, parseErrs, fmt.Errorf("insert trades %s: %w", ticker, err)
	}
	in.logger.DebugContext(ctx, "trades stored",
		slog.String("ticker", ticker),
		slog.Int("fetched", len(raw)),
		slog.Int64("new", n),
	)
	return len(raw), n, parseErrs, nil
}

// prioritize moves markets whose ticker starts with one of prefixes to the
// front, in prefix order, and truncates to limit when limit > 0.
func prioritize(markets []domain.Market, prefixes []string, limit int) []domain.Market {
	rank := func(ticker string) int {
		for i, p := range prefixes {
			if strings.HasPrefix(ticker, p) {
				return i
			}
		}
		return len(prefixes)
	}
	out := slices.Clone(markets)
	slices.SortStableFunc(out, func(a, b domain.Market) int { return rank(a.Ticker) - rank(b.Ticker) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
