package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `trade_id, ticker, price, volume, side, timestamp, trader_id`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		var (
			t    domain.Trade
			side string
		)
		if err := rows.Scan(&t.TradeID, &t.Ticker, &t.Price, &t.Volume, &side, &t.Timestamp, &t.TraderID); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts multiple trades efficiently using pgx Batch.
// Duplicate trade ids are silently skipped via ON CONFLICT DO NOTHING, and
// only rows that were actually written are counted.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO trades (trade_id, ticker, price, volume, side, timestamp, trader_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trade_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query, t.TradeID, t.Ticker, t.Price, t.Volume, string(t.Side), t.Timestamp, t.TraderID)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := range trades {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListByTicker returns trades for a market, newest first, with pagination
// and optional time filtering.
func (s *TradeStore) ListByTicker(ctx context.Context, ticker string, opts domain.ListOpts) ([]domain.Trade, error) {
	q := newQuery(`SELECT `+tradeSelectCols+` FROM trades`, "ticker = ?", ticker)
	if opts.Since != nil {
		q.where("timestamp >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q.where("timestamp <= ?", *opts.Until)
	}
	query, args := q.build("ORDER BY timestamp DESC, trade_id DESC", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by ticker: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by ticker: %w", err)
	}
	return trades, nil
}

// ListSince returns every trade at or after since, oldest first.
func (s *TradeStore) ListSince(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE timestamp >= $1 ORDER BY timestamp, trade_id`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades since: %w", err)
	}
	return scanTradeRows(rows)
}

// ListBefore returns all trades strictly before the given time (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE timestamp < $1 ORDER BY timestamp, trade_id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	return scanTradeRows(rows)
}

// VolumeSince sums contract volume for ticker at or after since.
func (s *TradeStore) VolumeSince(ctx context.Context, ticker string, since time.Time) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(volume), 0)::BIGINT FROM trades WHERE ticker = $1 AND timestamp >= $2`,
		ticker, since).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("postgres: volume since %s: %w", ticker, err)
	}
	return v, nil
}

// Count returns the number of stored trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}
