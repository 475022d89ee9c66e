package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `ticker, event_ticker, title, category, status, close_time, created_at, updated_at`

// UpsertBatch inserts or updates markets by ticker using a pgx Batch.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	const query = `
		INSERT INTO markets (ticker, event_ticker, title, category, status, close_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ticker) DO UPDATE SET
			event_ticker = EXCLUDED.event_ticker,
			title        = EXCLUDED.title,
			category     = EXCLUDED.category,
			status       = EXCLUDED.status,
			close_time   = EXCLUDED.close_time,
			updated_at   = NOW()`

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(query, m.Ticker, m.EventTicker, m.Title, m.Category, string(m.Status), m.CloseTime)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, m := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market %s: %w", m.Ticker, err)
		}
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m      domain.Market
		status string
	)
	err := row.Scan(&m.Ticker, &m.EventTicker, &m.Title, &m.Category, &status, &m.CloseTime, &m.CreatedAt, &m.UpdatedAt)
	m.Status = domain.MarketStatus(status)
	return m, err
}

// Get returns a market by ticker.
func (s *MarketStore) Get(ctx context.Context, ticker string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE ticker = $1`, ticker))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %s: %w", ticker, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", ticker, err)
	}
	return m, nil
}

// ListActive returns active markets ordered by ticker.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	q := newQuery(`SELECT `+marketSelectCols+` FROM markets`, "status = ?", string(domain.MarketStatusActive))
	query, args := q.build("ORDER BY ticker", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CloseExpired flips active markets past their close time to closed.
func (s *MarketStore) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND close_time IS NOT NULL AND close_time <= $3`,
		string(domain.MarketStatusClosed), string(domain.MarketStatusActive), now)
	if err != nil {
		return 0, fmt.Errorf("postgres: close expired markets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of tracked markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}
