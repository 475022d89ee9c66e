package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	db  *sql.DB
	now func() time.Time
}

const marketCols = `ticker, event_ticker, title, category, status, close_time, created_at, updated_at`

// UpsertBatch inserts or updates markets by ticker in one transaction. The
// original created_at is kept on update.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin market upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO markets (`+marketCols+`) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(ticker) DO UPDATE SET
			event_ticker = excluded.event_ticker,
			title        = excluded.title,
			category     = excluded.category,
			status       = excluded.status,
			close_time   = excluded.close_time,
			updated_at   = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare market upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, m := range markets {
		if _, err := stmt.ExecContext(ctx,
			m.Ticker, m.EventTicker, m.Title, m.Category, string(m.Status),
			nullMs(m.CloseTime), ms(now), ms(now),
		); err != nil {
			return fmt.Errorf("sqlite: upsert market %s: %w", m.Ticker, err)
		}
	}
	return tx.Commit()
}

func scanMarket(scan func(...any) error) (domain.Market, error) {
	var (
		m                    domain.Market
		status               string
		closeTime            sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := scan(&m.Ticker, &m.EventTicker, &m.Title, &m.Category, &status, &closeTime, &createdAt, &updatedAt); err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.CloseTime = fromNullMs(closeTime)
	m.CreatedAt = fromMs(createdAt)
	m.UpdatedAt = fromMs(updatedAt)
	return m, nil
}

func (s *MarketStore) Get(ctx context.Context, ticker string) (domain.Market, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marketCols+` FROM markets WHERE ticker = ?`, ticker)
	m, err := scanMarket(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("sqlite: market %s: %w", ticker, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("sqlite: get market %s: %w", ticker, err)
	}
	return m, nil
}

// ListActive returns active markets ordered by ticker.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := page(`SELECT `+marketCols+` FROM markets WHERE status = ? ORDER BY ticker`,
		[]any{string(domain.MarketStatusActive)}, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MarketStore) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE markets SET status = ?, updated_at = ?
		 WHERE status = ? AND close_time IS NOT NULL AND close_time <= ?`,
		string(domain.MarketStatusClosed), ms(s.now()), string(domain.MarketStatusActive), ms(now))
	if err != nil {
		return 0, fmt.Errorf("sqlite: close expired markets: %w", err)
	}
	return res.RowsAffected()
}

func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count markets: %w", err)
	}
	return n, nil
}
