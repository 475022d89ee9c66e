package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// TradeStore implements domain.TradeStore. trade_id is the primary key, so
// re-inserting a trade is a no-op.
type TradeStore struct {
	db *sql.DB
}

const tradeCols = `trade_id, ticker, price, volume, side, timestamp, trader_id`

func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin trade insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO trades (`+tradeCols+`) VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare trade insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, t := range trades {
		res, err := stmt.ExecContext(ctx,
			t.TradeID, t.Ticker, t.Price, t.Volume, string(t.Side), ms(t.Timestamp), t.TraderID)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert trade %s: %w", t.TradeID, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit trade insert: %w", err)
	}
	return inserted, nil
}

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var out []domain.Trade
	for rows.Next() {
		var (
			t    domain.Trade
			side string
			ts   int64
		)
		if err := rows.Scan(&t.TradeID, &t.Ticker, &t.Price, &t.Volume, &side, &ts, &t.TraderID); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.Timestamp = fromMs(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByTicker returns trades for ticker, newest first.
func (s *TradeStore) ListByTicker(ctx context.Context, ticker string, opts domain.ListOpts) ([]domain.Trade, error) {
	w := &where{}
	w.add("ticker = ?", ticker)
	if opts.Since != nil {
		w.add("timestamp >= ?", ms(*opts.Since))
	}
	if opts.Until != nil {
		w.add("timestamp <= ?", ms(*opts.Until))
	}
	query, args := page(`SELECT `+tradeCols+` FROM trades`+w.String()+` ORDER BY timestamp DESC, trade_id DESC`,
		w.args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades %s: %w", ticker, err)
	}
	return scanTrades(rows)
}

// ListSince returns every trade at or after since, oldest first.
func (s *TradeStore) ListSince(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE timestamp >= ? ORDER BY timestamp, trade_id`, ms(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades since: %w", err)
	}
	return scanTrades(rows)
}

// ListBefore returns trades strictly before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE timestamp < ? ORDER BY timestamp, trade_id`, ms(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades before: %w", err)
	}
	return scanTrades(rows)
}

func (s *TradeStore) VolumeSince(ctx context.Context, ticker string, since time.Time) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(volume), 0) FROM trades WHERE ticker = ? AND timestamp >= ?`,
		ticker, ms(since)).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("sqlite: volume since %s: %w", ticker, err)
	}
	return v, nil
}

func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count trades: %w", err)
	}
	return n, nil
}
