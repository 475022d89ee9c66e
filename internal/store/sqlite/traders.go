package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// TraderProfileStore implements domain.TraderProfileStore.
type TraderProfileStore struct {
	db *sql.DB
}

const traderCols = `trader_id, first_seen, trade_count, total_volume, avg_trade_size, is_whale, updated_at`

func (s *TraderProfileStore) UpsertBatch(ctx context.Context, profiles []domain.TraderProfile) error {
	if len(profiles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin profile upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trader_profiles (`+traderCols+`) VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(trader_id) DO UPDATE SET
			first_seen     = MIN(trader_profiles.first_seen, excluded.first_seen),
			trade_count    = excluded.trade_count,
			total_volume   = excluded.total_volume,
			avg_trade_size = excluded.avg_trade_size,
			is_whale       = excluded.is_whale,
			updated_at     = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare profile upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range profiles {
		if _, err := stmt.ExecContext(ctx,
			p.TraderID, ms(p.FirstSeen), p.TradeCount, p.TotalVolume, p.AvgTradeSize,
			boolInt(p.IsWhale), ms(p.UpdatedAt),
		); err != nil {
			return fmt.Errorf("sqlite: upsert profile %s: %w", p.TraderID, err)
		}
	}
	return tx.Commit()
}

func scanProfile(scan func(...any) error) (domain.TraderProfile, error) {
	var (
		p                    domain.TraderProfile
		firstSeen, updatedAt int64
		whale                int
	)
	if err := scan(&p.TraderID, &firstSeen, &p.TradeCount, &p.TotalVolume, &p.AvgTradeSize, &whale, &updatedAt); err != nil {
		return domain.TraderProfile{}, err
	}
	p.FirstSeen = fromMs(firstSeen)
	p.UpdatedAt = fromMs(updatedAt)
	p.IsWhale = whale != 0
	return p, nil
}

func (s *TraderProfileStore) Get(ctx context.Context, traderID string) (domain.TraderProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+traderCols+` FROM trader_profiles WHERE trader_id = ?`, traderID)
	p, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TraderProfile{}, fmt.Errorf("sqlite: trader %s: %w", traderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TraderProfile{}, fmt.Errorf("sqlite: get trader %s: %w", traderID, err)
	}
	return p, nil
}

// ListWhales returns whale profiles by total volume, largest first.
func (s *TraderProfileStore) ListWhales(ctx context.Context, opts domain.ListOpts) ([]domain.TraderProfile, error) {
	query, args := page(`SELECT `+traderCols+` FROM trader_profiles WHERE is_whale = 1
		ORDER BY total_volume DESC, trader_id`, nil, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list whales: %w", err)
	}
	defer rows.Close()

	var out []domain.TraderProfile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
