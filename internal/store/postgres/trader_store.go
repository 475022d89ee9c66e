package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// TraderProfileStore implements domain.TraderProfileStore using PostgreSQL.
type TraderProfileStore struct {
	pool *pgxpool.Pool
}

// NewTraderProfileStore creates a new TraderProfileStore backed by the given connection pool.
func NewTraderProfileStore(pool *pgxpool.Pool) *TraderProfileStore {
	return &TraderProfileStore{pool: pool}
}

const traderSelectCols = `trader_id, first_seen, trade_count, total_volume, avg_trade_size, is_whale, updated_at`

// UpsertBatch writes profiles, keeping the earliest first_seen per trader.
func (s *TraderProfileStore) UpsertBatch(ctx context.Context, profiles []domain.TraderProfile) error {
	if len(profiles) == 0 {
		return nil
	}

	const query = `
		INSERT INTO trader_profiles (` + traderSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trader_id) DO UPDATE SET
			first_seen     = LEAST(trader_profiles.first_seen, EXCLUDED.first_seen),
			trade_count    = EXCLUDED.trade_count,
			total_volume   = EXCLUDED.total_volume,
			avg_trade_size = EXCLUDED.avg_trade_size,
			is_whale       = EXCLUDED.is_whale,
			updated_at     = EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, p := range profiles {
		batch.Queue(query, p.TraderID, p.FirstSeen, p.TradeCount, p.TotalVolume, p.AvgTradeSize, p.IsWhale, p.UpdatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, p := range profiles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert trader profile %s: %w", p.TraderID, err)
		}
	}
	return nil
}

func scanProfile(row pgx.Row) (domain.TraderProfile, error) {
	var p domain.TraderProfile
	err := row.Scan(&p.TraderID, &p.FirstSeen, &p.TradeCount, &p.TotalVolume, &p.AvgTradeSize, &p.IsWhale, &p.UpdatedAt)
	return p, err
}

// Get returns one trader profile.
func (s *TraderProfileStore) Get(ctx context.Context, traderID string) (domain.TraderProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+traderSelectCols+` FROM trader_profiles WHERE trader_id = $1`, traderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TraderProfile{}, fmt.Errorf("postgres: trader %s: %w", traderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TraderProfile{}, fmt.Errorf("postgres: get trader %s: %w", traderID, err)
	}
	return p, nil
}

// ListWhales returns whale profiles by total volume, largest first.
func (s *TraderProfileStore) ListWhales(ctx context.Context, opts domain.ListOpts) ([]domain.TraderProfile, error) {
	q := newQuery(`SELECT `+traderSelectCols+` FROM trader_profiles`, "is_whale = ?", true)
	query, args := q.build("ORDER BY total_volume DESC, trader_id", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list whales: %w", err)
	}
	defer rows.Close()

	var out []domain.TraderProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trader profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
