package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// BaselineStore implements domain.BaselineStore using PostgreSQL.
type BaselineStore struct {
	pool *pgxpool.Pool
}

// NewBaselineStore creates a new BaselineStore backed by the given connection pool.
func NewBaselineStore(pool *pgxpool.Pool) *BaselineStore {
	return &BaselineStore{pool: pool}
}

// Upsert replaces the baseline row for b.Ticker.
func (s *BaselineStore) Upsert(ctx context.Context, b domain.Baseline) error {
	const query = `
		INSERT INTO baselines (
			ticker, avg_volume, std_volume, avg_price, std_price,
			avg_trades_per_hour, sample_size, window_days, calculated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ticker) DO UPDATE SET
			avg_volume          = EXCLUDED.avg_volume,
			std_volume          = EXCLUDED.std_volume,
			avg_price           = EXCLUDED.avg_price,
			std_price           = EXCLUDED.std_price,
			avg_trades_per_hour = EXCLUDED.avg_trades_per_hour,
			sample_size         = EXCLUDED.sample_size,
			window_days         = EXCLUDED.window_days,
			calculated_at       = EXCLUDED.calculated_at`

	_, err := s.pool.Exec(ctx, query,
		b.Ticker, b.AvgVolume, b.StdVolume, b.AvgPrice, b.StdPrice,
		b.AvgTradesPerHour, b.SampleSize, b.WindowDays, b.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert baseline %s: %w", b.Ticker, err)
	}
	return nil
}

// Get returns the baseline for ticker.
func (s *BaselineStore) Get(ctx context.Context, ticker string) (domain.Baseline, error) {
	var b domain.Baseline
	err := s.pool.QueryRow(ctx, `
		SELECT ticker, avg_volume, std_volume, avg_price, std_price,
			avg_trades_per_hour, sample_size, window_days, calculated_at
		FROM baselines WHERE ticker = $1`, ticker).Scan(
		&b.Ticker, &b.AvgVolume, &b.StdVolume, &b.AvgPrice, &b.StdPrice,
		&b.AvgTradesPerHour, &b.SampleSize, &b.WindowDays, &b.CalculatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Baseline{}, fmt.Errorf("postgres: baseline %s: %w", ticker, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Baseline{}, fmt.Errorf("postgres: get baseline %s: %w", ticker, err)
	}
	return b, nil
}
