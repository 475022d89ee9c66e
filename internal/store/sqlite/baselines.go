package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// BaselineStore implements domain.BaselineStore with one row per ticker.
type BaselineStore struct {
	db *sql.DB
}

func (s *BaselineStore) Upsert(ctx context.Context, b domain.Baseline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO baselines (ticker, avg_volume, std_volume, avg_price, std_price,
			avg_trades_per_hour, sample_size, window_days, calculated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(ticker) DO UPDATE SET
			avg_volume          = excluded.avg_volume,
			std_volume          = excluded.std_volume,
			avg_price           = excluded.avg_price,
			std_price           = excluded.std_price,
			avg_trades_per_hour = excluded.avg_trades_per_hour,
			sample_size         = excluded.sample_size,
			window_days         = excluded.window_days,
			calculated_at       = excluded.calculated_at`,
		b.Ticker, b.AvgVolume, b.StdVolume, b.AvgPrice, b.StdPrice,
		b.AvgTradesPerHour, b.SampleSize, b.WindowDays, ms(b.CalculatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: upsert baseline %s: %w", b.Ticker, err)
	}
	return nil
}

func (s *BaselineStore) Get(ctx context.Context, ticker string) (domain.Baseline, error) {
	var (
		b  domain.Baseline
		at int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT ticker, avg_volume, std_volume, avg_price, std_price,
			avg_trades_per_hour, sample_size, window_days, calculated_at
		FROM baselines WHERE ticker = ?`, ticker).Scan(
		&b.Ticker, &b.AvgVolume, &b.StdVolume, &b.AvgPrice, &b.StdPrice,
		&b.AvgTradesPerHour, &b.SampleSize, &b.WindowDays, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Baseline{}, fmt.Errorf("sqlite: baseline %s: %w", ticker, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Baseline{}, fmt.Errorf("sqlite: get baseline %s: %w", ticker, err)
	}
	b.CalculatedAt = fromMs(at)
	return b, nil
}
