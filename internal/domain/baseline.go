package domain

import "time"

// Baseline holds rolling per-market statistics. One row per ticker, replaced
// on every recomputation.
type Baseline struct {
	Ticker           string    `json:"ticker"`
	AvgVolume        float64   `json:"avg_volume"`
	StdVolume        float64   `json:"std_volume"`
	AvgPrice         float64   `json:"avg_price"`
	StdPrice         float64   `json:"std_price"`
	AvgTradesPerHour float64   `json:"avg_trades_per_hour"`
	SampleSize       int       `json:"sample_size"`
	WindowDays       int       `json:"window_days"`
	CalculatedAt     time.Time `json:"calculated_at"`
}
