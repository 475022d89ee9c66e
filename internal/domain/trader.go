package domain

import "time"

// TraderProfile is a rolling per-trader rollup, recomputed each refresh.
type TraderProfile struct {
	TraderID     string    `json:"trader_id"`
	FirstSeen    time.Time `json:"first_seen"`
	TradeCount   int64     `json:"trade_count"`
	TotalVolume  float64   `json:"total_volume_usd"`
	AvgTradeSize float64   `json:"avg_trade_size_usd"`
	IsWhale      bool      `json:"is_whale"`
	UpdatedAt    time.Time `json:"updated_at"`
}
