package domain

import (
	"strings"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive MarketStatus = "active"
	MarketStatusClosed MarketStatus = "closed"
)

// ParseMarketStatus maps the exchange's status vocabulary onto the two
// states tracked locally.
func ParseMarketStatus(s string) MarketStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "active", "initialized", "":
		return MarketStatusActive
	default:
		return MarketStatusClosed
	}
}

// Market is an exchange market keyed by ticker.
type Market struct {
	Ticker      string       `json:"ticker"`
	EventTicker string       `json:"event_ticker,omitempty"`
	Title       string       `json:"title"`
	Category    string       `json:"category"`
	Status      MarketStatus `json:"status"`
	CloseTime   *time.Time   `json:"close_time,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// DaysToClose returns whole days until the market closes. Markets without a
// close time report NoCloseDays.
func (m Market) DaysToClose(now time.Time) int {
	if m.CloseTime == nil || m.CloseTime.IsZero() {
		return NoCloseDays
	}
	return int(m.CloseTime.Sub(now).Hours() / 24)
}

// NoCloseDays stands in for "far away" when a market has no close date.
const NoCloseDays = 999
