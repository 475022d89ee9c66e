package domain

import "time"

// Side is the taker side of a trade.
type Side string

const (
	SideYes     Side = "yes"
	SideNo      Side = "no"
	SideUnknown Side = "unknown"
)

// ParseSide normalizes an exchange side string.
func ParseSide(s string) Side {
	switch Side(s) {
	case SideYes, SideNo:
		return Side(s)
	default:
		return SideUnknown
	}
}

// Trade is a completed trade print. Price is in integer cents (0-100) and
// Volume in contracts.
type Trade struct {
	TradeID   string    `json:"trade_id"`
	Ticker    string    `json:"ticker"`
	Price     int       `json:"price"`
	Volume    int64     `json:"volume"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
	TraderID  string    `json:"trader_id,omitempty"`
}

// USDValue is the notional value of the trade in dollars.
func (t Trade) USDValue() float64 {
	return float64(t.Volume) * float64(t.Price) / 100
}

// Validate reports whether the trade satisfies the stored-trade invariants.
func (t Trade) Validate() error {
	switch {
	case t.TradeID == "":
		return ErrInvalidTrade
	case t.Ticker == "":
		return ErrInvalidTrade
	case t.Price < 0 || t.Price > 100:
		return ErrInvalidTrade
	case t.Volume < 1:
		return ErrInvalidTrade
	}
	return nil
}
