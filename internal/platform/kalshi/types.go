package kalshi

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// Event is an event as returned by GET /events.
type Event struct {
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker"`
	Title        string `json:"title"`
	SubTitle     string `json:"sub_title"`
	Category     string `json:"category"`
}

// Market is a market as returned by GET /markets. Category and EventTitle
// are filled from the parent event during fan-out.
type Market struct {
	Ticker         string `json:"ticker"`
	EventTicker    string `json:"event_ticker"`
	Title          string `json:"title"`
	Subtitle       string `json:"subtitle"`
	Status         string `json:"status"`
	Category       string `json:"category"`
	EventTitle     string `json:"event_title,omitempty"`
	LastPrice      int64  `json:"last_price"`
	Volume         int64  `json:"volume"`
	Volume24H      int64  `json:"volume_24h"`
	OpenInterest   int64  `json:"open_interest"`
	OpenTime       string `json:"open_time"`
	CloseTime      string `json:"close_time"`
	ExpirationTime string `json:"expiration_time"`
}

// Orderbook holds resting bids per side.
type Orderbook struct {
	Ticker string       `json:"ticker"`
	Yes    []PriceLevel `json:"yes"`
	No     []PriceLevel `json:"no"`
}

// PriceLevel is a single price+quantity entry in the orderbook.
type PriceLevel struct {
	Price    int64 `json:"price"`    // in cents (1-99)
	Quantity int64 `json:"quantity"` // number of contracts
}

// UnmarshalJSON accepts both the [price, quantity] pair encoding and the
// object encoding.
func (p *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair []int64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("kalshi: price level has %d elements", len(pair))
		}
		p.Price, p.Quantity = pair[0], pair[1]
		return nil
	}
	type plain PriceLevel
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = PriceLevel(obj)
	return nil
}

// AccountLimits is the diagnostic quota info from GET /account/limits.
type AccountLimits map[string]any

// ErrorResponse represents a Kalshi API error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type eventsPage struct {
	Events []Event `json:"events"`
	Cursor string  `json:"cursor"`
}

type marketsPage struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

type tradesPage struct {
	Trades []RawTrade `json:"trades"`
	Cursor string     `json:"cursor"`
}
