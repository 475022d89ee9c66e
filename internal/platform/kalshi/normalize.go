package kalshi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// RawTrade is a trade record exactly as the API returned it. Field names
// vary across API versions, so it stays untyped until NormalizeTrade.
type RawTrade map[string]any

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 9_999_999_999

// NormalizeTrade converts one raw trade into a domain.Trade. ticker is used
// when the record does not carry its own. Field priority, first present wins:
//
//	trade id:  trade_id, id; else "<ticker>_<created time>"
//	price:     yes_price, price (cents); yes_price_dollars (dollars)
//	volume:    count, volume, size; else 1
//	side:      taker_side, side; else "unknown"
//	time:      created_time, ts (ISO-8601 or epoch s/ms)
//	trader id: trader_id, user_id
//
// Records that cannot be parsed or that violate the Trade invariants return
// an error wrapping domain.ErrInvalidTrade.
func NormalizeTrade(raw RawTrade, ticker string) (domain.Trade, error) {
	if t, ok := stringField(raw, "ticker", "market_ticker"); ok && t != "" {
		ticker = t
	}

	createdRaw, ok := first(raw, "created_time", "ts")
	if !ok {
		return domain.Trade{}, fmt.Errorf("%w: missing created_time", domain.ErrInvalidTrade)
	}
	ts, err := parseTimestamp(createdRaw)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("%w: created_time: %v", domain.ErrInvalidTrade, err)
	}

	id, _ := stringField(raw, "trade_id", "id")
	if id == "" {
		id = ticker + "_" + rawString(createdRaw)
	}

	price, err := parsePrice(raw)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("%w: trade %s: %v", domain.ErrInvalidTrade, id, err)
	}

	volume := int64(1)
	if v, ok := first(raw, "count", "volume", "size"); ok {
		f, err := toFloat(v)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("%w: trade %s: volume: %v", domain.ErrInvalidTrade, id, err)
		}
		volume = int64(math.Round(f))
	}

	side := domain.SideUnknown
	if s, ok := stringField(raw, "taker_side", "side"); ok {
		side = domain.ParseSide(strings.ToLower(s))
	}

	traderID, _ := stringField(raw, "trader_id", "user_id")

	t := domain.Trade{
		TradeID:   id,
		Ticker:    ticker,
		Price:     price,
		Volume:    volume,
		Side:      side,
		Timestamp: ts,
		TraderID:  traderID,
	}
	if err := t.Validate(); err != nil {
		return domain.Trade{}, fmt.Errorf("%w: trade %s: price=%d volume=%d", err, id, price, volume)
	}
	return t, nil
}

func parsePrice(raw RawTrade) (int, error) {
	if v, ok := first(raw, "yes_price", "price"); ok {
		f, err := toFloat(v)
		if err != nil {
			return 0, fmt.Errorf("price: %w", err)
		}
		return int(math.Round(f)), nil
	}
	if v, ok := first(raw, "yes_price_dollars"); ok {
		f, err := toFloat(v)
		if err != nil {
			return 0, fmt.Errorf("yes_price_dollars: %w", err)
		}
		return int(math.Round(f * 100)), nil
	}
	return 0, fmt.Errorf("no price field")
}

// parseTimestamp accepts an ISO-8601 string or epoch seconds/milliseconds.
func parseTimestamp(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
			return t.UTC(), nil
		}
		// Numeric strings fall through to the epoch path.
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
		}
	}

	f, err := toFloat(v)
	if err != nil {
		return time.Time{}, err
	}
	if f <= 0 {
		return time.Time{}, fmt.Errorf("non-positive epoch %v", f)
	}
	if f > epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func first(raw RawTrade, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(raw RawTrade, keys ...string) (string, bool) {
	v, ok := first(raw, keys...)
	if !ok {
		return "", false
	}
	return rawString(v), true
}

func rawString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// NormalizeMarket converts an API market into a domain.Market. The close
// time falls back to the expiration time; unparseable times are left nil.
func NormalizeMarket(m Market) domain.Market {
	out := domain.Market{
		Ticker:      m.Ticker,
		EventTicker: m.EventTicker,
		Title:       m.Title,
		Category:    m.Category,
		Status:      domain.ParseMarketStatus(m.Status),
	}
	for _, s := range []string{m.CloseTime, m.ExpirationTime} {
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t = t.UTC()
			out.CloseTime = &t
			break
		}
	}
	return out
}
