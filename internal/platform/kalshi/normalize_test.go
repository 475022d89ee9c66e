package kalshi

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

func decodeRaw(t *testing.T, s string) RawTrade {
	t.Helper()
	var raw RawTrade
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return raw
}

func TestNormalizeTrade_CurrentShape(t *testing.T) {
	raw := decodeRaw(t, `{"trade_id":"abc","ticker":"KXFED-25","yes_price":62,"count":15,
		"taker_side":"yes","created_time":"2025-03-01T12:30:00Z"}`)

	tr, err := NormalizeTrade(raw, "IGNORED")
	if err != nil {
		t.Fatalf("NormalizeTrade: %v", err)
	}
	want := domain.Trade{
		TradeID:   "abc",
		Ticker:    "KXFED-25",
		Price:     62,
		Volume:    15,
		Side:      domain.SideYes,
		Timestamp: time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
	}
	if tr != want {
		t.Errorf("got %+v, want %+v", tr, want)
	}
}

func TestNormalizeTrade_LegacyShape(t *testing.T) {
	raw := decodeRaw(t, `{"id":"xyz","price":40,"size":3,"side":"no","ts":1740832200,"trader_id":"t-1"}`)

	tr, err := NormalizeTrade(raw, "KXBTC")
	if err != nil {
		t.Fatalf("NormalizeTrade: %v", err)
	}
	if tr.TradeID != "xyz" || tr.Ticker != "KXBTC" || tr.Price != 40 || tr.Volume != 3 || tr.Side != domain.SideNo {
		t.Errorf("unexpected trade %+v", tr)
	}
	if tr.TraderID != "t-1" {
		t.Errorf("TraderID = %q", tr.TraderID)
	}
	if got := tr.Timestamp.Unix(); got != 1740832200 {
		t.Errorf("Timestamp = %d, want seconds epoch 1740832200", got)
	}
}

func TestNormalizeTrade_PriorityOrder(t *testing.T) {
	// yes_price beats price, count beats volume and size, taker_side beats side.
	raw := decodeRaw(t, `{"trade_id":"p","yes_price":10,"price":90,"count":2,"volume":7,"size":9,
		"taker_side":"no","side":"yes","created_time":1740832200}`)

	tr, err := NormalizeTrade(raw, "T")
	if err != nil {
		t.Fatalf("NormalizeTrade: %v", err)
	}
	if tr.Price != 10 || tr.Volume != 2 || tr.Side != domain.SideNo {
		t.Errorf("priority not honoured: %+v", tr)
	}
}

func TestNormalizeTrade_Defaults(t *testing.T) {
	raw := decodeRaw(t, `{"price":55,"created_time":1740832200123}`)

	tr, err := NormalizeTrade(raw, "KXETH")
	if err != nil {
		t.Fatalf("NormalizeTrade: %v", err)
	}
	if tr.Volume != 1 {
		t.Errorf("Volume = %d, want default 1", tr.Volume)
	}
	if tr.Side != domain.SideUnknown {
		t.Errorf("Side = %q, want unknown", tr.Side)
	}
	if tr.TradeID != "KXETH_1740832200123" {
		t.Errorf("TradeID = %q", tr.TradeID)
	}
	if got := tr.Timestamp.UnixMilli(); got != 1740832200123 {
		t.Errorf("Timestamp ms = %d, want millisecond epoch", got)
	}
}

func TestNormalizeTrade_DollarPrice(t *testing.T) {
	raw := decodeRaw(t, `{"trade_id":"d","yes_price_dollars":"0.4700","count":1,"created_time":"2025-01-01T00:00:00Z"}`)
	tr, err := NormalizeTrade(raw, "T")
	if err != nil {
		t.Fatalf("NormalizeTrade: %v", err)
	}
	if tr.Price != 47 {
		t.Errorf("Price = %d, want 47", tr.Price)
	}
}

func TestNormalizeTrade_Rejects(t *testing.T) {
	cases := map[string]string{
		"no time":        `{"trade_id":"a","price":50}`,
		"bad time":       `{"trade_id":"a","price":50,"created_time":"yesterday"}`,
		"price too high": `{"trade_id":"a","price":150,"created_time":1740832200}`,
		"zero volume":    `{"trade_id":"a","price":50,"count":0,"created_time":1740832200}`,
		"no price":       `{"trade_id":"a","created_time":1740832200}`,
	}
	for name, body := range cases {
		_, err := NormalizeTrade(decodeRaw(t, body), "T")
		if !errors.Is(err, domain.ErrInvalidTrade) {
			t.Errorf("%s: expected ErrInvalidTrade, got %v", name, err)
		}
	}
}

func TestNormalizeMarket(t *testing.T) {
	m := NormalizeMarket(Market{Ticker: "KXCPI-1", Title: "CPI", Status: "open", CloseTime: "2025-06-01T00:00:00Z", Category: "Economics"})
	if m.Status != domain.MarketStatusActive {
		t.Errorf("Status = %q", m.Status)
	}
	if m.CloseTime == nil || !m.CloseTime.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CloseTime = %v", m.CloseTime)
	}
	if NormalizeMarket(Market{Status: "settled"}).Status != domain.MarketStatusClosed {
		t.Error("settled should map to closed")
	}
}
