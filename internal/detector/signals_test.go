package detector

import (
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sided(yes, no int) []domain.Trade {
	var out []domain.Trade
	for i := range yes {
		out = append(out, domain.Trade{TradeID: "y" + string(rune('a'+i%26)), Price: 50, Volume: 1, Side: domain.SideYes})
	}
	for i := range no {
		out = append(out, domain.Trade{TradeID: "n" + string(rune('a'+i%26)), Price: 50, Volume: 1, Side: domain.SideNo})
	}
	return out
}

func TestVPIN(t *testing.T) {
	cases := []struct {
		name   string
		trades []domain.Trade
		want   float64
	}{
		{"40 yes 10 no", sided(40, 10), 0.6},
		{"balanced", sided(25, 25), 0},
		{"one sided", sided(30, 0), 1},
		{"too few trades", sided(9, 0), 0},
		{"only unknown side", func() []domain.Trade {
			tr := sided(12, 0)
			for i := range tr {
				tr[i].Side = domain.SideUnknown
			}
			return tr
		}(), 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := VPIN(c.trades, 10)
			if math.Abs(got-c.want) > 1e-12 {
				t.Errorf("VPIN = %v, want %v", got, c.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("VPIN %v out of [0,1]", got)
			}
		})
	}
}

func TestVPIN_RangeWithMixedVolumes(t *testing.T) {
	var trades []domain.Trade
	for i := range 50 {
		side := domain.SideYes
		if i%3 == 0 {
			side = domain.SideNo
		}
		trades = append(trades, domain.Trade{Volume: int64(1 + i*7%13), Side: side})
	}
	if v := VPIN(trades, 10); v < 0 || v > 1 {
		t.Fatalf("VPIN %v out of range", v)
	}
}

func TestZScore_ZeroStdIsZero(t *testing.T) {
	var trades []domain.Trade
	for range 30 {
		trades = append(trades, domain.Trade{Volume: 10, Price: 50})
	}
	b, ok := ComputeBaseline("T", trades, 30, 10, t0)
	if !ok {
		t.Fatal("expected baseline")
	}
	if b.StdVolume != 0 || b.AvgVolume != 10 {
		t.Fatalf("baseline = %+v", b)
	}
	z := ZScore(10, b)
	if z != 0 {
		t.Errorf("z = %v, want 0", z)
	}
	if z >= DefaultConfig().VolumeZScoreThreshold {
		t.Error("flat history must not be anomalous")
	}
	if ZScore(1000, b) != 0 {
		t.Error("zero std must disable the z-score")
	}
}

func TestComputeBaseline(t *testing.T) {
	if _, ok := ComputeBaseline("T", make([]domain.Trade, 9), 30, 10, t0); ok {
		t.Error("9 trades should be insufficient")
	}

	var trades []domain.Trade
	for i := range 10 {
		v := int64(5)
		if i%2 == 0 {
			v = 15
		}
		trades = append(trades, domain.Trade{Volume: v, Price: 40 + i%2*20})
	}
	b, ok := ComputeBaseline("T", trades, 30, 10, t0)
	if !ok {
		t.Fatal("expected baseline")
	}
	// Population std of {15,5,...}: mean 10, every deviation 5.
	if b.AvgVolume != 10 || b.StdVolume != 5 {
		t.Errorf("volume stats = %v / %v", b.AvgVolume, b.StdVolume)
	}
	if b.AvgPrice != 50 || b.StdPrice != 10 {
		t.Errorf("price stats = %v / %v", b.AvgPrice, b.StdPrice)
	}
	if want := 10.0 / (30 * 24); b.AvgTradesPerHour != want {
		t.Errorf("trades/hour = %v, want %v", b.AvgTradesPerHour, want)
	}
	if got := ZScore(25, b); got != 3 {
		t.Errorf("ZScore(25) = %v, want 3", got)
	}
}

func TestWhaleTrades(t *testing.T) {
	big := domain.Trade{TradeID: "w", TraderID: "tr", Price: 80, Volume: 100, Side: domain.SideYes, Timestamp: t0}
	if big.USDValue() != 80.0 {
		t.Fatalf("USDValue = %v, want 80", big.USDValue())
	}
	small := domain.Trade{TradeID: "s", Price: 10, Volume: 10}
	edge := domain.Trade{TradeID: "e", Price: 50, Volume: 100} // exactly $50

	got := WhaleTrades([]domain.Trade{big, small, edge}, 50)
	if len(got) != 2 {
		t.Fatalf("got %d whales, want 2", len(got))
	}
	if got[0].TradeID != "w" || got[0].ValueUSD != 80 || got[0].TraderID != "tr" {
		t.Errorf("whale = %+v", got[0])
	}
	if got[1].TradeID != "e" {
		t.Errorf("threshold must be inclusive")
	}
}

func TestPriceVolumeCorrelation(t *testing.T) {
	var rising []domain.Trade
	for i := range 12 {
		rising = append(rising, domain.Trade{Price: 30 + i, Volume: int64(10 + 2*i)})
	}
	r, ok := PriceVolumeCorrelation(rising, 10)
	if !ok || math.Abs(r-1) > 1e-9 {
		t.Errorf("perfectly linear: r=%v ok=%v", r, ok)
	}

	flat := make([]domain.Trade, 12)
	for i := range flat {
		flat[i] = domain.Trade{Price: 50, Volume: int64(i + 1)}
	}
	if r, ok := PriceVolumeCorrelation(flat, 10); !ok || r != 0 {
		t.Errorf("zero price variance: r=%v ok=%v", r, ok)
	}

	if _, ok := PriceVolumeCorrelation(rising[:9], 10); ok {
		t.Error("9 trades should be insufficient")
	}
}

func TestUrgency(t *testing.T) {
	cases := map[int]float64{-3: 4, 0: 4, 1: 3.5, 2: 3, 3: 3, 5: 2, 7: 2, 10: 1, 14: 1, 15: 0, domain.NoCloseDays: 0}
	for days, want := range cases {
		if got := Urgency(days); got != want {
			t.Errorf("Urgency(%d) = %v, want %v", days, got, want)
		}
	}
}
