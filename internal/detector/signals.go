package detector

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// ComputeBaseline derives volume and price statistics from trades. It
// reports ok=false when there are fewer than minTrades trades. Standard
// deviations are population deviations.
func ComputeBaseline(ticker string, trades []domain.Trade, windowDays, minTrades int, now time.Time) (domain.Baseline, bool) {
	if len(trades) < minTrades || len(trades) == 0 {
		return domain.Baseline{}, false
	}

	volumes := make([]float64, len(trades))
	prices := make([]float64, len(trades))
	for i, t := range trades {
		volumes[i] = float64(t.Volume)
		prices[i] = float64(t.Price)
	}
	avgVol, stdVol := stat.PopMeanStdDev(volumes, nil)
	avgPrice, stdPrice := stat.PopMeanStdDev(prices, nil)

	return domain.Baseline{
		Ticker:           ticker,
		AvgVolume:        avgVol,
		StdVolume:        nonNegative(stdVol),
		AvgPrice:         avgPrice,
		StdPrice:         nonNegative(stdPrice),
		AvgTradesPerHour: float64(len(trades)) / float64(windowDays*24),
		SampleSize:       len(trades),
		WindowDays:       windowDays,
		CalculatedAt:     now,
	}, true
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// ZScore is (current - mean) / std of the baseline volume. A zero standard
// deviation yields 0.
func ZScore(current float64, b domain.Baseline) float64 {
	if b.StdVolume <= 0 {
		return 0
	}
	return (current - b.AvgVolume) / b.StdVolume
}

// VPIN is the order-flow imbalance |buy - sell| / (buy + sell) over trades,
// where yes-side volume is buy and no-side volume is sell. It returns 0
// with fewer than minTrades trades or no sided volume.
func VPIN(trades []domain.Trade, minTrades int) float64 {
	if len(trades) < minTrades || len(trades) == 0 {
		return 0
	}
	var buy, sell int64
	for _, t := range trades {
		switch t.Side {
		case domain.SideYes:
			buy += t.Volume
		case domain.SideNo:
			sell += t.Volume
		}
	}
	total := buy + sell
	if total == 0 {
		return 0
	}
	return math.Abs(float64(buy-sell)) / float64(total)
}

// WhaleTrade is a single trade at or above the whale threshold.
type WhaleTrade struct {
	TradeID   string      `json:"trade_id"`
	TraderID  string      `json:"trader_id,omitempty"`
	Side      domain.Side `json:"side"`
	Volume    int64       `json:"volume"`
	Price     int         `json:"price"`
	ValueUSD  float64     `json:"value_usd"`
	Timestamp time.Time   `json:"timestamp"`
}

// WhaleTrades returns the trades whose USD value meets thresholdUSD.
func WhaleTrades(trades []domain.Trade, thresholdUSD float64) []WhaleTrade {
	var out []WhaleTrade
	for _, t := range trades {
		v := t.USDValue()
		if v < thresholdUSD {
			continue
		}
		out = append(out, WhaleTrade{
			TradeID:   t.TradeID,
			TraderID:  t.TraderID,
			Side:      t.Side,
			Volume:    t.Volume,
			Price:     t.Price,
			ValueUSD:  v,
			Timestamp: t.Timestamp,
		})
	}
	return out
}

// PriceVolumeCorrelation is the Pearson correlation between trade prices
// and volumes. ok is false with fewer than minTrades trades; a series with
// zero variance gives (0, true).
func PriceVolumeCorrelation(trades []domain.Trade, minTrades int) (float64, bool) {
	if len(trades) < minTrades || len(trades) < 2 {
		return 0, false
	}
	prices := make([]float64, len(trades))
	volumes := make([]float64, len(trades))
	for i, t := range trades {
		prices[i] = float64(t.Price)
		volumes[i] = float64(t.Volume)
	}
	if stat.Variance(prices, nil) == 0 || stat.Variance(volumes, nil) == 0 {
		return 0, true
	}
	r := stat.Correlation(prices, volumes, nil)
	if math.IsNaN(r) {
		return 0, true
	}
	return r, true
}

// Urgency scores proximity to market close.
func Urgency(daysToClose int) float64 {
	switch {
	case daysToClose <= 0:
		return 4.0
	case daysToClose <= 1:
		return 3.5
	case daysToClose <= 3:
		return 3.0
	case daysToClose <= 7:
		return 2.0
	case daysToClose <= 14:
		return 1.0
	default:
		return 0
	}
}
