package detector

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Signals are the inputs to the composite score.
type Signals struct {
	ZScore      float64
	VPIN        float64
	DaysToClose int
	Correlation float64
	WhaleCount  int
}

// Score combines signals into one number:
//
//	clamp(z-2, 0, 5) + clamp(3*vpin, 0, 3) + urgency + clamp(3*|corr|, 0, 3) + clamp(1.5*whales, 0, 3)
//
// The total is not clamped.
func Score(s Signals) float64 {
	return clamp(s.ZScore-2, 0, 5) +
		clamp(s.VPIN*3, 0, 3) +
		Urgency(s.DaysToClose) +
		clamp(math.Abs(s.Correlation)*3, 0, 3) +
		clamp(float64(s.WhaleCount)*1.5, 0, 3)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// SeverityTable holds the minimum score for each band above low.
type SeverityTable struct {
	Critical float64 `toml:"critical"`
	High     float64 `toml:"high"`
	Medium   float64 `toml:"medium"`
}

// DefaultSeverityTable is 8 / 7 / 5.
func DefaultSeverityTable() SeverityTable {
	return SeverityTable{Critical: 8, High: 7, Medium: 5}
}

// Classify maps a score to its severity band.
func (t SeverityTable) Classify(score float64) domain.Severity {
	switch {
	case score >= t.Critical:
		return domain.SeverityCritical
	case score >= t.High:
		return domain.SeverityHigh
	case score >= t.Medium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Validate checks the bands are ordered.
func (t SeverityTable) Validate() error {
	if !(t.Medium <= t.High && t.High <= t.Critical) {
		return fmt.Errorf("severity thresholds must satisfy medium <= high <= critical (got %v/%v/%v)",
			t.Medium, t.High, t.Critical)
	}
	return nil
}
