// Package detector turns stored trades into per-market baselines, signal
// values, composite scores and deduplicated anomalies, and maintains
// trader profiles.
package detector

import "time"

// Config holds detection thresholds and windows. The zero value is not
// useful; start from DefaultConfig.
type Config struct {
	BaselineWindowDays int
	MinBaselineTrades  int
	// CurrentWindow is the trailing window whose summed volume is compared
	// against the baseline.
	CurrentWindow         time.Duration
	VolumeZScoreThreshold float64

	VPINWindowTrades int
	VPINMinTrades    int

	WhaleThresholdUSD float64
	WhaleLookback     time.Duration

	CorrelationLookback  time.Duration
	CorrelationMinTrades int
	CorrelationThreshold float64

	DedupWindow time.Duration
	Severity    SeverityTable
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		BaselineWindowDays:    30,
		MinBaselineTrades:     10,
		CurrentWindow:         time.Hour,
		VolumeZScoreThreshold: 3.0,
		VPINWindowTrades:      50,
		VPINMinTrades:         10,
		WhaleThresholdUSD:     3000,
		WhaleLookback:         24 * time.Hour,
		CorrelationLookback:   time.Hour,
		CorrelationMinTrades:  10,
		CorrelationThreshold:  0.7,
		DedupWindow:           time.Hour,
		Severity:              DefaultSeverityTable(),
	}
}
