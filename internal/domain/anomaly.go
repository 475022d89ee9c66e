package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies an anomaly score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (0) to critical (3). Unknown values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() < 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Anomaly type tags.
const (
	AnomalyVolume      = "volume"
	AnomalyWhale       = "whale"
	AnomalyCorrelation = "price_volume_correlation"
)

// Anomaly is a detected suspicious pattern on a market.
type Anomaly struct {
	ID         int64          `json:"id"`
	Ticker     string         `json:"ticker"`
	Type       string         `json:"type"`
	Score      float64        `json:"score"`
	Severity   Severity       `json:"severity"`
	Details    map[string]any `json:"details"`
	DetectedAt time.Time      `json:"detected_at"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// AnomalyFilter narrows anomaly listings.
type AnomalyFilter struct {
	Ticker   string
	Severity Severity
	Since    *time.Time
	Resolved *bool
	Limit    int
	Offset   int
}
