package kalshi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Metrics accumulates API usage for one Client.
type Metrics struct {
	mu           sync.Mutex
	total        int64
	successful   int64
	failed       int64
	rateLimited  int64
	retries      int64
	totalLatency time.Duration
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	RateLimited        int64         `json:"rate_limited_requests"`
	Retries            int64         `json:"retries"`
	TotalLatency       time.Duration `json:"total_latency_ns"`
	SuccessRate        float64       `json:"success_rate"`
	AvgLatency         time.Duration `json:"avg_latency_ns"`
}

func (m *Metrics) recordAttempt(r Result, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if r.Outcome == OutcomeSuccess {
		m.successful++
		m.totalLatency += latency
	} else {
		m.failed++
	}
	if r.StatusCode == http.StatusTooManyRequests {
		m.rateLimited++
	}
}

func (m *Metrics) recordCall(attempts int) {
	if attempts <= 1 {
		return
	}
	m.mu.Lock()
	m.retries += int64(attempts - 1)
	m.mu.Unlock()
}

// Snapshot returns the current counters with derived rates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		TotalRequests:      m.total,
		SuccessfulRequests: m.successful,
		FailedRequests:     m.failed,
		RateLimited:        m.rateLimited,
		Retries:            m.retries,
		TotalLatency:       m.totalLatency,
	}
	if m.total > 0 {
		s.SuccessRate = float64(m.successful) / float64(m.total)
	}
	if m.successful > 0 {
		s.AvgLatency = m.totalLatency / time.Duration(m.successful)
	}
	return s
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.successful, m.failed, m.rateLimited, m.retries = 0, 0, 0, 0, 0
	m.totalLatency = 0
}

// LogValue implements slog.LogValuer.
func (s MetricsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("total", s.TotalRequests),
		slog.Int64("successful", s.SuccessfulRequests),
		slog.Int64("failed", s.FailedRequests),
		slog.Int64("rate_limited", s.RateLimited),
		slog.Int64("retries", s.Retries),
		slog.Float64("success_rate", s.SuccessRate),
		slog.Duration("avg_latency", s.AvgLatency),
	)
}
