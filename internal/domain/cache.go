package domain

import (
	"context"
	"time"
)

// RateGate admits outbound requests against a request budget. Wait blocks
// until the caller may proceed or ctx is done.
type RateGate interface {
	Wait(ctx context.Context) error
}

// BaselineCache is a short-lived read-through copy of recent baselines.
type BaselineCache interface {
	Set(ctx context.Context, b Baseline) error
	Get(ctx context.Context, ticker string) (Baseline, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channels.
const (
	ChannelAnomalies = "anomalies"
	ChannelJobs      = "jobs"
)
