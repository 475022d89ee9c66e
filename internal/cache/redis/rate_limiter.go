package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// DefaultRateLimitKey is shared by every process talking to the exchange.
const DefaultRateLimitKey = "kalshi:api:ratelimit:global"

const (
	rateLimitWindow = time.Second
	rateLimitKeyTTL = 5 * time.Second
	minWaitInterval = 5 * time.Millisecond
)

// RateGate implements domain.RateGate as a sliding window over a Redis
// sorted set, so every process sharing the key stays under one budget.
type RateGate struct {
	rdb    *redis.Client
	script *redis.Script
	key    string
	maxRPS int
	window time.Duration
	now    func() time.Time
}

// NewRateGate creates a shared gate admitting maxRPS requests per second
// across all callers of key. An empty key uses DefaultRateLimitKey.
func NewRateGate(c *Client, key string, maxRPS int) *RateGate {
	if key == "" {
		key = DefaultRateLimitKey
	}
	if maxRPS < 1 {
		maxRPS = 1
	}
	return &RateGate{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
		key:    key,
		maxRPS: maxRPS,
		window: rateLimitWindow,
		now:    time.Now,
	}
}

// Allow tries to admit one request. When denied it returns how long until
// the window has room.
func (g *RateGate) Allow(ctx context.Context) (bool, time.Duration, error) {
	result, err := g.script.Run(ctx, g.rdb,
		[]string{g.key},
		g.now().UnixMicro(),
		g.window.Microseconds(),
		g.maxRPS,
		uuid.NewString(),
		int(rateLimitKeyTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate gate %s: %w", g.key, err)
	}
	if len(result) < 3 {
		return false, 0, fmt.Errorf("redis: rate gate %s: unexpected result length %d", g.key, len(result))
	}
	return result[0] == 1, time.Duration(result[2]) * time.Microsecond, nil
}

// Wait blocks until the request is admitted. It never gives up while ctx is
// live: a denied request sleeps until the oldest admission leaves the window
// and tries again.
func (g *RateGate) Wait(ctx context.Context) error {
	for {
		ok, wait, err := g.Allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if wait < minWaitInterval {
			wait = minWaitInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate gate wait %s: %w", g.key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateGate = (*RateGate)(nil)
