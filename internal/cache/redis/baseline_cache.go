package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// DefaultBaselineTTL is how long a cached baseline stays readable.
const DefaultBaselineTTL = 300 * time.Second

// BaselineCache implements domain.BaselineCache using Redis hashes with
// JSON-serialized baselines.
//
// Key schema:
//
//	baseline:{ticker} - hash with field "data" (JSON) and "calculated_at"
type BaselineCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBaselineCache creates a BaselineCache. A zero ttl uses
// DefaultBaselineTTL.
func NewBaselineCache(c *Client, ttl time.Duration) *BaselineCache {
	if ttl <= 0 {
		ttl = DefaultBaselineTTL
	}
	return &BaselineCache{rdb: c.Underlying(), ttl: ttl}
}

func baselineKey(ticker string) string { return "baseline:" + ticker }

// Set stores b under its ticker with the cache TTL.
func (bc *BaselineCache) Set(ctx context.Context, b domain.Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("redis: marshal baseline %s: %w", b.Ticker, err)
	}

	key := baselineKey(b.Ticker)
	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "calculated_at", b.CalculatedAt.UnixMilli())
	pipe.Expire(ctx, key, bc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set baseline %s: %w", b.Ticker, err)
	}
	return nil
}

// Get returns the cached baseline for ticker, or domain.ErrNotFound.
func (bc *BaselineCache) Get(ctx context.Context, ticker string) (domain.Baseline, error) {
	data, err := bc.rdb.HGet(ctx, baselineKey(ticker), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Baseline{}, domain.ErrNotFound
		}
		return domain.Baseline{}, fmt.Errorf("redis: get baseline %s: %w", ticker, err)
	}

	var b domain.Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.Baseline{}, fmt.Errorf("redis: unmarshal baseline %s: %w", ticker, err)
	}
	return b, nil
}

var _ domain.BaselineCache = (*BaselineCache)(nil)
