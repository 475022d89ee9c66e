// Package memory provides in-process implementations of the cache
// interfaces for single-instance deployments that run without Redis.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// LockManager is a process-local domain.LockManager with TTL expiry.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	now   func() time.Time
	token uint64
}

type lease struct {
	token   uint64
	expires time.Time
}

func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), now: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if l, ok := lm.held[key]; ok && now.Before(l.expires) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	lm.token++
	tok := lm.token
	lm.held[key] = lease{token: tok, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.held[key]; ok && l.token == tok {
				delete(lm.held, key)
			}
		})
	}, nil
}

// BaselineCache is a TTL map of baselines.
type BaselineCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedBaseline
	now     func() time.Time
}

type cachedBaseline struct {
	b       domain.Baseline
	expires time.Time
}

func NewBaselineCache(ttl time.Duration) *BaselineCache {
	return &BaselineCache{ttl: ttl, entries: make(map[string]cachedBaseline), now: time.Now}
}

func (c *BaselineCache) Set(_ context.Context, b domain.Baseline) error {
	c.mu.Lock()
	c.entries[b.Ticker] = cachedBaseline{b: b, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *BaselineCache) Get(_ context.Context, ticker string) (domain.Baseline, error) {
	c.mu.RLock()
	e, ok := c.entries[ticker]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return domain.Baseline{}, domain.ErrNotFound
	}
	return e.b, nil
}

// SignalBus fans published payloads out to every live subscriber of the
// channel. Slow subscribers drop messages rather than block publishers.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx ends; the channel is then
// closed.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

var (
	_ domain.LockManager   = (*LockManager)(nil)
	_ domain.BaselineCache = (*BaselineCache)(nil)
	_ domain.SignalBus     = (*SignalBus)(nil)
)
