// Package redis implements the shared rate gate, job locks, baseline cache
// and signal bus on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDialTimeout bounds the startup ping so an unreachable server is
// reported quickly and the caller can fall back to in-process components.
const DefaultDialTimeout = 2 * time.Second

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	TLSEnabled  bool
	DialTimeout time.Duration
}

// Client is the connection shared by every Redis-backed component of one
// process: the rate gate, job locks, baseline cache and signal bus.
type Client struct {
	rdb  *redis.Client
	addr string
}

// New connects and pings the server once. A failed ping closes the
// connection and returns an error naming the address.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = DefaultDialTimeout
	}
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: dial,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts), addr: cfg.Addr}
	pingCtx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Addr is the server address the client was built for.
func (c *Client) Addr() string { return c.addr }

// Ping backs the "redis" entry of the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the go-redis client for the components in this package
// and for tests.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
