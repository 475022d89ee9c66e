package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// subscriberBuffer is how many payloads a slow subscriber may lag before
// the forwarding goroutine blocks.
const subscriberBuffer = 128

// SignalBus implements domain.SignalBus using Redis Pub/Sub. Detector runs
// publish new anomalies and job events; the WebSocket hub subscribes.
type SignalBus struct {
	rdb    *redis.Client
	prefix string
}

// NewSignalBus creates a SignalBus backed by the given Client. Channel names
// are namespaced under prefix (e.g. "insiderwatch:").
func NewSignalBus(c *Client, prefix string) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), prefix: prefix}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, sb.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription and returns a read-only
// channel that emits raw byte payloads. The subscription is closed when the
// context is cancelled, and the returned channel is closed with it.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.prefix + channel
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, name)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, name)
	}

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the channel includes glob-style wildcards,
// in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
