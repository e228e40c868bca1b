package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Broker carries deliveries to the hubs that hold the rooms' members.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
}

// LocalBroker delivers straight into one in-process hub.
type LocalBroker struct {
	hub *Hub
}

// NewLocalBroker creates a LocalBroker.
func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

// Publish implements Broker.
func (b *LocalBroker) Publish(ctx context.Context, d Delivery) error {
	b.hub.Deliver(d)
	return nil
}

// RedisBroker fans deliveries out through a Redis pub/sub channel so that
// every server instance reaches its own connections. Redis preserves the
// order of messages from one publisher, which keeps per-room order intact.
type RedisBroker struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  Logger
}

// NewRedisBroker creates a RedisBroker. Run must be started for the local
// hub to receive anything.
func NewRedisBroker(client *redis.Client, channel string, hub *Hub, logger Logger) *RedisBroker {
	return &RedisBroker{client: client, channel: channel, hub: hub, logger: logger}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish delivery: %w", err)
	}
	return nil
}

// Run subscribes to the channel and hands deliveries to the hub until ctx
// is done. ready, if not nil, is closed once the subscription is active.
func (b *RedisBroker) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.logger.Warn("dropping malformed delivery", "error", err)
				continue
			}
			b.hub.Deliver(d)
		}
	}
}
