// Package redis implements the bus transport over Redis pub/sub.
//
// PUBLISH returns the number of clients that received the message, which
// gives the zero-subscriber detection the request path relies on.
package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/loyalty/bus"
)

type Transport struct {
	client *goredis.Client
}

// New wraps an existing client. The caller owns the client's lifecycle
// unless it lets Close release it.
func New(client *goredis.Client) *Transport {
	return &Transport{client: client}
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return t.client.Publish(ctx, channel, payload).Result()
}

func (t *Transport) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (bus.Subscription, error) {
	pubsub := t.client.Subscribe(ctx, channel)

	// Block until the server confirms the subscription so a Publish issued
	// right after Subscribe returns cannot miss the receiver.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close() //nolint:errcheck // already failing, nothing to add
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	return &subscription{pubsub: pubsub}, nil
}

func (t *Transport) Close() error {
	return t.client.Close()
}

type subscription struct {
	pubsub *goredis.PubSub
}

// Unsubscribe closes the underlying pub/sub connection, which also ends the
// delivery goroutine.
func (s *subscription) Unsubscribe() error {
	return s.pubsub.Close()
}
