package bus

import "context"

// Transport moves raw frames between processes over named channels.
//
// Publish returns the number of subscribers that received the frame; a zero
// count is how a request with no listening authority is detected. Subscribe
// registers a handler invoked once per frame until the subscription is
// released. Handlers must not block.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (Subscription, error)
	Close() error
}

// Subscription is a live channel registration.
type Subscription interface {
	Unsubscribe() error
}
