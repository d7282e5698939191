// Package bus implements request/reply messaging over a publish/subscribe
// transport.
//
// Requests are published on the events channel wrapped in an Envelope
// carrying a random correlation id; the remote authority publishes a Reply
// on the results channel with the same id. Each request resolves exactly
// once: with the reply, with ErrTimeout, with ErrNoSubscribers when nothing
// is listening, or with ErrClosed on shutdown.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel names shared by requesters and responders.
const (
	ChannelEvents  = "events"
	ChannelResults = "results"
)

// DefaultTimeout bounds how long Request waits for a reply.
const DefaultTimeout = 30 * time.Second

var (
	ErrTimeout       = errors.New("bus: request timed out")
	ErrNoSubscribers = errors.New("bus: no subscribers")
	ErrNotStarted    = errors.New("bus: not started")
	ErrClosed        = errors.New("bus: closed")
)

// Envelope is the request frame published on the events channel.
type Envelope struct {
	CorrelationID string          `json:"correlationId"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Reply is the response frame published on the results channel.
type Reply struct {
	CorrelationID string          `json:"correlationId"`
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *RemoteError    `json:"error,omitempty"`
}

// RemoteError is a failure reported by the remote authority. It doubles as
// the wire shape of the Reply error field.
type RemoteError struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bus: remote error %s: %s", e.Code, e.Message)
}

// Bus is the requester side of the request/reply contract. It owns the set
// of pending correlation ids; every registered waiter is resolved exactly
// once, whichever of reply, timeout, cancellation or shutdown happens first.
type Bus struct {
	transport Transport
	logger    *slog.Logger
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan *Reply
	sub     Subscription
	closed  bool
}

// New creates a Bus over the given transport. Start must be called before
// the first Request so replies can be received.
func New(t Transport, opts ...Option) *Bus {
	b := &Bus{
		transport: t,
		logger:    slog.Default(),
		timeout:   DefaultTimeout,
		pending:   make(map[string]chan *Reply),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Option configures a Bus instance.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithTimeout sets how long Request waits for a reply.
func WithTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// Start subscribes to the results channel.
func (b *Bus) Start(ctx context.Context) error {
	sub, err := b.transport.Subscribe(ctx, ChannelResults, b.handleReply)
	if err != nil {
		return fmt.Errorf("bus: subscribe results: %w", err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	return nil
}

// Request publishes an envelope on the events channel and waits for the
// correlated reply. A publish that reaches zero subscribers fails
// immediately with ErrNoSubscribers and leaves no pending waiter behind.
// Remote failures surface as *RemoteError.
func (b *Bus) Request(ctx context.Context, eventType string, payload any) (json.RawMessage, error) {
	frame, correlationID, err := b.envelope(eventType, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Reply, 1)

	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return nil, ErrClosed
	case b.sub == nil:
		b.mu.Unlock()
		return nil, ErrNotStarted
	}
	b.pending[correlationID] = ch
	b.mu.Unlock()

	receivers, err := b.transport.Publish(ctx, ChannelEvents, frame)
	if err != nil {
		b.removeWaiter(correlationID)
		return nil, fmt.Errorf("bus: publish %s: %w", eventType, err)
	}
	if receivers == 0 {
		b.removeWaiter(correlationID)
		return nil, fmt.Errorf("%w: %s", ErrNoSubscribers, eventType)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return replyResult(reply)

	case <-timer.C:
		if !b.removeWaiter(correlationID) {
			// A reply won the race against the timeout; it is already
			// buffered in the channel.
			return replyResult(<-ch)
		}
		return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, b.timeout, eventType)

	case <-ctx.Done():
		if !b.removeWaiter(correlationID) {
			return replyResult(<-ch)
		}
		return nil, ctx.Err()
	}
}

// Publish sends a fire-and-forget envelope on the events channel. No waiter
// is registered and a zero receiver count is not an error.
func (b *Bus) Publish(ctx context.Context, eventType string, payload any) error {
	frame, _, err := b.envelope(eventType, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := b.transport.Publish(ctx, ChannelEvents, frame); err != nil {
		return fmt.Errorf("bus: publish %s: %w", eventType, err)
	}
	return nil
}

// Close fails every outstanding waiter with ErrClosed, stops accepting
// requests and releases the results subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	waiters := b.pending
	b.pending = make(map[string]chan *Reply)
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	// Closing the channel resolves the waiter with a nil reply, which
	// Request translates to ErrClosed.
	for _, ch := range waiters {
		close(ch)
	}

	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

func (b *Bus) envelope(eventType string, payload any) (frame []byte, correlationID string, err error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("bus: marshal %s payload: %w", eventType, err)
	}

	env := Envelope{
		CorrelationID: uuid.NewString(),
		Type:          eventType,
		Payload:       body,
		Timestamp:     time.Now().UTC(),
	}

	frame, err = json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("bus: marshal %s envelope: %w", eventType, err)
	}
	return frame, env.CorrelationID, nil
}

// handleReply resolves the waiter registered for the reply's correlation id.
// Deleting the pending entry is the claim point: whoever removes it owns the
// resolution, so a reply racing a timeout can never resolve a request twice.
func (b *Bus) handleReply(payload []byte) {
	var reply Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		b.logger.Warn("dropping malformed reply", "error", err)
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[reply.CorrelationID]
	if ok {
		delete(b.pending, reply.CorrelationID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("dropping reply with no waiter",
			"correlation_id", reply.CorrelationID,
			"success", reply.Success,
		)
		return
	}

	ch <- &reply
}

// Pending reports the number of in-flight requests.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bus) removeWaiter(correlationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pending[correlationID]; !ok {
		return false
	}
	delete(b.pending, correlationID)
	return true
}

func replyResult(reply *Reply) (json.RawMessage, error) {
	if reply == nil {
		return nil, ErrClosed
	}
	if !reply.Success {
		if reply.Error != nil {
			return nil, reply.Error
		}
		return nil, &RemoteError{Message: "request failed", Code: "internal_error", StatusCode: 500}
	}
	return reply.Data, nil
}
