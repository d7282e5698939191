package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one request payload and returns the reply body.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// ErrorMapper converts a handler error into the wire error carried by the
// reply.
type ErrorMapper func(err error) *RemoteError

// DefaultHandlerTimeout bounds how long a single handler may run.
const DefaultHandlerTimeout = 30 * time.Second

// Responder is the authority side of the request/reply contract. It
// subscribes to the events channel, dispatches envelopes by type to
// registered handlers and publishes the reply on the results channel.
type Responder struct {
	transport Transport
	logger    *slog.Logger
	timeout   time.Duration
	mapError  ErrorMapper

	mu       sync.RWMutex
	handlers map[string]Handler
	sub      Subscription
	closed   bool
	wg       sync.WaitGroup
}

// NewResponder creates a Responder over the given transport. Register
// handlers with Handle, then call Start.
func NewResponder(t Transport, opts ...ResponderOption) *Responder {
	r := &Responder{
		transport: t,
		logger:    slog.Default(),
		timeout:   DefaultHandlerTimeout,
		handlers:  make(map[string]Handler),
		mapError: func(err error) *RemoteError {
			return &RemoteError{Message: err.Error(), Code: "internal_error", StatusCode: 500}
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ResponderOption configures a Responder instance.
type ResponderOption func(*Responder)

// WithResponderLogger sets the logger.
func WithResponderLogger(logger *slog.Logger) ResponderOption {
	return func(r *Responder) {
		r.logger = logger
	}
}

// WithHandlerTimeout bounds how long a single handler may run.
func WithHandlerTimeout(d time.Duration) ResponderOption {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithErrorMapper sets how handler errors become wire errors.
func WithErrorMapper(m ErrorMapper) ResponderOption {
	return func(r *Responder) {
		if m != nil {
			r.mapError = m
		}
	}
}

// Handle registers the handler for an envelope type. Later registrations
// for the same type replace earlier ones.
func (r *Responder) Handle(eventType string, h Handler) {
	r.mu.Lock()
	r.handlers[eventType] = h
	r.mu.Unlock()
}

// Start subscribes to the events channel.
func (r *Responder) Start(ctx context.Context) error {
	sub, err := r.transport.Subscribe(ctx, ChannelEvents, r.dispatch)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	return nil
}

// Close stops accepting envelopes and waits for in-flight handlers.
func (r *Responder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	r.wg.Wait()
	return err
}

// dispatch routes one envelope to its handler on a fresh goroutine so a slow
// handler never stalls the transport's delivery loop.
func (r *Responder) dispatch(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("dropping malformed envelope", "error", err)
		return
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	h, ok := r.handlers[env.Type]
	if ok {
		r.wg.Add(1)
	}
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("no handler for event",
			"type", env.Type,
			"correlation_id", env.CorrelationID,
		)
		return
	}

	go func() {
		defer r.wg.Done()
		r.serve(env, h)
	}()
}

func (r *Responder) serve(env Envelope, h Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reply := Reply{CorrelationID: env.CorrelationID}

	result, err := h(ctx, env.Payload)
	if err != nil {
		reply.Error = r.mapError(err)
	} else if data, merr := json.Marshal(result); merr != nil {
		r.logger.Error("marshal reply data",
			"error", merr,
			"type", env.Type,
			"correlation_id", env.CorrelationID,
		)
		reply.Error = r.mapError(merr)
	} else {
		reply.Success = true
		reply.Data = data
	}

	frame, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error("marshal reply", "error", err, "correlation_id", env.CorrelationID)
		return
	}

	if _, err := r.transport.Publish(ctx, ChannelResults, frame); err != nil {
		r.logger.Error("publish reply",
			"error", err,
			"type", env.Type,
			"correlation_id", env.CorrelationID,
		)
	}
}
