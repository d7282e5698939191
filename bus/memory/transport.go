package memory

import (
	"context"
	"sync"

	"github.com/xraph/loyalty/bus"
)

// Transport is an in-process pub/sub fanout. Frames are delivered to each
// subscriber on its own goroutine, mirroring the asynchronous delivery of a
// networked broker.
type Transport struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(payload []byte)
	nextID int
	closed bool
}

func New() *Transport {
	return &Transport{
		subs: make(map[string]map[int]func(payload []byte)),
	}
}

func (t *Transport) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return 0, bus.ErrClosed
	}
	handlers := make([]func(payload []byte), 0, len(t.subs[channel]))
	for _, h := range t.subs[channel] {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		go h(payload)
	}
	return int64(len(handlers)), nil
}

func (t *Transport) Subscribe(_ context.Context, channel string, handler func(payload []byte)) (bus.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, bus.ErrClosed
	}

	if t.subs[channel] == nil {
		t.subs[channel] = make(map[int]func(payload []byte))
	}
	t.nextID++
	id := t.nextID
	t.subs[channel][id] = handler

	return &subscription{transport: t, channel: channel, id: id}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.subs = make(map[string]map[int]func(payload []byte))
	return nil
}

type subscription struct {
	transport *Transport
	channel   string
	id        int
}

func (s *subscription) Unsubscribe() error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()

	if handlers, ok := s.transport.subs[s.channel]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.transport.subs, s.channel)
		}
	}
	return nil
}
