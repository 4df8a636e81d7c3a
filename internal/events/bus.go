// Package events fans inbound transport messages out to independent
// consumers. Each subscriber owns a buffered channel drained on its own
// goroutine, so a slow consumer drops its own messages instead of stalling
// the transport read loop or the other consumers.
package events

import (
	"log/slog"
	"sync"
)

// Message is one inbound transport message, routing key plus raw payload.
type Message struct {
	Topic   string
	Payload []byte
}

type Subscription struct {
	name string
	ch   chan Message
}

// C is the receive side of the subscription.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a named consumer with its own buffer. Interest is
// registered once; delivery survives transport reconnects.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	sub := &Subscription{name: name, ch: make(chan Message, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
	return sub
}

// Publish delivers to every subscriber without blocking. A full buffer means
// that subscriber misses the message; the others still get it.
func (b *Bus) Publish(m Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- m:
		default:
			b.logger.Warn("dropping message for slow consumer",
				"consumer", sub.name, "topic", m.Topic)
		}
	}
}

// Close ends delivery; subscriber channels are closed so consumer loops
// terminate.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
}
