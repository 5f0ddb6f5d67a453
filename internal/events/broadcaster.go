// Package events implements the gateway event broadcaster (C7): a fan-out
// pub-sub of named, unsubscribable, channel-buffered sinks generalizing the
// teacher's ChanSink/MultiSink/CallbackSink event-sink family.
package events

import (
	"sync"

	"github.com/starkbot-agent/core/pkg/models"
)

// Sink receives gateway events. Implementations must be safe to call from
// multiple goroutines and must not block the broadcaster.
type Sink interface {
	Emit(e models.GatewayEvent)
}

// ChanSink delivers events onto a buffered channel, dropping on overflow
// rather than blocking the publisher.
type ChanSink struct {
	ch chan models.GatewayEvent
}

// NewChanSink creates a sink backed by a channel of the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSink{ch: make(chan models.GatewayEvent, buffer)}
}

// C returns the receive side of the sink's channel for consumers.
func (s *ChanSink) C() <-chan models.GatewayEvent { return s.ch }

// Emit sends the event, dropping it if the buffer is full.
func (s *ChanSink) Emit(e models.GatewayEvent) {
	select {
	case s.ch <- e:
	default:
	}
}

// CallbackSink wraps a function as a Sink for inline handling (used by
// tests and by in-process subscribers like the execution tracker).
type CallbackSink struct {
	fn func(models.GatewayEvent)
}

// NewCallbackSink creates a sink that calls fn for each event.
func NewCallbackSink(fn func(models.GatewayEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (s *CallbackSink) Emit(e models.GatewayEvent) {
	if s.fn != nil {
		s.fn(e)
	}
}

// Broadcaster fans events out to a named, dynamically subscribable set of
// sinks. A client subscribes with an opaque id, receives every event
// published afterward, and unsubscribes with that same id.
type Broadcaster struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{sinks: make(map[string]Sink)}
}

// Subscribe registers a sink under the given client id, replacing any prior
// subscription for that id.
func (b *Broadcaster) Subscribe(clientID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[clientID] = sink
}

// Unsubscribe removes a client's subscription, if any.
func (b *Broadcaster) Unsubscribe(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, clientID)
}

// Publish fans the event out to every subscribed sink.
func (b *Broadcaster) Publish(e models.GatewayEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sink := range b.sinks {
		sink.Emit(e)
	}
}

// SubscriberCount returns the number of currently subscribed clients.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}
