// Package eventbus is an in-process publish/subscribe bus. Each subscriber owns a
// buffered channel; Publish never blocks and drops an event for a subscriber whose
// buffer is full. Nothing is persisted.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Event is a single published message.
type Event struct {
	Topic   string
	Payload any
}

// EventBus publishes to and subscribes on named topics.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(topic string) <-chan Event
}

// DefaultBufferSize is the per-subscriber buffer.
const DefaultBufferSize = 100

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer. Values below 1 are ignored.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger reports dropped events.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.log = l.With().Str("component", "eventbus").Logger() }
}

// Bus is the in-memory EventBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	buffer      int
	dropped     atomic.Int64
	log         zerolog.Logger
}

// New returns an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string][]chan Event),
		buffer:      DefaultBufferSize,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber for topic. The caller must drain the channel.
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers payload to every current subscriber of topic.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload}
	b.mu.RLock()
	subs := b.subscribers[topic]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
			b.log.Warn().Str("topic", topic).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Dropped returns how many deliveries were dropped since the bus was created.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
