// Package stream is the in-process publish-subscribe channel for
// capture outcomes, quarantine notifications, and anomaly flags.
// Delivery is best-effort and in-order per subscriber; a slow
// subscriber loses its oldest buffered notifications instead of
// blocking the capture path.
package stream

import (
	"sync"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscriber notification buffer.
const DefaultBufferSize = 256

type subscriber struct {
	name string
	ch   chan core.Notification
}

// Bus fans notifications out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	logger *zap.SugaredLogger
}

func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// Subscribe registers a consumer and returns its channel plus an
// unsubscribe function. The name is used for logging and metrics
// only. buffer <= 0 selects DefaultBufferSize.
func (b *Bus) Subscribe(name string, buffer int) (<-chan core.Notification, func()) {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{name: name, ch: make(chan core.Notification, buffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers the notification to every subscriber without
// blocking. When a subscriber's buffer is full its oldest buffered
// notification is dropped to make room.
func (b *Bus) Publish(n core.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- n:
			continue
		default:
		}
		// Buffer full: evict the oldest, then retry once. Another
		// reader may have drained the channel in between, so both
		// selects stay non-blocking.
		select {
		case <-sub.ch:
			metrics.StreamDropped.WithLabelValues(sub.name).Inc()
		default:
		}
		select {
		case sub.ch <- n:
		default:
			metrics.StreamDropped.WithLabelValues(sub.name).Inc()
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
