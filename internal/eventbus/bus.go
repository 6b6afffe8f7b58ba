// Package eventbus implements the process-wide publish/subscribe structure
// that carries runtime telemetry to the dashboard and tunnel.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarsline/agentrt/pkg/models"
)

const defaultHistorySize = 200

// StreamHandler receives events pushed in emit order. It must not block; a
// handler that cannot keep up is dropped rather than stalling producers.
type StreamHandler func(models.Event) bool

// SyncHandler is invoked inline, synchronously, for a single event type.
type SyncHandler func(models.Event)

// Bus is an in-process pub/sub with bounded history and two subscriber
// classes: push-streaming ("stream") and strictly-typed synchronous ("sync").
type Bus struct {
	mu      sync.Mutex
	history []models.Event
	maxSize int
	nextID  int64
	seq     int64

	streamSubs map[int64]StreamHandler
	syncSubs   map[string][]SyncHandler
}

// New creates an event bus with the given bounded history size (0 uses the
// spec default of 200).
func New(historySize int) *Bus {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &Bus{
		maxSize:    historySize,
		streamSubs: make(map[int64]StreamHandler),
		syncSubs:   make(map[string][]SyncHandler),
	}
}

// Emit publishes an event. Ordering guarantee: a single subscriber observes
// events in emit order; no cross-subscriber ordering is required. Emit never
// blocks on a stream subscriber — a handler returning false (backpressure)
// is removed from the subscriber set.
func (b *Bus) Emit(eventType string, data map[string]any) models.Event {
	b.mu.Lock()
	b.nextID++
	ev := models.Event{ID: b.nextID, Type: eventType, TS: time.Now(), Data: data}
	b.history = append(b.history, ev)
	if len(b.history) > b.maxSize {
		b.history = b.history[len(b.history)-b.maxSize:]
	}

	// snapshot subscriber sets under the lock, invoke outside it so a slow
	// or reentrant handler cannot hold up other emitters.
	stream := make(map[int64]StreamHandler, len(b.streamSubs))
	for id, h := range b.streamSubs {
		stream[id] = h
	}
	sync := append([]SyncHandler(nil), b.syncSubs[eventType]...)
	b.mu.Unlock()

	for id, h := range stream {
		if !h(ev) {
			b.mu.Lock()
			delete(b.streamSubs, id)
			b.mu.Unlock()
		}
	}
	for _, h := range sync {
		h(ev)
	}
	return ev
}

// SubscribeStream registers a push-streaming subscriber and returns an
// unsubscribe function. The handler runs on the emitting goroutine and must
// return quickly; returning false drops the subscription.
func (b *Bus) SubscribeStream(h StreamHandler) (unsubscribe func()) {
	id := atomic.AddInt64(&b.seq, 1)
	b.mu.Lock()
	b.streamSubs[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.streamSubs, id)
		b.mu.Unlock()
	}
}

// SubscribeSync registers a synchronous listener for one event type.
func (b *Bus) SubscribeSync(eventType string, h SyncHandler) {
	b.mu.Lock()
	b.syncSubs[eventType] = append(b.syncSubs[eventType], h)
	b.mu.Unlock()
}

// History returns a snapshot copy of the bounded ring, oldest first.
func (b *Bus) History() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Event, len(b.history))
	copy(out, b.history)
	return out
}

// Len reports the current history size (never exceeds the configured bound).
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}
