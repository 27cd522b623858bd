// Package bus fans domain and job-queue events out to in-process listeners.
// Delivery is best effort: a listener that falls behind loses events and the
// loss is counted on its subscription.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the per-subscription queue depth used by Subscribe.
const DefaultBufferSize = 256

type Event struct {
	Topic       string
	Payload     any
	PublishedAt time.Time
}

type Subscription struct {
	id      uint64
	prefix  string
	ch      chan Event
	dropped atomic.Uint64
}

func (s *Subscription) Ch() <-chan Event { return s.ch }

func (s *Subscription) Prefix() string { return s.prefix }

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) matches(topic string) bool {
	return s.prefix == "" || strings.HasPrefix(topic, s.prefix)
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	now    func() time.Time
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription), now: time.Now}
}

// Subscribe listens on every topic starting with prefix; "" matches all.
func (b *Bus) Subscribe(prefix string) *Subscription {
	return b.SubscribeSize(prefix, DefaultBufferSize)
}

// SubscribeSize is Subscribe with an explicit buffer depth. On a closed bus
// the returned subscription's channel is already closed.
func (b *Bus) SubscribeSize(prefix string, size int) *Subscription {
	if size < 1 {
		size = 1
	}
	sub := &Subscription{prefix: prefix, ch: make(chan Event, size)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe detaches sub and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish hands the event to every matching subscriber without blocking and
// returns how many received it.
func (b *Bus) Publish(topic string, payload any) int {
	ev := Event{Topic: topic, Payload: payload, PublishedAt: b.now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Close detaches and closes every subscription. Later publishes are no-ops.
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

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
