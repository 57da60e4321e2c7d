// Package eventbus fans state-change events out to live subscribers while
// synchronously persisting every one through Store. This is the one
// component in the system built on the standard library alone rather than a
// pack dependency: the pack's messaging options (NATS, gorilla/websocket) are
// networked brokers meant for cross-process or cross-host delivery, wildly
// disproportionate to same-process pub/sub fan-out.
// Channels + a mutex are the idiomatic Go answer to this exact shape.
package eventbus

import (
	"sync"

	"github.com/agentqueue/agentqueue/internal/domain"
)

// subscriberBufferSize bounds how many events a slow subscriber may queue
// before new events are dropped for it. The UI re-syncs using ListEventsSince
// on any event, so dropped events are never lost, only deferred.
const subscriberBufferSize = 256

// Persister is the narrow slice of Store the bus needs: append-only event
// insertion. Defined here (not imported from store) to avoid a dependency
// cycle — store never needs to know about the bus.
type Persister interface {
	AppendEvent(evt *domain.Event) (int64, error)
}

// Subscription is a bounded channel of events plus a resync flag the
// consumer should check after a read returns with Resynced set — indicating
// this subscriber's buffer overflowed and it missed one or more events.
type Subscription struct {
	C      <-chan domain.Event
	resync *atomicBool
	unsub  func()
}

// Resynced reports whether this subscriber has dropped at least one event
// since subscribing, and resets the flag. The caller should respond by
// re-querying current state (e.g. ListEventsSince) rather than trusting the
// channel alone for a complete history.
func (s *Subscription) Resynced() bool {
	return s.resync.swap(false)
}

// Unsubscribe stops delivery and releases the subscriber's buffer.
func (s *Subscription) Unsubscribe() { s.unsub() }

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomicBool) swap(newVal bool) bool {
	a.mu.Lock()
	old := a.v
	a.v = newVal
	a.mu.Unlock()
	return old
}

type subscriber struct {
	ch     chan domain.Event
	resync *atomicBool
}

// Bus is an in-process many-writer, many-reader publish/subscribe hub.
type Bus struct {
	store Persister

	mu   sync.RWMutex
	subs map[int64]*subscriber
	next int64
}

// New constructs a Bus that persists every published event through store.
func New(store Persister) *Bus {
	return &Bus{store: store, subs: make(map[int64]*subscriber)}
}

// Subscribe registers a new subscriber. It receives only events published
// after this call returns.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	id := b.next
	b.next++
	sub := &subscriber{ch: make(chan domain.Event, subscriberBufferSize), resync: &atomicBool{}}
	b.subs[id] = sub
	b.mu.Unlock()

	return &Subscription{
		C:      sub.ch,
		resync: sub.resync,
		unsub: func() {
			b.mu.Lock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
			b.mu.Unlock()
		},
	}
}

// Publish appends evt to Store and fans it out to all current subscribers.
// A full subscriber buffer drops the event for that subscriber only — never
// blocks the producer — and marks that subscriber for resync. Returns the
// assigned event id from Store, or an error if the append itself failed;
// fan-out never fails the call.
func (b *Bus) Publish(evt domain.Event) (int64, error) {
	id, err := b.store.AppendEvent(&evt)
	if err != nil {
		return 0, err
	}
	evt.ID = id

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.resync.set(true)
		}
	}
	return id, nil
}

// SubscriberCount reports the number of currently active subscribers, for
// diagnostics (e.g. the manual heartbeat trigger's payload).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
