// Package events implements the in-process, at-most-once pub/sub bus the
// pool publishes lifecycle notifications on (SPEC_FULL.md §6/§9).
//
// There is no Python source to ground this on directly —
// original_source/src/core/events.py does not exist in the retrieval pack,
// only references to event_bus.publish(...) call sites in pool.py — so the
// shape here is built from those call sites plus the redesign note in
// SPEC_FULL.md §9 ("replace the process-wide subscriber list with an
// explicit channel owned by the metrics collector"): Bus is a typed
// channel fan-out rather than a global singleton with registered handler
// callbacks.
package events

import "time"

// Kind identifies one of the fixed pool lifecycle event types.
type Kind string

const (
	KindContainerAcquiredFromPool Kind = "container_acquired_from_pool"
	KindContainerCreatedFresh     Kind = "container_created_fresh"
	KindPoolExhausted             Kind = "pool_exhausted"
	KindPoolWarmedUp              Kind = "pool_warmed_up"
	KindExecutionCompleted        Kind = "execution_completed"
)

// Event is the single envelope type published on the bus; only the field
// relevant to Kind is populated by the publisher, the rest are left zero.
type Event struct {
	Kind      Kind
	At        time.Time
	SandboxID string
	SessionID string
	Language  string
	Reason    string // ContainerCreatedFresh: "pool_empty" | "pool_disabled"
	AcquireMs float64
	Count     int // PoolWarmedUp: how many sandboxes were created this round

	// ExecutionCompleted fields.
	ExecutionID     string
	Success         bool
	ExecutionTimeMs int64
}

// Bus fans a published Event out to every current subscriber. Delivery is
// at-most-once and non-blocking: a subscriber whose channel is full misses
// the event rather than stalling the publisher, matching the best-effort,
// at-most-once delivery described in SPEC_FULL.md §6.
type Bus struct {
	subscribe   chan chan Event
	unsubscribe chan (<-chan Event)
	publish     chan Event
	done        chan struct{}
}

// NewBus starts the bus's dispatch loop in a background goroutine.
func NewBus() *Bus {
	b := &Bus{
		subscribe:   make(chan chan Event),
		unsubscribe: make(chan (<-chan Event)),
		publish:     make(chan Event, 64),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	subscribers := make(map[chan Event]struct{})
	for {
		select {
		case ch := <-b.subscribe:
			subscribers[ch] = struct{}{}
		case target := <-b.unsubscribe:
			for ch := range subscribers {
				if ch == target {
					delete(subscribers, ch)
					close(ch)
					break
				}
			}
		case ev := <-b.publish:
			for ch := range subscribers {
				select {
				case ch <- ev:
				default:
				}
			}
		case <-b.done:
			for ch := range subscribers {
				close(ch)
			}
			return
		}
	}
}

// Subscribe returns a channel that receives every Event published from
// this point on, buffered to avoid a slow consumer blocking the bus.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	b.subscribe <- ch
	return ch
}

// Unsubscribe stops delivery to a channel returned by Subscribe and closes
// it.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.unsubscribe <- ch
}

// Publish sends ev to the dispatch loop without ever blocking the caller;
// when the bus's internal publish buffer is full the event is dropped.
func (b *Bus) Publish(ev Event) {
	select {
	case b.publish <- ev:
	default:
		// Publish buffer full: drop rather than block the orchestrator's
		// hot path, consistent with the bus's at-most-once guarantee.
	}
}

// Close stops the dispatch loop and closes every live subscriber channel.
func (b *Bus) Close() {
	close(b.done)
}
