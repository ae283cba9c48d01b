// Package bus implements the in-process fan-out used to push doubt lifecycle
// events to live viewers. It replaces the storage-engine change feed the
// platform once relied on with an explicit publish/subscribe abstraction:
// durable state stays pull-recoverable through the list endpoints, so the bus
// is purely a latency optimization and never a system of record.
//
// Delivery contract:
//   - Per-scope ordering: events published to a scope reach each subscriber
//     in publish order.
//   - Non-blocking publish: a slow or stalled subscriber never blocks the
//     publisher; its backlog is bounded and overflow events are dropped
//     (and counted) rather than queued without limit.
//   - No persistence: a client that reconnects re-pulls current state and
//     resumes the live feed.
package bus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event kinds delivered by the bus.
const (
	KindDoubtCreated    = "doubt.created"
	KindDoubtUpdated    = "doubt.updated"
	KindMessageAppended = "message.appended"
)

// Event is a single doubt lifecycle notification. Payload carries the
// affected record (a domain.Doubt or domain.Message) serialized as-is to
// subscribers.
type Event struct {
	Kind     string    `json:"kind"`
	CourseID string    `json:"course_id"`
	DoubtID  string    `json:"doubt_id,omitempty"`
	Payload  any       `json:"payload"`
	At       time.Time `json:"at"`
}

// Scope is a subscription key: either a whole course or a single doubt.
// Use CourseScope or DoubtScope to construct one.
type Scope struct {
	kind string
	id   string
}

// CourseScope keys a subscription to every doubt of a course.
func CourseScope(courseID string) Scope { return Scope{kind: "course", id: courseID} }

// DoubtScope keys a subscription to a single doubt's thread.
func DoubtScope(doubtID string) Scope { return Scope{kind: "doubt", id: doubtID} }

// String renders the scope as "course:<id>" or "doubt:<id>".
func (s Scope) String() string { return s.kind + ":" + s.id }

var (
	busPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Total events published to the fan-out bus.",
		},
		[]string{"kind"},
	)

	busDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		},
		[]string{"kind"},
	)

	busSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_subscribers",
			Help: "Current number of live bus subscriptions.",
		},
	)
)

func init() {
	prometheus.MustRegister(busPublished, busDropped, busSubscribers)
}

// Subscription is a live handle on a scope's event feed. Consume Events()
// until it is closed; call Close (or cancel the owning request) to detach.
type Subscription struct {
	scope Scope
	ch    chan Event
	bus   *Bus
	once  sync.Once
}

// Events returns the receive side of the subscription. The channel is closed
// when the subscription or the bus shuts down.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Scope returns the key this subscription listens on.
func (s *Subscription) Scope() Scope { return s.scope }

// Close detaches the subscription and closes its channel. Safe to call more
// than once and concurrently with publishes.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.unsubscribe(s) })
}

// Bus is the process-scoped fan-out hub. Create one at service start with
// New and tear it down at shutdown with Close; there is deliberately no
// package-level singleton.
type Bus struct {
	mu     sync.Mutex
	subs   map[Scope]map[*Subscription]struct{}
	buffer int
	closed bool
}

// New constructs a Bus whose subscribers each get a buffer of the given
// size. Sizes below 1 are coerced to 1: an unbuffered channel would make
// every publish rendezvous with every consumer.
func New(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		subs:   make(map[Scope]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscription on scope. On a closed bus the
// returned subscription is already drained and closed, so consumers observe
// an immediate end-of-stream instead of an error path.
func (b *Bus) Subscribe(scope Scope) *Subscription {
	sub := &Subscription{scope: scope, ch: make(chan Event, b.buffer), bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		sub.once.Do(func() {}) // neutralize Close
		return sub
	}
	set, ok := b.subs[scope]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[scope] = set
	}
	set[sub] = struct{}{}
	busSubscribers.Inc()
	return sub
}

// Publish delivers ev to every current subscriber of scope. It never blocks:
// subscribers whose buffer is full miss the event and the drop is counted.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(scope Scope, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	busPublished.WithLabelValues(ev.Kind).Inc()
	for sub := range b.subs[scope] {
		select {
		case sub.ch <- ev:
		default:
			busDropped.WithLabelValues(ev.Kind).Inc()
		}
	}
}

// SubscriberCounts returns the number of live subscriptions per scope,
// keyed by the scope's string form. Used by the realtime status endpoint.
func (b *Bus) SubscriberCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(b.subs))
	for scope, set := range b.subs {
		if len(set) > 0 {
			out[scope.String()] = len(set)
		}
	}
	return out
}

// Close shuts the bus down: all subscriptions are detached and their
// channels closed, and later publishes become no-ops. Safe to call twice.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			sub.once.Do(func() {})
			close(sub.ch)
			busSubscribers.Dec()
		}
	}
	b.subs = make(map[Scope]map[*Subscription]struct{})
}

// unsubscribe removes sub from the registry and closes its channel. Runs
// under the bus lock so it never races a concurrent Publish send.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	set, ok := b.subs[sub.scope]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.scope)
	}
	close(sub.ch)
	busSubscribers.Dec()
}
