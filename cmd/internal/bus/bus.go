package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "pulse/contracts/feed/v1"

	"github.com/oklog/ulid/v2"
)

// Listener consumes one envelope. Listeners run on the publisher's goroutine;
// they must not block for long and must not assume reentrancy across topics.
type Listener func(env v1.Envelope)

// Bus is the in-process publish/subscribe core.
//
// Concurrency guarantees:
//   - Publishes are serialized per topic; listeners observe events in publish
//     order for a single topic. No ordering across topics.
//   - A panicking listener is isolated: remaining listeners still run and the
//     publisher never sees the panic.
//   - Safe under concurrent publishes from multiple call sites.
type Bus struct {
	log    *slog.Logger
	origin string
	bridge *Bridge

	mu     sync.RWMutex
	topics map[v1.Topic]*topicState
	nextID uint64
}

type topicState struct {
	// pubMu serializes publishes for this topic so listeners and the bridge
	// observe a single order.
	pubMu sync.Mutex

	mu   sync.RWMutex
	subs []*Subscription
}

// New constructs a Bus. origin is stamped onto locally produced envelopes so
// the Redis source can suppress this instance's own echoes; bridge may be nil
// when no external transport is configured.
func New(log *slog.Logger, origin string, bridge *Bridge) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:    log,
		origin: origin,
		bridge: bridge,
		topics: make(map[v1.Topic]*topicState),
	}
}

// Origin returns the origin identifier stamped on local publications.
func (b *Bus) Origin() string { return b.origin }

// Subscription is an unsubscribe handle. Unsubscribe is safe to call more
// than once; calls after the first are no-ops.
type Subscription struct {
	bus   *Bus
	topic v1.Topic
	id    uint64
	fn    Listener
	once  sync.Once
}

// Unsubscribe removes the listener from its topic (idempotent).
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
	})
}

// Subscribe registers a listener for topic and returns its handle.
func (b *Bus) Subscribe(topic v1.Topic, fn Listener) *Subscription {
	b.mu.Lock()
	ts := b.topics[topic]
	if ts == nil {
		ts = &topicState{}
		b.topics[topic] = ts
	}
	b.nextID++
	sub := &Subscription{bus: b, topic: topic, id: b.nextID, fn: fn}
	b.mu.Unlock()

	ts.mu.Lock()
	ts.subs = append(ts.subs, sub)
	ts.mu.Unlock()

	return sub
}

func (b *Bus) remove(topic v1.Topic, id uint64) {
	b.mu.RLock()
	ts := b.topics[topic]
	b.mu.RUnlock()
	if ts == nil {
		return
	}

	ts.mu.Lock()
	for i, s := range ts.subs {
		if s.id == id {
			ts.subs = append(ts.subs[:i], ts.subs[i+1:]...)
			break
		}
	}
	ts.mu.Unlock()
}

// Publish marshals payload, wraps it into an envelope stamped with this bus's
// origin, delivers it to local listeners synchronously, and hands it to the
// bridge asynchronously.
//
// The returned error covers payload marshalling only. Listener failures and
// relay failures never surface here: event delivery is additive to, not
// load-bearing for, the mutation that triggered it.
func (b *Bus) Publish(topic v1.Topic, payload any) (v1.Envelope, error) {
	if !topic.Valid() {
		return v1.Envelope{}, fmt.Errorf("unknown topic: %q", topic)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	env := v1.Envelope{
		V:       v1.Version,
		Topic:   topic,
		ID:      ulid.Make().String(),
		Origin:  b.origin,
		TS:      time.Now().UTC(),
		Payload: raw,
	}

	b.dispatch(env, true)
	return env, nil
}

// Republish injects an envelope received from the external transport into the
// local listeners. The envelope keeps its original ID and origin and is NOT
// bridged again, otherwise two instances would relay each other's events in a
// loop.
func (b *Bus) Republish(env v1.Envelope) {
	if err := env.Validate(); err != nil {
		b.log.Warn("bus.republish.invalid", "err", err)
		return
	}
	b.dispatch(env, false)
}

func (b *Bus) dispatch(env v1.Envelope, bridgeIt bool) {
	b.mu.RLock()
	ts := b.topics[env.Topic]
	b.mu.RUnlock()

	var subs []*Subscription
	if ts != nil {
		ts.pubMu.Lock()
		defer ts.pubMu.Unlock()

		ts.mu.RLock()
		subs = append(subs, ts.subs...)
		ts.mu.RUnlock()
	}

	for _, s := range subs {
		b.invoke(s, env)
	}
	publishedTotal.WithLabelValues(string(env.Topic)).Inc()

	if bridgeIt && b.bridge != nil {
		b.bridge.Enqueue(env)
	}
}

// invoke isolates one listener call so a panic cannot reach the publisher or
// starve sibling listeners.
func (b *Bus) invoke(s *Subscription, env v1.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			listenerPanics.WithLabelValues(string(env.Topic)).Inc()
			b.log.Error("bus.listener.panic", "topic", env.Topic, "event_id", env.ID, "panic", fmt.Sprint(r))
		}
	}()
	s.fn(env)
}
