package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "pulse/contracts/feed/v1"
)

const (
	bridgeDefaultQueueSize    = 1024
	bridgeDefaultRelayTimeout = 5 * time.Second
)

// Sink is one external broadcast destination.
type Sink interface {
	// Name labels the sink in logs and metrics.
	Name() string
	// Relay mirrors one envelope onto the external transport.
	Relay(ctx context.Context, env v1.Envelope) error
}

// Bridge mirrors local publications onto external sinks, best-effort.
//
// Failure isolation is the hard requirement here: each sink runs inside its
// own error boundary, so one unreachable transport can neither fail the
// publishing mutation nor suppress delivery to the remaining sinks.
//
// The queue is bounded; under sustained backpressure envelopes are dropped
// and counted rather than blocking publishers. Clients that miss a broadcast
// reconcile on their next poll or query.
type Bridge struct {
	log          *slog.Logger
	sinks        []Sink
	relayTimeout time.Duration

	queue chan v1.Envelope
	done  chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBridge constructs a Bridge and starts its relay worker.
// queueSize and relayTimeout fall back to safe defaults when non-positive.
func NewBridge(log *slog.Logger, queueSize int, relayTimeout time.Duration, sinks ...Sink) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = bridgeDefaultQueueSize
	}
	if relayTimeout <= 0 {
		relayTimeout = bridgeDefaultRelayTimeout
	}

	br := &Bridge{
		log:          log,
		sinks:        sinks,
		relayTimeout: relayTimeout,
		queue:        make(chan v1.Envelope, queueSize),
		done:         make(chan struct{}),
	}

	br.wg.Add(1)
	go br.worker()

	return br
}

// Enqueue hands an envelope to the relay worker without blocking.
// Envelopes are dropped when the bridge is stopped or the queue is full.
func (br *Bridge) Enqueue(env v1.Envelope) {
	select {
	case <-br.done:
		return
	default:
	}

	select {
	case br.queue <- env:
	default:
		bridgeDropped.Inc()
		br.log.Warn("bridge.queue.full", "topic", env.Topic, "event_id", env.ID)
	}
}

// Close stops the relay worker. Queued envelopes that have not been relayed
// yet are dropped; the bridge is best-effort by contract. Idempotent.
func (br *Bridge) Close() {
	br.closeOnce.Do(func() {
		close(br.done)
	})
	br.wg.Wait()
}

func (br *Bridge) worker() {
	defer br.wg.Done()

	for {
		select {
		case <-br.done:
			return
		case env := <-br.queue:
			br.relay(env)
		}
	}
}

// relay fans one envelope out to every sink, each inside its own boundary.
func (br *Bridge) relay(env v1.Envelope) {
	for _, s := range br.sinks {
		br.relayOne(s, env)
	}
}

func (br *Bridge) relayOne(s Sink, env v1.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			relayTotal.WithLabelValues(s.Name(), "panic").Inc()
			br.log.Error("bridge.relay.panic", "sink", s.Name(), "topic", env.Topic, "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), br.relayTimeout)
	defer cancel()

	if err := s.Relay(ctx, env); err != nil {
		relayTotal.WithLabelValues(s.Name(), "fail").Inc()
		br.log.Warn("bridge.relay.fail", "sink", s.Name(), "topic", env.Topic, "event_id", env.ID, "err", err)
		return
	}

	relayTotal.WithLabelValues(s.Name(), "ok").Inc()
}
