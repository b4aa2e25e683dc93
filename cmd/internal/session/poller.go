package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TickFunc is one poll-tick callback.
type TickFunc func(ctx context.Context, now time.Time)

// Poller drives the session manager at a fixed interval.
//
// It is deliberately dumb: one goroutine, one tick at a time, deterministic
// shutdown. Single-flight for rotations is enforced by the state machine
// (ticks during StateRotating are no-ops), not by the poller.
type Poller struct {
	log      *slog.Logger
	interval time.Duration
	tick     TickFunc

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller constructs a Poller. A non-positive interval falls back to 5s.
func NewPoller(log *slog.Logger, interval time.Duration, tick TickFunc) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		log:      log,
		interval: interval,
		tick:     tick,
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. It returns immediately.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		t := time.NewTicker(p.interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case now := <-t.C:
				p.tick(ctx, now.UTC())
			}
		}
	}()
}

// Stop signals the loop to exit without waiting for it. Safe to call from
// inside a tick. Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

// Close stops the loop and waits for it to exit. Must not be called from
// inside a tick. Idempotent.
func (p *Poller) Close() {
	p.Stop()
	p.wg.Wait()
}
