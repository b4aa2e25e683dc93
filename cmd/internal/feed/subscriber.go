package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	v1 "pulse/contracts/feed/v1"
	"pulse/cmd/internal/session"

	"github.com/coder/websocket"
)

// Conn is the minimal transport surface the subscriber reads from.
// *websocket.Conn is adapted behind it so tests can inject fakes.
type Conn interface {
	ReadEnvelope(ctx context.Context) (v1.Envelope, error)
	Close() error
}

// DialFunc establishes one feed connection using the supplied bearer token.
type DialFunc func(ctx context.Context, token string) (Conn, error)

// Fetcher is the polling fallback: re-fetch recent events over plain HTTP
// when the persistent connection is unavailable.
type Fetcher interface {
	FetchSince(ctx context.Context, token string, since time.Time) ([]v1.Envelope, error)
}

// ApplyFunc consumes one deduplicated envelope.
type ApplyFunc func(env v1.Envelope)

// SubscriberConfig tunes the per-session feed consumer.
type SubscriberConfig struct {
	// Origin is this client's session id; mirrored envelopes carrying it are
	// the client's own mutations and are suppressed.
	Origin string

	// PollInterval paces the fallback fetches while the socket is down.
	PollInterval time.Duration

	// ReconnectMin/ReconnectMax bound the capped exponential backoff between
	// dial attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// DedupWindow is how many recent event ids are remembered.
	DedupWindow int
}

// DefaultSubscriberConfig returns defaults suitable for interactive clients.
func DefaultSubscriberConfig(origin string) SubscriberConfig {
	return SubscriberConfig{
		Origin:       origin,
		PollInterval: 15 * time.Second,
		ReconnectMin: 1 * time.Second,
		ReconnectMax: 30 * time.Second,
		DedupWindow:  512,
	}
}

// Subscriber is the per-session feed consumer.
//
// It prefers the persistent WebSocket transport and always dials with the
// latest token taken from its session Reader; a token that is absent or
// already expired refuses the dial outright (fail closed) rather than
// presenting a stale credential. While the socket is down it degrades to
// polling, so a broken transport never makes updates invisible — only late.
//
// Envelopes are applied exactly once per event id regardless of how many
// paths deliver them (local publish, broadcast mirror, poll overlap).
type Subscriber struct {
	log     *slog.Logger
	reader  session.Reader
	dial    DialFunc
	fetcher Fetcher
	apply   ApplyFunc
	cfg     SubscriberConfig

	mu       sync.Mutex
	seen     map[string]struct{}
	seenRing []string
	lastTS   time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber constructs a Subscriber. fetcher may be nil, disabling the
// polling fallback; apply must not be nil.
func NewSubscriber(log *slog.Logger, reader session.Reader, dial DialFunc, fetcher Fetcher, apply ApplyFunc, cfg SubscriberConfig) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 1 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 512
	}

	return &Subscriber{
		log:     log,
		reader:  reader,
		dial:    dial,
		fetcher: fetcher,
		apply:   apply,
		cfg:     cfg,
		seen:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// Run starts the consume loop. It returns immediately.
func (s *Subscriber) Run(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Close detaches the subscriber: the transport is abandoned and the loop
// exits. Idempotent.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Subscriber) loop(ctx context.Context) {
	defer s.wg.Done()

	backoff := s.cfg.ReconnectMin

	for {
		if s.stopped(ctx) {
			return
		}

		now := time.Now().UTC()
		snap := s.reader.Snapshot()
		token := snap.AccessToken

		if token == "" || session.IsExpired(token, now) {
			// Fail closed: never present a stale credential. Rotation will
			// replace the token; until then just wait.
			s.log.Debug("feed.sub.token_stale")
			if !s.sleep(ctx, backoff) {
				return
			}
			continue
		}

		conn, err := s.dial(ctx, token)
		if err != nil {
			s.log.Warn("feed.sub.dial.fail", "err", err)
			// Degraded but correct: one poll round per failed dial keeps the
			// feed converging while the socket is down.
			s.pollOnce(ctx, token)
			if !s.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.cfg.ReconnectMax)
			continue
		}

		backoff = s.cfg.ReconnectMin
		s.log.Info("feed.sub.connected")
		s.readFrom(ctx, conn)
		_ = conn.Close()
	}
}

func (s *Subscriber) readFrom(ctx context.Context, conn Conn) {
	// Abandon the blocking read when the subscriber is detached.
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.done:
			cancel()
		case <-readCtx.Done():
		}
	}()

	for {
		env, err := conn.ReadEnvelope(readCtx)
		if err != nil {
			s.log.Info("feed.sub.read.end", "err", err)
			return
		}
		s.deliver(env)
	}
}

// pollOnce runs a single fallback fetch; overlap with socket delivery is
// harmless because deliver dedups by event id.
func (s *Subscriber) pollOnce(ctx context.Context, token string) {
	if s.fetcher == nil {
		return
	}

	s.mu.Lock()
	since := s.lastTS
	s.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
	defer cancel()

	envs, err := s.fetcher.FetchSince(fctx, token, since)
	if err != nil {
		s.log.Debug("feed.sub.poll.fail", "err", err)
		return
	}
	for _, env := range envs {
		s.deliver(env)
	}
}

// deliver applies one envelope after origin suppression and id dedup.
func (s *Subscriber) deliver(env v1.Envelope) {
	if err := env.Validate(); err != nil {
		s.log.Warn("feed.sub.bad_envelope", "err", err)
		return
	}
	if s.cfg.Origin != "" && env.Origin == s.cfg.Origin {
		// Our own mutation, already applied locally.
		return
	}

	s.mu.Lock()
	if _, dup := s.seen[env.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.remember(env.ID)
	if env.TS.After(s.lastTS) {
		s.lastTS = env.TS
	}
	s.mu.Unlock()

	s.apply(env)
}

// remember records an event id, evicting the oldest beyond the window.
// Caller holds s.mu.
func (s *Subscriber) remember(id string) {
	s.seen[id] = struct{}{}
	s.seenRing = append(s.seenRing, id)
	if len(s.seenRing) > s.cfg.DedupWindow {
		old := s.seenRing[0]
		s.seenRing = s.seenRing[1:]
		delete(s.seen, old)
	}
}

func (s *Subscriber) stopped(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *Subscriber) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// WebSocketDialer returns a DialFunc for the gateway at url. client may be
// nil for http.DefaultClient.
func WebSocketDialer(url string, client *http.Client) DialFunc {
	return func(ctx context.Context, token string) (Conn, error) {
		hdr := http.Header{}
		hdr.Set("Authorization", "Bearer "+token)

		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			Subprotocols: []string{Subprotocol},
			HTTPHeader:   hdr,
			HTTPClient:   client,
		})
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(maxFrameBytes)
		return &wsConn{conn: conn}, nil
	}
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadEnvelope(ctx context.Context) (v1.Envelope, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	return decodeEnvelope(data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
