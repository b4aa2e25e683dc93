package feed

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "pulse/contracts/feed/v1"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

// Subprotocol is the feed wire subprotocol negotiated at accept time.
const Subprotocol = "pulse.feed.v1"

// TokenVerifier authenticates a bearer token at connect time and resolves the
// owning user. Topic-level authorization stays with the API server.
type TokenVerifier interface {
	Verify(token string, now time.Time) (userID string, err error)
}

// GatewayConfig tunes the WebSocket gateway.
type GatewayConfig struct {
	WriteTimeout  time.Duration
	SendQueueSize int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	// OriginPatterns authorizes cross-origin browser connects
	// (websocket.Accept host patterns). Same-host is always allowed.
	OriginPatterns []string
}

// DefaultGatewayConfig returns secure defaults suitable for development.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		WriteTimeout:     defaultWriteTimeout,
		SendQueueSize:    defaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		OriginPatterns:   []string{"localhost", "127.0.0.1"},
	}
}

// Gateway is the WebSocket entrypoint for the Pulse feed.
//
// Every connection authenticates with the caller's current access token. A
// stale or undecodable token is rejected before the upgrade: there is no
// silent use of an expired credential. An already-open connection is not
// re-authenticated mid-flight; reconnects present the latest token.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	verifier TokenVerifier
	cfg      GatewayConfig
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, hub *Hub, verifier TokenVerifier, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if cfg.SendQueueSize < minSendQueueSize {
		cfg.SendQueueSize = minSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}
	return &Gateway{log: log, hub: hub, verifier: verifier, cfg: cfg}
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// BearerToken extracts the access token from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the access_token
// query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// HandleWS authenticates and upgrades a request, then pumps hub envelopes to
// the peer until either side goes away.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	token := BearerToken(r)
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := g.verifier.Verify(token, now)
	if err != nil {
		g.log.Info("feed.ws.reject.token", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		g.log.Error("feed.ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		g.log.Info("feed.ws.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := ulid.Make().String()
	client := NewClient(userID, sessionID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent and does NOT close client.Send; hub detach
	// happens before client.Close so broadcasters never race teardown.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Detach(sessionID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.hub.Attach(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := g.writeEnvelope(ctx, conn, env); err != nil {
					g.log.Info("feed.ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				deliveredEnvelopes.Inc()
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("feed.ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// The feed is server-to-client; the read loop only notices the peer
	// going away (or misbehaving) and otherwise discards inbound frames.
	// Liveness of quiet peers is the heartbeat's job, so reads carry no idle
	// deadline of their own.
	for {
		_, _, err := conn.Read(ctx)

		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case ctx.Err() != nil:
				shutdown(websocket.StatusNormalClosure, "context done")
			default:
				g.log.Info("feed.ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) writeEnvelope(ctx context.Context, conn *websocket.Conn, env v1.Envelope) error {
	data, err := envelopeJSON(env)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
