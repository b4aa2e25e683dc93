// Package main provides a CI-friendly smoke test for the Pulse feed.
//
// It validates:
//   - handshake + subprotocol selection with a bearer token
//   - notification create -> notification_created fanout
//   - toggle read -> notification_updated fanout
//   - replay endpoint returns the events for the polling fallback
//   - expired tokens are rejected before the upgrade
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "pulse/contracts/feed/v1"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

const (
	subprotocol  = "pulse.feed.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/feed", "WebSocket feed URL")
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "JSON API base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token   = flag.String("token", "", "Access token (skips minting)")
		secret  = flag.String("secret", "", "HS256 secret to mint a token with")
		user    = flag.String("user", "smoke-user", "Subject for minted tokens")
		text    = flag.String("text", "pulse smoke ping", "Notification message to create")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	access := *token
	if access == "" {
		if *secret == "" {
			fatalf("either -token or -secret is required")
		}
		access = mustMint(*secret, *user, 5*time.Minute)
	}

	root := context.Background()
	before := time.Now().UTC().Add(-time.Second)

	if *secret != "" {
		mustRejectExpired(root, *wsURL, *origin, *secret, *user, *timeout)
		if *verbose {
			fmt.Println("expired token rejected before upgrade")
		}
	}

	c := mustConnect(root, *wsURL, *origin, access, *timeout)
	defer closeWS(c.conn)

	created := mustCreateNotification(root, *apiURL, access, *text, *timeout)
	if *verbose {
		fmt.Printf("created notification id=%s\n", created.ID)
	}

	env := c.mustReadUntilTopic(root, v1.TopicNotificationCreated, *timeout)
	assertNotification(env, created.ID, *text, false)

	mustToggle(root, *apiURL, access, created.ID, *timeout)
	env = c.mustReadUntilTopic(root, v1.TopicNotificationUpdated, *timeout)
	assertNotification(env, created.ID, *text, true)

	mustReplayContains(root, *apiURL, access, before, created.ID, *timeout)

	fmt.Printf("OK: notification_id=%s topics=[%s %s] replay=ok\n",
		created.ID, v1.TopicNotificationCreated, v1.TopicNotificationUpdated)
}

func mustMint(secret, sub string, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(ttl).Unix(),
		"iat": time.Now().Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fatalf("mint token: %v", err)
	}
	return tok
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustRejectExpired(parent context.Context, wsURL, origin, secret, user string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	stale := mustMint(secret, user, -time.Minute)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+stale)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		closeWS(conn)
		fatalf("expired token was accepted")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		fatalf("expired token: got status %d, want 401", resp.StatusCode)
	}
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}

	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilTopic(parent context.Context, want v1.Topic, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", want, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", want, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", want)
			}
			if env.Topic == want {
				return env
			}
		}
	}
}

func assertNotification(env v1.Envelope, wantID, wantText string, wantRead bool) {
	var p v1.NotificationPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal %q payload: %v", env.Topic, err)
	}
	if p.NotificationID != wantID {
		fatalf("%q notification_id: got=%q want=%q", env.Topic, p.NotificationID, wantID)
	}
	if p.Message != wantText {
		fatalf("%q message: got=%q want=%q", env.Topic, p.Message, wantText)
	}
	if p.IsRead != wantRead {
		fatalf("%q is_read: got=%v want=%v", env.Topic, p.IsRead, wantRead)
	}
}

type createdNotification struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	IsRead  bool   `json:"is_read"`
}

func mustCreateNotification(parent context.Context, apiURL, token, text string, stepTimeout time.Duration) createdNotification {
	body := mustJSON(map[string]string{"message": text})

	data := mustAPI(parent, http.MethodPost, apiURL+"/notifications", token, body, http.StatusCreated, stepTimeout)

	var out createdNotification
	if err := json.Unmarshal(data, &out); err != nil {
		fatalf("unmarshal created notification: %v", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		fatalf("created notification missing id")
	}
	return out
}

func mustToggle(parent context.Context, apiURL, token, id string, stepTimeout time.Duration) {
	_ = mustAPI(parent, http.MethodPost, apiURL+"/notifications/"+id+"/toggle", token, nil, http.StatusOK, stepTimeout)
}

func mustReplayContains(parent context.Context, apiURL, token string, since time.Time, wantID string, stepTimeout time.Duration) {
	u := apiURL + "/feed/events?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	data := mustAPI(parent, http.MethodGet, u, token, nil, http.StatusOK, stepTimeout)

	var envs []v1.Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		fatalf("unmarshal replay events: %v", err)
	}

	for _, env := range envs {
		var p v1.NotificationPayload
		if json.Unmarshal(env.Payload, &p) == nil && p.NotificationID == wantID {
			return
		}
	}
	fatalf("replay missing notification %s (got %d events)", wantID, len(envs))
}

func mustAPI(parent context.Context, method, rawURL, token string, body []byte, wantStatus int, stepTimeout time.Duration) []byte {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		fatalf("build request %s %s: %v", method, rawURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("read response %s %s: %v", method, rawURL, err)
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: got status %d, want %d (body=%q)", method, rawURL, resp.StatusCode, wantStatus, strings.TrimSpace(string(data)))
	}
	return data
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
