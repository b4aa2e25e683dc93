package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "pulse/contracts/feed/v1"

	"github.com/coder/websocket"
)

type staticVerifier struct {
	userID string
	err    error
}

func (v staticVerifier) Verify(_ string, _ time.Time) (string, error) {
	return v.userID, v.err
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/feed", nil)
	r.Header.Set("Authorization", "Bearer tok-123")
	if got := BearerToken(r); got != "tok-123" {
		t.Fatalf("header token=%q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/feed?access_token=tok-456", nil)
	if got := BearerToken(r); got != "tok-456" {
		t.Fatalf("query token=%q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/feed", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := BearerToken(r); got != "" {
		t.Fatalf("non-bearer scheme must yield empty token, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/feed", nil)
	if got := BearerToken(r); got != "" {
		t.Fatalf("missing credentials must yield empty token, got %q", got)
	}
}

func TestGateway_RejectsBeforeUpgrade(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	gw := NewGateway(testLogger(), hub, staticVerifier{err: errors.New("expired")}, DefaultGatewayConfig())

	srv := httptest.NewServer(gw)
	defer srv.Close()

	// No token at all.
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d want=401", resp.StatusCode)
	}

	// Token present but rejected by the verifier.
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer stale")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("rejected token: status=%d want=401", resp.StatusCode)
	}

	if hub.ClientCount() != 0 {
		t.Fatalf("rejected connects must not attach clients")
	}
}

func TestGateway_DeliversBroadcasts(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	gw := NewGateway(testLogger(), hub, staticVerifier{userID: "user-1"}, DefaultGatewayConfig())

	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer good")

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   hdr,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if got := conn.Subprotocol(); got != Subprotocol {
		t.Fatalf("subprotocol=%q want=%q", got, Subprotocol)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := testEnvelope("e1", v1.TopicCommentCreated)
	hub.Broadcast(want)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got v1.Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != want.ID || got.Topic != want.Topic {
		t.Fatalf("got id=%q topic=%q, want id=%q topic=%q", got.ID, got.Topic, want.ID, want.Topic)
	}
}
