package feed

import (
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "pulse/contracts/feed/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnvelope(id string, topic v1.Topic) v1.Envelope {
	return v1.Envelope{
		V:     v1.Version,
		Topic: topic,
		ID:    id,
		TS:    time.Now().UTC(),
	}
}

func receiveOne(t *testing.T, c *Client) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		return env
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for envelope on %s", c.SessionID)
		return v1.Envelope{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.Send:
		t.Fatalf("unexpected envelope %q on %s", env.ID, c.SessionID)
	default:
	}
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())

	a := NewClient("user-1", "sess-a", 32)
	b := NewClient("user-2", "sess-b", 32)
	h.Attach(a)
	h.Attach(b)

	env := testEnvelope("e1", v1.TopicCommentCreated)
	h.Broadcast(env)

	if got := receiveOne(t, a); got.ID != "e1" {
		t.Fatalf("client a got %q", got.ID)
	}
	if got := receiveOne(t, b); got.ID != "e1" {
		t.Fatalf("client b got %q", got.ID)
	}
}

func TestHub_NotifyUserScopesToRecipientSessions(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())

	a1 := NewClient("user-1", "sess-a1", 32)
	a2 := NewClient("user-1", "sess-a2", 32)
	b := NewClient("user-2", "sess-b", 32)
	h.Attach(a1)
	h.Attach(a2)
	h.Attach(b)

	env := testEnvelope("n1", v1.TopicNotificationCreated)
	h.NotifyUser("user-1", env)

	if got := receiveOne(t, a1); got.ID != "n1" {
		t.Fatalf("session a1 got %q", got.ID)
	}
	if got := receiveOne(t, a2); got.ID != "n1" {
		t.Fatalf("session a2 got %q", got.ID)
	}
	assertEmpty(t, b)
}

func TestHub_DetachStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())

	c := NewClient("user-1", "sess-a", 32)
	h.Attach(c)
	if h.ClientCount() != 1 {
		t.Fatalf("count=%d want=1", h.ClientCount())
	}

	h.Detach("sess-a")
	if h.ClientCount() != 0 {
		t.Fatalf("count=%d want=0", h.ClientCount())
	}

	select {
	case <-c.Done():
	default:
		t.Fatalf("detach must signal client shutdown")
	}

	h.Broadcast(testEnvelope("e1", v1.TopicCommentCreated))
	assertEmpty(t, c)

	// Unknown session id is a no-op.
	h.Detach("sess-a")
	h.Detach("nope")
}

func TestHub_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())

	c := NewClient("user-1", "sess-a", 1)
	h.Attach(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Broadcast(testEnvelope("e", v1.TopicCommentCreated))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on a full client queue")
	}
}
