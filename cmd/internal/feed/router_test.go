package feed

import (
	"testing"
	"time"

	v1 "pulse/contracts/feed/v1"
	"pulse/cmd/internal/bus"
)

func TestRouter_RoutesByTopicScope(t *testing.T) {
	t.Parallel()

	b := bus.New(testLogger(), "server-1", nil)
	h := NewHub(testLogger())
	replay := NewReplay(16)

	r := AttachHub(testLogger(), b, h, replay)
	defer r.Close()

	alice := NewClient("user-1", "sess-alice", 32)
	bob := NewClient("user-2", "sess-bob", 32)
	h.Attach(alice)
	h.Attach(bob)

	// Comments go to everyone connected.
	if _, err := b.Publish(v1.TopicCommentCreated, v1.CommentPayload{CommentID: "c1", TaskID: "t1"}); err != nil {
		t.Fatalf("publish comment: %v", err)
	}
	if env := receiveOne(t, alice); env.Topic != v1.TopicCommentCreated {
		t.Fatalf("alice got topic %q", env.Topic)
	}
	if env := receiveOne(t, bob); env.Topic != v1.TopicCommentCreated {
		t.Fatalf("bob got topic %q", env.Topic)
	}

	// Notifications go only to the recipient's sessions.
	if _, err := b.Publish(v1.TopicNotificationCreated, v1.NotificationPayload{NotificationID: "n1", UserID: "user-1"}); err != nil {
		t.Fatalf("publish notification: %v", err)
	}
	if env := receiveOne(t, alice); env.Topic != v1.TopicNotificationCreated {
		t.Fatalf("alice got topic %q", env.Topic)
	}
	assertEmpty(t, bob)

	// Everything routed is also recorded for the polling fallback.
	got := replay.Since(time.Time{}, "user-1")
	if len(got) != 2 {
		t.Fatalf("replay recorded %d envelopes, want 2", len(got))
	}
}

func TestRouter_DropsNotificationWithoutRecipient(t *testing.T) {
	t.Parallel()

	b := bus.New(testLogger(), "server-1", nil)
	h := NewHub(testLogger())

	r := AttachHub(testLogger(), b, h, nil)
	defer r.Close()

	alice := NewClient("user-1", "sess-alice", 32)
	h.Attach(alice)

	if _, err := b.Publish(v1.TopicNotificationCreated, v1.NotificationPayload{NotificationID: "n1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	assertEmpty(t, alice)
}

func TestRouter_CloseDetachesFromBus(t *testing.T) {
	t.Parallel()

	b := bus.New(testLogger(), "server-1", nil)
	h := NewHub(testLogger())

	r := AttachHub(testLogger(), b, h, nil)

	alice := NewClient("user-1", "sess-alice", 32)
	h.Attach(alice)

	r.Close()
	r.Close() // idempotent

	if _, err := b.Publish(v1.TopicCommentCreated, v1.CommentPayload{CommentID: "c1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	assertEmpty(t, alice)
}
