package feed

import (
	"encoding/json"
	"sync"
	"time"

	v1 "pulse/contracts/feed/v1"
)

const defaultReplayCapacity = 2048

// Replay keeps a bounded in-memory window of recent envelopes.
//
// It backs the polling fallback: a client whose socket dropped reconciles by
// asking for everything since its last observed timestamp. The window is
// best-effort; anything older than the buffer is reconciled by a full query.
type Replay struct {
	mu  sync.Mutex
	buf []v1.Envelope
	cap int
}

// NewReplay constructs a Replay buffer with the given capacity.
func NewReplay(capacity int) *Replay {
	if capacity <= 0 {
		capacity = defaultReplayCapacity
	}
	return &Replay{buf: make([]v1.Envelope, 0, capacity), cap: capacity}
}

// Record appends one envelope, evicting the oldest beyond capacity.
func (r *Replay) Record(env v1.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, env)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
}

// Since returns envelopes visible to userID with a timestamp strictly after t,
// in record order. Recipient-scoped envelopes of other users are filtered out.
func (r *Replay) Since(t time.Time, userID string) []v1.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []v1.Envelope
	for _, env := range r.buf {
		if !env.TS.After(t) {
			continue
		}
		if env.Topic.Notification() && !notificationFor(env, userID) {
			continue
		}
		out = append(out, env)
	}
	return out
}

func notificationFor(env v1.Envelope, userID string) bool {
	var p v1.NotificationPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return false
	}
	return p.UserID != "" && p.UserID == userID
}
