package feed

import (
	"encoding/json"
	"log/slog"

	v1 "pulse/contracts/feed/v1"
	"pulse/cmd/internal/bus"
)

// Router subscribes the hub (and optional replay buffer) to the event bus and
// routes envelopes to connected clients.
//
// notification_* topics are recipient-scoped and delivered only to the
// recipient's sessions; comment_* topics go to everyone connected. Finer
// project-level scoping is the API server's concern.
type Router struct {
	log    *slog.Logger
	hub    *Hub
	replay *Replay

	subs []*bus.Subscription
}

// AttachHub wires the hub and replay buffer to every feed topic on b.
// replay may be nil. Close detaches everything.
func AttachHub(log *slog.Logger, b *bus.Bus, hub *Hub, replay *Replay) *Router {
	if log == nil {
		log = slog.Default()
	}

	r := &Router{log: log, hub: hub, replay: replay}
	for _, topic := range v1.Topics() {
		r.subs = append(r.subs, b.Subscribe(topic, r.route))
	}
	return r
}

// Close unsubscribes from the bus (idempotent per subscription).
func (r *Router) Close() {
	for _, s := range r.subs {
		s.Unsubscribe()
	}
}

func (r *Router) route(env v1.Envelope) {
	if r.replay != nil {
		r.replay.Record(env)
	}

	if env.Topic.Notification() {
		var p v1.NotificationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.UserID == "" {
			r.log.Warn("feed.route.bad_notification", "topic", env.Topic, "event_id", env.ID)
			return
		}
		r.hub.NotifyUser(p.UserID, env)
		return
	}

	r.hub.Broadcast(env)
}
