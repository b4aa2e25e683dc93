package feed

import (
	"log/slog"
	"sync"

	v1 "pulse/contracts/feed/v1"
)

// Hub tracks connected feed clients grouped by user.
//
// Concurrency guarantees:
// - Attach/Detach are safe under concurrent fan-out.
// - Fan-out never blocks (drops under backpressure).
// - Fan-out is panic-safe because Client.Send is never closed by the server.
type Hub struct {
	log *slog.Logger

	mu        sync.RWMutex
	bySession map[string]*Client
	byUser    map[string]map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:       log,
		bySession: make(map[string]*Client),
		byUser:    make(map[string]map[string]*Client),
	}
}

// Attach registers a connected client.
func (h *Hub) Attach(c *Client) {
	if h == nil || c == nil || c.SessionID == "" {
		return
	}

	h.mu.Lock()
	h.bySession[c.SessionID] = c
	sessions := h.byUser[c.UserID]
	if sessions == nil {
		sessions = make(map[string]*Client)
		h.byUser[c.UserID] = sessions
	}
	sessions[c.SessionID] = c
	h.mu.Unlock()

	connectedClients.Inc()
	h.log.Info("feed.client.attach", "session_id", c.SessionID, "user_id", c.UserID)
}

// Detach removes a client and signals shutdown for it.
func (h *Hub) Detach(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	var c *Client

	h.mu.Lock()
	c = h.bySession[sessionID]
	delete(h.bySession, sessionID)
	if c != nil {
		if sessions := h.byUser[c.UserID]; sessions != nil {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.byUser, c.UserID)
			}
		}
	}
	h.mu.Unlock()

	// Signal client shutdown after removing from the maps. This ordering
	// avoids race windows where a broadcaster still holds a pointer while the
	// connection goroutines are being torn down.
	if c != nil {
		c.Close()
		connectedClients.Dec()
		h.log.Info("feed.client.detach", "session_id", sessionID, "user_id", c.UserID)
	}
}

// Broadcast fans an envelope out to every connected client.
// Non-blocking: a full queue or a shutting-down client drops the envelope.
func (h *Hub) Broadcast(env v1.Envelope) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.bySession {
		h.offer(c, env)
	}
}

// NotifyUser fans an envelope out to every session of one user.
func (h *Hub) NotifyUser(userID string, env v1.Envelope) {
	if h == nil || userID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.byUser[userID] {
		h.offer(c, env)
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySession)
}

func (h *Hub) offer(c *Client, env v1.Envelope) {
	if c == nil {
		return
	}

	select {
	case <-c.Done():
		// Skip clients that are shutting down.
		return
	default:
	}

	select {
	case c.Send <- env:
	default:
		// Drop rather than block the whole fan-out.
		droppedEnvelopes.Inc()
	}
}
