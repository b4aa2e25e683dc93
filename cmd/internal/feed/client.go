package feed

import (
	"sync"

	v1 "pulse/contracts/feed/v1"
)

// Client is one connected feed session. A user with several open tabs or
// devices holds several Clients.
//
// Send is never closed; producers race on it and closing would panic them.
// Shutdown is signalled through done instead.
type Client struct {
	SessionID string
	UserID    string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a Client with a bounded delivery queue.
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the connection goroutines to stop. Idempotent, and leaves
// Send open for any in-flight producer.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
