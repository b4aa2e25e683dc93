// Package v1 defines the Pulse Feed Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server runtime and Go clients to keep the wire
// format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Topic identifies one domain event stream.
type Topic string

// Wire-stable topic names. One event kind per topic; names are derived as
// <entity>_<verb> so they stay deterministic and collision-free.
const (
	// TopicCommentCreated announces a newly created comment.
	TopicCommentCreated Topic = "comment_created"
	// TopicCommentUpdated announces an edited comment.
	TopicCommentUpdated Topic = "comment_updated"
	// TopicCommentDeleted announces a deleted comment.
	TopicCommentDeleted Topic = "comment_deleted"
	// TopicCommentLikeUpdated announces a like/unlike on a comment.
	TopicCommentLikeUpdated Topic = "comment_like_updated"
	// TopicNotificationCreated announces a new notification for one recipient.
	TopicNotificationCreated Topic = "notification_created"
	// TopicNotificationUpdated announces read-state or deletion changes on a
	// recipient's notifications.
	TopicNotificationUpdated Topic = "notification_updated"
)

// Topics lists every topic the bridge relays, in a fixed order.
func Topics() []Topic {
	return []Topic{
		TopicCommentCreated,
		TopicCommentUpdated,
		TopicCommentDeleted,
		TopicCommentLikeUpdated,
		TopicNotificationCreated,
		TopicNotificationUpdated,
	}
}

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	switch t {
	case TopicCommentCreated,
		TopicCommentUpdated,
		TopicCommentDeleted,
		TopicCommentLikeUpdated,
		TopicNotificationCreated,
		TopicNotificationUpdated:
		return true
	default:
		return false
	}
}

// Notification reports whether t is scoped to a single recipient.
func (t Topic) Notification() bool {
	return t == TopicNotificationCreated || t == TopicNotificationUpdated
}

// Envelope is the canonical wire wrapper for one domain event.
//
// ID is a ULID assigned at publish time and is the deduplication key for
// consumers. Origin carries the producing session so a client that performed
// the mutation itself does not double-apply the mirrored broadcast.
type Envelope struct {
	V       string          `json:"v"`
	Topic   Topic           `json:"topic"`
	ID      string          `json:"id"`
	Origin  string          `json:"origin,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if !e.Topic.Valid() {
		return fmt.Errorf("unknown topic: %q", e.Topic)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing field: id")
	}
	return nil
}

// ---- Payloads ----

// NotificationPayload rides notification_created and notification_updated.
//
// Bulk marks an operation that touched every notification of the recipient
// (mark-all-read, delete-all); NotificationID is empty in that case.
type NotificationPayload struct {
	NotificationID string    `json:"notification_id,omitempty"`
	UserID         string    `json:"user_id"`
	Message        string    `json:"message,omitempty"`
	IsRead         bool      `json:"is_read"`
	Deleted        bool      `json:"deleted,omitempty"`
	Bulk           bool      `json:"bulk,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// CommentPayload rides the comment_* topics. The CRUD handlers that produce
// these events live outside this module; the contract is recorded here so all
// producers agree on field names.
type CommentPayload struct {
	CommentID string    `json:"comment_id"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body,omitempty"`
	Likes     int       `json:"likes,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
