package notify

import "context"

// Store abstracts persistence for notifications.
//
// Every operation is scoped by userID; implementations must treat an ID
// belonging to another user exactly like a missing row.
type Store interface {
	// Insert persists a new notification.
	Insert(ctx context.Context, n Notification) error

	// List returns the recipient's notifications, newest first.
	List(ctx context.Context, userID string, limit int) ([]Notification, error)

	// ToggleRead flips the read flag and returns the updated row.
	ToggleRead(ctx context.Context, userID, id string) (Notification, error)

	// MarkAllRead marks every unread notification read; returns the count.
	MarkAllRead(ctx context.Context, userID string) (int64, error)

	// Delete removes one notification.
	Delete(ctx context.Context, userID, id string) error

	// DeleteAll removes every notification of the recipient; returns the count.
	DeleteAll(ctx context.Context, userID string) (int64, error)

	Close() error
}
