package notify

import "time"

// Notification is one feed entry scoped to a single recipient.
//
// Ownership: every mutation is keyed by (UserID, ID); a caller can never
// touch another user's notifications.
type Notification struct {
	ID        string
	UserID    string
	Message   string
	IsRead    bool
	CreatedAt time.Time
}
