// Package notify implements the notification feed: per-recipient
// notifications with read/unread toggles and bulk mark/delete, persisted
// behind a Store interface (Postgres in production, in-memory for dev), and
// announced on the event bus so connected clients see changes live.
package notify
