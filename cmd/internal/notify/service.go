package notify

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"time"

	v1 "pulse/contracts/feed/v1"

	"github.com/oklog/ulid/v2"
)

const maxMessageLen = 2048

// Publisher is the slice of the event bus the service needs. Publish errors
// are logged, never returned: persistence is the source of truth and feed
// delivery is best effort.
type Publisher interface {
	Publish(topic v1.Topic, payload any) (v1.Envelope, error)
}

// Service manages the notification feed and announces every change on the bus.
type Service struct {
	log   *slog.Logger
	store Store
	pub   Publisher
}

// NewService constructs a Service. pub may be nil, in which case changes are
// persisted but not announced.
func NewService(log *slog.Logger, store Store, pub Publisher) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, store: store, pub: pub}, nil
}

// Create persists a new notification for userID and publishes
// notification_created.
func (s *Service) Create(ctx context.Context, userID, message string) (Notification, error) {
	if s == nil || s.store == nil {
		return Notification{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	userID = strings.TrimSpace(userID)
	message = strings.TrimSpace(message)
	if userID == "" || message == "" || len(message) > maxMessageLen {
		return Notification{}, ErrInvalidInput
	}

	now := time.Now().UTC()
	id, err := newULID(now)
	if err != nil {
		return Notification{}, err
	}
	n := Notification{
		ID:        id,
		UserID:    userID,
		Message:   message,
		IsRead:    false,
		CreatedAt: now,
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return Notification{}, err
	}

	s.announce(v1.TopicNotificationCreated, v1.NotificationPayload{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Message:        n.Message,
		IsRead:         n.IsRead,
		CreatedAt:      n.CreatedAt,
	})
	return n, nil
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	return s.store.List(ctx, userID, limit)
}

// ToggleRead flips the read flag of one notification and publishes
// notification_updated.
func (s *Service) ToggleRead(ctx context.Context, userID, id string) (Notification, error) {
	if s == nil || s.store == nil {
		return Notification{}, ErrInvalidInput
	}
	n, err := s.store.ToggleRead(ctx, userID, id)
	if err != nil {
		return Notification{}, err
	}

	s.announce(v1.TopicNotificationUpdated, v1.NotificationPayload{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Message:        n.Message,
		IsRead:         n.IsRead,
		CreatedAt:      n.CreatedAt,
	})
	return n, nil
}

// MarkAllRead marks every unread notification read and publishes a single
// bulk notification_updated.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, ErrInvalidInput
	}
	n, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.announce(v1.TopicNotificationUpdated, v1.NotificationPayload{
			UserID: strings.TrimSpace(userID),
			IsRead: true,
			Bulk:   true,
		})
	}
	return n, nil
}

// Delete removes one notification and publishes notification_updated with the
// deleted flag set.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	if err := s.store.Delete(ctx, userID, id); err != nil {
		return err
	}

	s.announce(v1.TopicNotificationUpdated, v1.NotificationPayload{
		NotificationID: strings.TrimSpace(id),
		UserID:         strings.TrimSpace(userID),
		Deleted:        true,
	})
	return nil
}

// DeleteAll removes every notification of the recipient and publishes a
// single bulk delete event.
func (s *Service) DeleteAll(ctx context.Context, userID string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, ErrInvalidInput
	}
	n, err := s.store.DeleteAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.announce(v1.TopicNotificationUpdated, v1.NotificationPayload{
			UserID:  strings.TrimSpace(userID),
			Deleted: true,
			Bulk:    true,
		})
	}
	return n, nil
}

func (s *Service) announce(topic v1.Topic, p v1.NotificationPayload) {
	if s.pub == nil {
		return
	}
	if _, err := s.pub.Publish(topic, p); err != nil {
		s.log.Warn("notify.publish.fail",
			slog.String("topic", string(topic)),
			slog.String("error", err.Error()),
		)
	}
}

func newULID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
