package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps notifications in process memory. Intended for dev and
// tests; everything is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string][]Notification // userID -> rows, unordered
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]Notification)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.UserID) == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[n.UserID] = append(s.rows[n.UserID], n)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}

	s.mu.RLock()
	rows := s.rows[userID]
	out := make([]Notification, len(rows))
	copy(out, rows)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ToggleRead implements Store.
func (s *MemoryStore) ToggleRead(ctx context.Context, userID, id string) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(id) == "" {
		return Notification{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[userID]
	for i := range rows {
		if rows[i].ID == id {
			rows[i].IsRead = !rows[i].IsRead
			return rows[i], nil
		}
	}
	return Notification{}, ErrNotFound
}

// MarkAllRead implements Store.
func (s *MemoryStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	rows := s.rows[userID]
	for i := range rows {
		if !rows[i].IsRead {
			rows[i].IsRead = true
			n++
		}
	}
	return n, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[userID]
	for i := range rows {
		if rows[i].ID == id {
			s.rows[userID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// DeleteAll implements Store.
func (s *MemoryStore) DeleteAll(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.rows[userID]))
	delete(s.rows, userID)
	return n, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
