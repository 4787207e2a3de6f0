package notifications

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.RWMutex
	items  []Notification
	emails map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{emails: map[string]string{}}
}

func (s *MemoryStore) SetEmail(employeeID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[employeeID] = email
}

func (s *MemoryStore) CreateNotification(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return nil
}

func (s *MemoryStore) RecipientEmail(ctx context.Context, employeeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emails[employeeID], nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, recipientID string, limit, offset int) ([]Notification, error) {
	s.mu.RLock()
	var out []Notification
	for _, n := range s.items {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountUnread(ctx context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.items {
		if n.RecipientID == recipientID && n.ReadAt == nil {
			total++
		}
	}
	return total, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == notificationID && s.items[i].RecipientID == recipientID && s.items[i].ReadAt == nil {
			now := time.Now().UTC()
			s.items[i].ReadAt = &now
		}
	}
	return nil
}
