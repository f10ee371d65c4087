package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is informational only; it never carries authoritative state.
type Notification struct {
	ID        string           `json:"id"`
	UserId    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Payload   any              `json:"payload"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at"`
}

const notificationListCap = 50

// NotificationStore is the in-memory notification registry. Same ownership
// rule as JobStore: single-writer per record, map guarded by a mutex.
type NotificationStore struct {
	mu        sync.RWMutex
	items     map[string]*Notification
	retention time.Duration
}

func NewNotificationStore(retention time.Duration) *NotificationStore {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &NotificationStore{
		items:     make(map[string]*Notification),
		retention: retention,
	}
}

func (s *NotificationStore) Add(userId string, nType NotificationType, title string, message string, payload any) *Notification {
	n := &Notification{
		ID:        uuid.NewString(),
		UserId:    userId,
		Type:      nType,
		Title:     title,
		Message:   message,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.items[n.ID] = n
	s.mu.Unlock()
	cp := *n
	return &cp
}

// List returns notifications newest-first, optionally filtered by user id and
// unread flag, capped at 50.
func (s *NotificationStore) List(userId string, unreadOnly bool) []*Notification {
	s.mu.RLock()
	out := make([]*Notification, 0, len(s.items))
	for _, n := range s.items {
		if userId != "" && n.UserId != userId {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > notificationListCap {
		out = out[:notificationListCap]
	}
	return out
}

func (s *NotificationStore) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.Read {
		return ok
	}
	now := time.Now()
	n.Read = true
	n.ReadAt = &now
	return true
}

func (s *NotificationStore) Purge() int {
	cutoff := time.Now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, n := range s.items {
		if n.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

func (s *NotificationStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Purge()
			}
		}
	}()
}
