package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notifykit/notifykit/internal/notification"
)

// MemoryStore is an in-memory implementation of the persistence contract,
// guarded by a single RWMutex. Used by tests and the dev profile.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]*notification.Notification
	logs          map[string][]notification.DeliveryLog
	preferences   map[string]*notification.Preference // userID + "\x00" + category
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[string]*notification.Notification),
		logs:          make(map[string][]notification.DeliveryLog),
		preferences:   make(map[string]*notification.Preference),
	}
}

func prefKey(userID, category string) string {
	return userID + "\x00" + category
}

func (s *MemoryStore) CreateNotification(ctx context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateNotification(ctx context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[n.ID]; !ok {
		return notification.ErrNotFound
	}
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *MemoryStore) GetNotification(ctx context.Context, id string) (*notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok || n.Deleted {
		return nil, notification.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string, includeRead bool) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notification.Notification
	for _, n := range s.notifications {
		if n.RecipientUserID != userID || n.Deleted || n.IsExpired() {
			continue
		}
		if !includeRead && n.IsRead() {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountUnread(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if n.RecipientUserID == userID && !n.Deleted && !n.IsRead() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifications {
		if n.RecipientUserID != userID || n.Deleted || n.IsRead() || n.IsExpired() {
			continue
		}
		readAt := at
		n.ReadAt = &readAt
		n.Status = notification.StatusRead
		count++
	}
	return count, nil
}

func (s *MemoryStore) ListDueQueued(ctx context.Context, before time.Time, limit int) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notification.Notification
	for _, n := range s.notifications {
		if n.Status != notification.StatusQueued || n.Deleted {
			continue
		}
		if n.ScheduledFor == nil || n.ScheduledFor.After(before) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledFor.Before(*out[j].ScheduledFor)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Deleted {
		return notification.ErrNotFound
	}
	n.Deleted = true
	return nil
}

func (s *MemoryStore) AppendDeliveryLog(ctx context.Context, entry *notification.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.logs[entry.NotificationID] = append(s.logs[entry.NotificationID], *entry)
	return nil
}

func (s *MemoryStore) CountDeliveryLogs(ctx context.Context, notificationID string, channel notification.Channel) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, l := range s.logs[notificationID] {
		if l.Channel == channel {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListDeliveryLogs(ctx context.Context, notificationID string) ([]notification.DeliveryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]notification.DeliveryLog, len(s.logs[notificationID]))
	copy(out, s.logs[notificationID])
	return out, nil
}

func (s *MemoryStore) GetPreference(ctx context.Context, userID, category string) (*notification.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preferences[prefKey(userID, category)]
	if !ok {
		return nil, notification.ErrPreferenceNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpsertPreference(ctx context.Context, p *notification.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.preferences[prefKey(p.UserID, p.Category)]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.preferences[prefKey(p.UserID, p.Category)] = &cp
	return nil
}

// WithinTx runs fn directly; the in-memory store has no transactions.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
