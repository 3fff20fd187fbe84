// Package memory is an in-process NotificationStore for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-realtime/store"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
)

type NotificationStore struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]types.Notification
	now  func() time.Time
}

var _ store.NotificationStore = (*NotificationStore)(nil)

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		byID: make(map[uuid.UUID]types.Notification),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *NotificationStore) Create(_ context.Context, n *types.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[n.ID]; exists {
		return fmt.Errorf("notification %s already exists: %w", n.ID, store.ErrConflict)
	}
	s.byID[n.ID] = *n
	return nil
}

func (s *NotificationStore) GetByID(_ context.Context, id uuid.UUID) (*types.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("notification with id %s not found: %w", id, store.ErrNotFound)
	}
	return &n, nil
}

func matches(n types.Notification, q types.ListQuery) bool {
	if n.OwnerID != q.OwnerID {
		return false
	}
	if q.UnreadOnly && n.IsRead {
		return false
	}
	return q.Kind == "" || n.Kind == q.Kind
}

func (s *NotificationStore) List(_ context.Context, q types.ListQuery) ([]types.Notification, int, error) {
	q = q.Normalize()

	s.mu.RLock()
	var all []types.Notification
	for _, n := range s.byID {
		if matches(n, q) {
			all = append(all, n)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() > all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	page := []types.Notification{}
	start := q.Offset()
	if start < len(all) {
		end := start + q.PageSize
		if end > len(all) {
			end = len(all)
		}
		page = append(page, all[start:end]...)
	}
	return page, len(all), nil
}

func (s *NotificationStore) CountUnread(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.byID {
		if n.OwnerID == ownerID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// checkOwnerLocked resolves the ownership outcome for a single-row write.
func (s *NotificationStore) checkOwnerLocked(id uuid.UUID, ownerID string) (types.Notification, error) {
	n, ok := s.byID[id]
	if !ok {
		return n, fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
	}
	if n.OwnerID != ownerID {
		return n, fmt.Errorf("owner %s not authorized for notification %s: %w", ownerID, id, store.ErrForbidden)
	}
	return n, nil
}

func (s *NotificationStore) MarkRead(_ context.Context, id uuid.UUID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.checkOwnerLocked(id, ownerID)
	if err != nil {
		return err
	}
	n.IsRead = true
	s.byID[id] = n
	return nil
}

func (s *NotificationStore) MarkAllRead(_ context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, n := range s.byID {
		if n.OwnerID == ownerID && !n.IsRead {
			n.IsRead = true
			s.byID[id] = n
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) Delete(_ context.Context, id uuid.UUID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkOwnerLocked(id, ownerID); err != nil {
		return err
	}
	delete(s.byID, id)
	return nil
}

func (s *NotificationStore) deleteWhere(keep func(types.Notification) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, n := range s.byID {
		if !keep(n) {
			delete(s.byID, id)
			count++
		}
	}
	return count
}

func (s *NotificationStore) DeleteAll(_ context.Context, ownerID string) (int64, error) {
	return s.deleteWhere(func(n types.Notification) bool { return n.OwnerID != ownerID }), nil
}

func (s *NotificationStore) DeleteByKind(_ context.Context, ownerID string, kind types.NotificationKind) (int64, error) {
	return s.deleteWhere(func(n types.Notification) bool {
		return n.OwnerID != ownerID || n.Kind != kind
	}), nil
}

func (s *NotificationStore) PurgeReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(n types.Notification) bool {
		return !n.IsRead || !n.CreatedAt.Before(cutoff)
	}), nil
}

func (s *NotificationStore) Ping(context.Context) error { return nil }
