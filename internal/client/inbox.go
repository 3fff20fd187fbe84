package client

import (
	"sort"
	"sync"

	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
)

// Inbox is the client's local copy of the notification list.
type Inbox struct {
	mu     sync.RWMutex
	items  map[uuid.UUID]types.Notification
	unread int
}

func NewInbox() *Inbox {
	return &Inbox{items: make(map[uuid.UUID]types.Notification)}
}

// Replace swaps the contents for a fetched page. Applying the same page
// twice leaves the inbox unchanged.
func (b *Inbox) Replace(items []types.Notification, unread int) {
	next := make(map[uuid.UUID]types.Notification, len(items))
	for _, n := range items {
		next[n.ID] = n
	}
	b.mu.Lock()
	b.items = next
	b.unread = unread
	b.mu.Unlock()
}

// Upsert applies a pushed notification. A new unread item bumps the unread
// counter; a known id is overwritten in place.
func (b *Inbox) Upsert(n types.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, known := b.items[n.ID]
	b.items[n.ID] = n
	switch {
	case !known && !n.IsRead:
		b.unread++
	case known && !prev.IsRead && n.IsRead && b.unread > 0:
		b.unread--
	case known && prev.IsRead && !n.IsRead:
		b.unread++
	}
}

// Items returns the notifications newest first.
func (b *Inbox) Items() []types.Notification {
	b.mu.RLock()
	out := make([]types.Notification, 0, len(b.items))
	for _, n := range b.items {
		out = append(out, n)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (b *Inbox) UnreadCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unread
}

func (b *Inbox) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// ApplyEvent upserts the notification carried by a push event. Other events
// are ignored.
func (b *Inbox) ApplyEvent(ev types.Event) error {
	if ev.Name != types.EventNotification {
		return nil
	}
	var n types.Notification
	if err := ev.Decode(&n); err != nil {
		return err
	}
	b.Upsert(n)
	return nil
}
