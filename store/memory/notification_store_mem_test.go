package memory

import (
	"context"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-realtime/store"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *NotificationStore, owner string, kind types.NotificationKind, read bool, created time.Time) types.Notification {
	t.Helper()
	n := &types.Notification{OwnerID: owner, Kind: kind, Title: string(kind), IsRead: read, CreatedAt: created}
	require.NoError(t, s.Create(context.Background(), n))
	return *n
}

func TestList_OrderingPagingAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	oldest := seed(t, s, "u1", types.KindMessage, true, base)
	middle := seed(t, s, "u1", types.KindLike, false, base.Add(time.Minute))
	newest := seed(t, s, "u1", types.KindMessage, false, base.Add(2*time.Minute))
	seed(t, s, "u2", types.KindMessage, false, base)

	items, total, err := s.List(ctx, types.ListQuery{OwnerID: "u1", Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, newest.ID, items[0].ID)
	assert.Equal(t, middle.ID, items[1].ID)

	items, _, err = s.List(ctx, types.ListQuery{OwnerID: "u1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, oldest.ID, items[0].ID)

	items, total, err = s.List(ctx, types.ListQuery{OwnerID: "u1", UnreadOnly: true, Kind: types.KindMessage})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, newest.ID, items[0].ID)

	items, total, err = s.List(ctx, types.ListQuery{OwnerID: "u1", Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestOwnershipRules(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	n := seed(t, s, "u1", types.KindSystem, false, time.Now())

	assert.ErrorIs(t, s.MarkRead(ctx, n.ID, "u2"), store.ErrForbidden)
	assert.ErrorIs(t, s.MarkRead(ctx, uuid.New(), "u1"), store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, n.ID, "u2"), store.ErrForbidden)
	assert.ErrorIs(t, s.Delete(ctx, uuid.New(), "u1"), store.ErrNotFound)

	require.NoError(t, s.MarkRead(ctx, n.ID, "u1"))
	require.NoError(t, s.MarkRead(ctx, n.ID, "u1"))
	got, err := s.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)

	require.NoError(t, s.Delete(ctx, n.ID, "u1"))
	_, err = s.GetByID(ctx, n.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBulkWrites(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	now := time.Now().UTC()

	seed(t, s, "u1", types.KindMessage, false, now)
	seed(t, s, "u1", types.KindMessage, false, now)
	seed(t, s, "u1", types.KindLike, false, now)
	seed(t, s, "u2", types.KindMessage, false, now)

	removed, err := s.DeleteByKind(ctx, "u1", types.KindMessage)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	marked, err := s.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, marked)

	unread, err := s.CountUnread(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	removed, err = s.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestPurgeReadBefore(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	oldRead := seed(t, s, "u1", types.KindSystem, true, cutoff.Add(-time.Hour))
	oldUnread := seed(t, s, "u1", types.KindSystem, false, cutoff.Add(-time.Hour))
	newRead := seed(t, s, "u1", types.KindSystem, true, cutoff.Add(time.Hour))

	purged, err := s.PurgeReadBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, err = s.GetByID(ctx, oldRead.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetByID(ctx, oldUnread.ID)
	assert.NoError(t, err)
	_, err = s.GetByID(ctx, newRead.ID)
	assert.NoError(t, err)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := NewNotificationStore()
	n := seed(t, s, "u1", types.KindSystem, false, time.Now())

	dup := n
	err := s.Create(context.Background(), &dup)
	assert.ErrorIs(t, err, store.ErrConflict)
}
