package store

import (
	"context"
	"time"

	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
)

// NotificationStore defines the interface for notification data operations.
// Owner ids are expected in canonical form; stores compare them verbatim.
type NotificationStore interface {
	// Create inserts n. A zero ID or CreatedAt is filled in by the store.
	Create(ctx context.Context, n *types.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.Notification, error)
	// List returns one page ordered by creation date descending, and the
	// total number of rows matching the query's filters.
	List(ctx context.Context, q types.ListQuery) ([]types.Notification, int, error)
	CountUnread(ctx context.Context, ownerID string) (int, error)
	// MarkRead returns ErrNotFound when id does not exist and ErrForbidden
	// when it belongs to another owner. Marking an already read
	// notification is not an error.
	MarkRead(ctx context.Context, id uuid.UUID, ownerID string) error
	MarkAllRead(ctx context.Context, ownerID string) (int64, error)
	// Delete follows the same ownership rules as MarkRead.
	Delete(ctx context.Context, id uuid.UUID, ownerID string) error
	DeleteAll(ctx context.Context, ownerID string) (int64, error)
	DeleteByKind(ctx context.Context, ownerID string, kind types.NotificationKind) (int64, error)
	// PurgeReadBefore removes read notifications created before cutoff,
	// across all owners.
	PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}
