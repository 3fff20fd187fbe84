package handlers

import (
	"context"

	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
)

// NotificationService defines the notification operations needed by handlers.
type NotificationService interface {
	List(ctx context.Context, q types.ListQuery) (types.ListResult, error)
	UnreadCount(ctx context.Context, ownerID string) (int, error)
	MarkRead(ctx context.Context, id uuid.UUID, ownerID string) error
	MarkAllRead(ctx context.Context, ownerID string) (int64, error)
	Delete(ctx context.Context, id uuid.UUID, ownerID string) error
	DeleteAll(ctx context.Context, ownerID string) (int64, error)
	DeleteByKind(ctx context.Context, ownerID string, kind types.NotificationKind) (int64, error)
	Create(ctx context.Context, params types.CreateNotificationParams) (*types.Notification, error)
	CreateMany(ctx context.Context, params []types.CreateNotificationParams) ([]*types.Notification, error)
}

// IdentityLinker records that an external provider id belongs to a user.
type IdentityLinker interface {
	Link(ctx context.Context, externalID, userID string) error
}

// AliasForgetter drops a cached alias after it changes.
type AliasForgetter interface {
	Forget(externalID string)
}

// HealthChecker reports service health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) types.HealthCheck
}
