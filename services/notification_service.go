package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/internal/cache"
	"github.com/NomadCrew/nomad-realtime/internal/identity"
	"github.com/NomadCrew/nomad-realtime/internal/realtime"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/store"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultStoreTimeout = 5 * time.Second
	tracerName          = "github.com/NomadCrew/nomad-realtime/services"
	maxTitleLength      = 200
)

// NotificationService is the read/write path for notifications. Every owner
// id goes through the identity resolver first, so ownership checks, cache keys
// and room keys all use the same canonical form.
type NotificationService struct {
	store        store.NotificationStore
	cache        cache.Cache
	resolver     identity.Resolver
	publisher    realtime.Publisher
	pool         *WorkerPool
	storeTimeout time.Duration
	tracer       trace.Tracer
	log          *zap.SugaredLogger
}

// NotificationServiceOption customizes a NotificationService.
type NotificationServiceOption func(*NotificationService)

// WithWorkerPool publishes realtime events from the pool instead of inline.
func WithWorkerPool(pool *WorkerPool) NotificationServiceOption {
	return func(s *NotificationService) { s.pool = pool }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) NotificationServiceOption {
	return func(s *NotificationService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) NotificationServiceOption {
	return func(s *NotificationService) { s.tracer = tp.Tracer(tracerName) }
}

// NewNotificationService wires the service. c and pub may be nil.
func NewNotificationService(st store.NotificationStore, c cache.Cache, resolver identity.Resolver, pub realtime.Publisher, opts ...NotificationServiceOption) *NotificationService {
	if resolver == nil {
		resolver = identity.NormalizingResolver{}
	}
	s := &NotificationService{
		store:        st,
		cache:        c,
		resolver:     resolver,
		publisher:    pub,
		storeTimeout: defaultStoreTimeout,
		tracer:       otel.Tracer(tracerName),
		log:          logger.GetLogger().Named("notification_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns one page of the owner's notifications with the owner's total
// unread count. An owner id that resolves to nobody yields an empty page.
func (s *NotificationService) List(ctx context.Context, q types.ListQuery) (types.ListResult, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.List")
	defer span.End()

	empty := types.ListResult{Items: []types.Notification{}}
	if q.Kind != "" && !q.Kind.Valid() {
		return empty, apperrors.ValidationFailed("invalid notification type", string(q.Kind))
	}
	owner, err := s.resolver.Canonical(ctx, q.OwnerID)
	if err != nil {
		s.log.Debugw("List for unresolvable owner", "ownerID", q.OwnerID, "error", err)
		return empty, nil
	}
	q.OwnerID = owner
	q = q.Normalize()
	span.SetAttributes(
		attribute.String("owner.id", owner),
		attribute.Int("page", q.Page),
		attribute.Bool("unread_only", q.UnreadOnly),
	)

	key := cache.KeyFor(q)
	cacheable := false
	var gen uint64
	if s.cache != nil {
		if entry, ok := s.cache.Get(ctx, key); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return entry.Result, nil
		}
		// Taken before the store reads so a write that lands in between
		// keeps this page out of the cache.
		if gen, err = s.cache.Generation(ctx, owner); err == nil {
			cacheable = true
		} else {
			s.log.Warnw("Cache generation unavailable, page will not be cached", "ownerID", owner, "error", err)
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	items, total, err := s.store.List(storeCtx, q)
	if err != nil {
		return empty, s.fail(span, "list notifications", err, "")
	}
	unread, err := s.store.CountUnread(storeCtx, owner)
	if err != nil {
		return empty, s.fail(span, "count unread notifications", err, "")
	}
	if items == nil {
		items = []types.Notification{}
	}

	result := types.ListResult{Items: items, Total: total, UnreadCount: unread}
	if cacheable && !s.cache.Set(ctx, key, result, gen) {
		span.SetAttributes(attribute.Bool("cache.stale", true))
	}
	return result, nil
}

// UnreadCount returns the owner's unread total.
func (s *NotificationService) UnreadCount(ctx context.Context, ownerID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.UnreadCount")
	defer span.End()

	owner, err := s.resolver.Canonical(ctx, ownerID)
	if err != nil {
		return 0, nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	n, err := s.store.CountUnread(storeCtx, owner)
	if err != nil {
		return 0, s.fail(span, "count unread notifications", err, "")
	}
	return n, nil
}

// MarkRead marks one notification read. Marking an already read notification
// succeeds.
func (s *NotificationService) MarkRead(ctx context.Context, id uuid.UUID, ownerID string) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.MarkRead", trace.WithAttributes(attribute.String("notification.id", id.String())))
	defer span.End()

	owner, err := s.writeOwner(ctx, ownerID, id)
	if err != nil {
		return s.fail(span, "mark notification read", err, id.String())
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.MarkRead(storeCtx, id, owner); err != nil {
		return s.fail(span, "mark notification read", err, id.String())
	}
	s.invalidate(ctx, owner)
	return nil
}

// MarkAllRead returns the number of notifications that changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, ownerID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.MarkAllRead")
	defer span.End()

	owner, err := s.writeOwner(ctx, ownerID, nil)
	if err != nil {
		return 0, s.fail(span, "mark all notifications read", err, "")
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	n, err := s.store.MarkAllRead(storeCtx, owner)
	if err != nil {
		return 0, s.fail(span, "mark all notifications read", err, "")
	}
	s.invalidate(ctx, owner)
	span.SetAttributes(attribute.Int64("affected", n))
	return n, nil
}

func (s *NotificationService) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.Delete", trace.WithAttributes(attribute.String("notification.id", id.String())))
	defer span.End()

	owner, err := s.writeOwner(ctx, ownerID, id)
	if err != nil {
		return s.fail(span, "delete notification", err, id.String())
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Delete(storeCtx, id, owner); err != nil {
		return s.fail(span, "delete notification", err, id.String())
	}
	s.invalidate(ctx, owner)
	return nil
}

func (s *NotificationService) DeleteAll(ctx context.Context, ownerID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.DeleteAll")
	defer span.End()

	owner, err := s.writeOwner(ctx, ownerID, nil)
	if err != nil {
		return 0, s.fail(span, "delete notifications", err, "")
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	n, err := s.store.DeleteAll(storeCtx, owner)
	if err != nil {
		return 0, s.fail(span, "delete notifications", err, "")
	}
	s.invalidate(ctx, owner)
	span.SetAttributes(attribute.Int64("affected", n))
	return n, nil
}

func (s *NotificationService) DeleteByKind(ctx context.Context, ownerID string, kind types.NotificationKind) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.DeleteByKind", trace.WithAttributes(attribute.String("kind", string(kind))))
	defer span.End()

	if !kind.Valid() {
		return 0, apperrors.ValidationFailed("invalid notification type", string(kind))
	}
	owner, err := s.writeOwner(ctx, ownerID, nil)
	if err != nil {
		return 0, s.fail(span, "delete notifications by type", err, "")
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	n, err := s.store.DeleteByKind(storeCtx, owner, kind)
	if err != nil {
		return 0, s.fail(span, "delete notifications by type", err, "")
	}
	s.invalidate(ctx, owner)
	span.SetAttributes(attribute.Int64("affected", n))
	return n, nil
}

// Create stores a notification and pushes it to the owner's live connections.
func (s *NotificationService) Create(ctx context.Context, params types.CreateNotificationParams) (*types.Notification, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.Create", trace.WithAttributes(attribute.String("kind", string(params.Kind))))
	defer span.End()

	if err := validateCreate(params); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	owner, err := s.resolver.Canonical(ctx, params.OwnerID)
	if err != nil {
		if unresolvable(err) {
			return nil, apperrors.ValidationFailed("invalid owner id", params.OwnerID)
		}
		return nil, s.fail(span, "resolve owner", fmt.Errorf("failed to resolve owner: %w", err), "")
	}

	n := &types.Notification{
		OwnerID: owner,
		Kind:    params.Kind,
		Title:   strings.TrimSpace(params.Title),
		Body:    params.Body,
		Link:    params.Link,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Create(storeCtx, n); err != nil {
		return nil, s.fail(span, "create notification", err, "")
	}
	s.invalidate(ctx, owner)
	s.publish(n)

	span.SetAttributes(attribute.String("notification.id", n.ID.String()))
	s.log.Infow("Notification created", "notificationID", n.ID, "ownerID", owner, "kind", n.Kind)
	return n, nil
}

// CreateMany validates every request before storing any. It returns the
// notifications created before the first store failure.
func (s *NotificationService) CreateMany(ctx context.Context, params []types.CreateNotificationParams) ([]*types.Notification, error) {
	for i, p := range params {
		if err := validateCreate(p); err != nil {
			return nil, apperrors.ValidationFailed(fmt.Sprintf("notification %d is invalid", i), err.Error())
		}
	}
	created := make([]*types.Notification, 0, len(params))
	for _, p := range params {
		n, err := s.Create(ctx, p)
		if err != nil {
			return created, err
		}
		created = append(created, n)
	}
	return created, nil
}

// PurgeReadBefore removes read notifications older than cutoff. Caches are
// left to expire since the purge spans every owner.
func (s *NotificationService) PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.PurgeReadBefore")
	defer span.End()

	n, err := s.store.PurgeReadBefore(ctx, cutoff)
	if err != nil {
		return 0, s.fail(span, "purge read notifications", err, "")
	}
	span.SetAttributes(attribute.Int64("affected", n))
	return n, nil
}

// writeOwner canonicalizes the owner of a write. An owner that resolves to
// nobody cannot own anything, so the write reports NotFound. Lookup failures
// are returned as they are.
func (s *NotificationService) writeOwner(ctx context.Context, ownerID string, id interface{}) (string, error) {
	owner, err := s.resolver.Canonical(ctx, ownerID)
	switch {
	case err == nil:
		return owner, nil
	case !unresolvable(err):
		return "", fmt.Errorf("failed to resolve owner: %w", err)
	case id == nil:
		return "", store.ErrNotFound
	default:
		return "", fmt.Errorf("notification %v: %w", id, store.ErrNotFound)
	}
}

func unresolvable(err error) bool {
	return errors.Is(err, identity.ErrUnresolvable) || errors.Is(err, identity.ErrNoAlias)
}

func (s *NotificationService) invalidate(ctx context.Context, owner string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateOwner(ctx, owner); err != nil {
		s.log.Warnw("Failed to invalidate notification cache", "ownerID", owner, "error", err)
	}
}

func (s *NotificationService) publish(n *types.Notification) {
	if s.publisher == nil {
		return
	}
	record := *n
	send := func() {
		delivered := s.publisher.Publish(record.OwnerID, types.EventNotification, record)
		s.log.Debugw("Published notification", "notificationID", record.ID, "ownerID", record.OwnerID, "delivered", delivered)
	}
	if s.pool != nil && s.pool.IsRunning() {
		queued := s.pool.Submit(Job{
			Name: "publish-notification",
			Execute: func(context.Context) error {
				send()
				return nil
			},
		})
		if queued {
			return
		}
	}
	send()
}

// fail maps store errors onto application errors and records them on the span.
func (s *NotificationService) fail(span trace.Span, op string, err error, id string) error {
	appErr := mapStoreError(op, err, id)
	span.RecordError(err)
	span.SetStatus(codes.Error, appErr.Message)
	if appErr.Type == apperrors.DatabaseError || appErr.Type == apperrors.UpstreamTimeoutError {
		s.log.Errorw("Notification store failure", "operation", op, "error", err)
	}
	return appErr
}

func mapStoreError(op string, err error, id string) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("Notification", id)
	case errors.Is(err, store.ErrForbidden):
		return apperrors.Forbidden("Notification belongs to another user", id)
	case errors.Is(err, store.ErrConflict):
		return apperrors.ValidationFailed("Notification already exists", id)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.UpstreamTimeout(op, err)
	default:
		return apperrors.NewDatabaseError(err)
	}
}

func validateCreate(p types.CreateNotificationParams) error {
	if strings.TrimSpace(p.OwnerID) == "" {
		return apperrors.ValidationFailed("ownerId is required", "")
	}
	if !p.Kind.Valid() {
		return apperrors.ValidationFailed("invalid notification type", string(p.Kind))
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return apperrors.ValidationFailed("title is required", "")
	}
	if len(title) > maxTitleLength {
		return apperrors.ValidationFailed("title is too long", fmt.Sprintf("max %d characters", maxTitleLength))
	}
	return nil
}
