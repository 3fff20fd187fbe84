package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NomadCrew/nomad-realtime/store"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool used by the stores. pgxmock pools
// satisfy it in tests.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const uniqueViolation = "23505"

// Ensure pgNotificationStore implements store.NotificationStore.
var _ store.NotificationStore = (*pgNotificationStore)(nil)

type pgNotificationStore struct {
	db DBTX
}

// NewPgNotificationStore creates a new PostgreSQL notification store.
func NewPgNotificationStore(db DBTX) store.NotificationStore {
	return &pgNotificationStore{db: db}
}

const notificationColumns = `id, owner_id, kind, title, body, link, is_read, created_at`

// Create inserts a new notification. IDs and timestamps are assigned here
// rather than by the database so callers can publish the record as stored.
func (s *pgNotificationStore) Create(ctx context.Context, n *types.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO notifications (` + notificationColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		n.ID,
		n.OwnerID,
		n.Kind,
		n.Title,
		n.Body,
		n.Link,
		n.IsRead,
		n.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("notification %s already exists: %w", n.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// GetByID retrieves a notification by its ID.
func (s *pgNotificationStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Notification, error) {
	query := `SELECT ` + notificationColumns + `
	          FROM notifications
	          WHERE id = $1`

	n := &types.Notification{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&n.ID, &n.OwnerID, &n.Kind, &n.Title, &n.Body, &n.Link, &n.IsRead, &n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("notification with id %s not found: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get notification by id: %w", err)
	}
	return n, nil
}

// filterClause renders the WHERE clause shared by the list and count queries.
func filterClause(q types.ListQuery) (string, []any) {
	where := `WHERE owner_id = $1`
	args := []any{q.OwnerID}
	if q.UnreadOnly {
		where += ` AND is_read = FALSE`
	}
	if q.Kind != "" {
		args = append(args, q.Kind)
		where += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	return where, args
}

// List retrieves one page of an owner's notifications and the filtered total.
func (s *pgNotificationStore) List(ctx context.Context, q types.ListQuery) ([]types.Notification, int, error) {
	q = q.Normalize()
	where, args := filterClause(q)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	pageArgs := append(append([]any{}, args...), q.PageSize, q.Offset())
	query := fmt.Sprintf(`SELECT %s FROM notifications %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		notificationColumns, where, len(args)+1, len(args)+2)

	rows, err := s.db.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notifications by owner: %w", err)
	}
	defer rows.Close()

	notifications := []types.Notification{}
	for rows.Next() {
		var n types.Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Kind, &n.Title, &n.Body, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error during row iteration for notifications: %w", err)
	}

	return notifications, total, nil
}

// CountUnread retrieves the count of unread notifications for an owner.
func (s *pgNotificationStore) CountUnread(ctx context.Context, ownerID string) (int, error) {
	query := `SELECT COUNT(*)
	          FROM notifications
	          WHERE owner_id = $1 AND is_read = FALSE`

	var count int
	if err := s.db.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get unread notification count: %w", err)
	}
	return count, nil
}

// ownerOf returns the owner of id, or ErrNotFound.
func (s *pgNotificationStore) ownerOf(ctx context.Context, id uuid.UUID) (string, error) {
	var owner string
	err := s.db.QueryRow(ctx, `SELECT owner_id FROM notifications WHERE id = $1`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to check notification owner: %w", err)
	}
	return owner, nil
}

// MarkRead marks a single notification as read for its owner.
func (s *pgNotificationStore) MarkRead(ctx context.Context, id uuid.UUID, ownerID string) error {
	query := `UPDATE notifications
	          SET is_read = TRUE
	          WHERE id = $1 AND owner_id = $2 AND is_read = FALSE`

	cmdTag, err := s.db.Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: missing, foreign, or already read.
	owner, err := s.ownerOf(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("cannot mark notification %s as read: %w", id, store.ErrNotFound)
		}
		return err
	}
	if owner != ownerID {
		return fmt.Errorf("owner %s not authorized to mark notification %s as read: %w", ownerID, id, store.ErrForbidden)
	}
	return nil
}

// MarkAllRead marks all unread notifications of an owner as read.
func (s *pgNotificationStore) MarkAllRead(ctx context.Context, ownerID string) (int64, error) {
	query := `UPDATE notifications
	          SET is_read = TRUE
	          WHERE owner_id = $1 AND is_read = FALSE`

	cmdTag, err := s.db.Exec(ctx, query, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// Delete removes a notification, but only for its owner.
func (s *pgNotificationStore) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	query := `DELETE FROM notifications
	          WHERE id = $1 AND owner_id = $2`

	cmdTag, err := s.db.Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to execute delete for notification %s: %w", id, err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.ownerOf(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("cannot delete notification %s: %w", id, store.ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("owner %s not authorized to delete notification %s: %w", ownerID, id, store.ErrForbidden)
}

// DeleteAll removes every notification of an owner.
func (s *pgNotificationStore) DeleteAll(ctx context.Context, ownerID string) (int64, error) {
	cmdTag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications for owner: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// DeleteByKind removes an owner's notifications of one kind.
func (s *pgNotificationStore) DeleteByKind(ctx context.Context, ownerID string, kind types.NotificationKind) (int64, error) {
	cmdTag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE owner_id = $1 AND kind = $2`, ownerID, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s notifications: %w", kind, err)
	}
	return cmdTag.RowsAffected(), nil
}

// PurgeReadBefore removes read notifications older than cutoff.
func (s *pgNotificationStore) PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cmdTag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE is_read = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge read notifications: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

func (s *pgNotificationStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
