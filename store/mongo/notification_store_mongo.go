// Package mongo stores notifications as documents, one per notification,
// keyed by the notification UUID in its canonical string form.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NomadCrew/nomad-realtime/store"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type notificationDoc struct {
	ID        string    `bson:"_id"`
	OwnerID   string    `bson:"owner_id"`
	Kind      string    `bson:"kind"`
	Title     string    `bson:"title"`
	Body      string    `bson:"body"`
	Link      *string   `bson:"link,omitempty"`
	IsRead    bool      `bson:"is_read"`
	CreatedAt time.Time `bson:"created_at"`
}

func toDoc(n *types.Notification) notificationDoc {
	return notificationDoc{
		ID:        n.ID.String(),
		OwnerID:   n.OwnerID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Body:      n.Body,
		Link:      n.Link,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func (d notificationDoc) toNotification() (types.Notification, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return types.Notification{}, fmt.Errorf("invalid notification id %q: %w", d.ID, err)
	}
	return types.Notification{
		ID:        id,
		OwnerID:   d.OwnerID,
		Kind:      types.NotificationKind(d.Kind),
		Title:     d.Title,
		Body:      d.Body,
		Link:      d.Link,
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

// NotificationStore implements store.NotificationStore on a MongoDB collection.
type NotificationStore struct {
	coll *mongo.Collection
}

var _ store.NotificationStore = (*NotificationStore)(nil)

func NewNotificationStore(coll *mongo.Collection) *NotificationStore {
	return &NotificationStore{coll: coll}
}

// EnsureIndexes creates the owner listing and retention indexes.
func (s *NotificationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "is_read", Value: 1}}},
		{Keys: bson.D{{Key: "is_read", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create notification indexes: %w", err)
	}
	return nil
}

func (s *NotificationStore) Create(ctx context.Context, n *types.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	// BSON datetimes carry milliseconds; keep the caller's copy equal to
	// what a later read returns.
	n.CreatedAt = n.CreatedAt.Truncate(time.Millisecond)

	if _, err := s.coll.InsertOne(ctx, toDoc(n)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("notification %s already exists: %w", n.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Notification, error) {
	var doc notificationDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("notification with id %s not found: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get notification by id: %w", err)
	}
	n, err := doc.toNotification()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func listFilter(q types.ListQuery) bson.M {
	filter := bson.M{"owner_id": q.OwnerID}
	if q.UnreadOnly {
		filter["is_read"] = false
	}
	if q.Kind != "" {
		filter["kind"] = string(q.Kind)
	}
	return filter
}

func (s *NotificationStore) List(ctx context.Context, q types.ListQuery) ([]types.Notification, int, error) {
	q = q.Normalize()
	filter := listFilter(q)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(q.Offset())).
		SetLimit(int64(q.PageSize))
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notifications by owner: %w", err)
	}
	defer cursor.Close(ctx)

	notifications := []types.Notification{}
	for cursor.Next(ctx) {
		var doc notificationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("failed to decode notification: %w", err)
		}
		n, err := doc.toNotification()
		if err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, n)
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fmt.Errorf("error during cursor iteration for notifications: %w", err)
	}
	return notifications, int(total), nil
}

func (s *NotificationStore) CountUnread(ctx context.Context, ownerID string) (int, error) {
	count, err := s.coll.CountDocuments(ctx, bson.M{"owner_id": ownerID, "is_read": false})
	if err != nil {
		return 0, fmt.Errorf("failed to get unread notification count: %w", err)
	}
	return int(count), nil
}

// ownerOf returns the owner of id, or store.ErrNotFound.
func (s *NotificationStore) ownerOf(ctx context.Context, id uuid.UUID) (string, error) {
	var doc struct {
		OwnerID string `bson:"owner_id"`
	}
	opts := options.FindOne().SetProjection(bson.M{"owner_id": 1})
	err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to check notification owner: %w", err)
	}
	return doc.OwnerID, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID, ownerID string) error {
	filter := bson.M{"_id": id.String(), "owner_id": ownerID, "is_read": false}
	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

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

func (s *NotificationStore) MarkAllRead(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"owner_id": ownerID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *NotificationStore) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id.String(), "owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("failed to execute delete for notification %s: %w", id, err)
	}
	if res.DeletedCount > 0 {
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

func (s *NotificationStore) deleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *NotificationStore) DeleteAll(ctx context.Context, ownerID string) (int64, error) {
	n, err := s.deleteMany(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications for owner: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) DeleteByKind(ctx context.Context, ownerID string, kind types.NotificationKind) (int64, error) {
	n, err := s.deleteMany(ctx, bson.M{"owner_id": ownerID, "kind": string(kind)})
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s notifications: %w", kind, err)
	}
	return n, nil
}

func (s *NotificationStore) PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.deleteMany(ctx, bson.M{"is_read": true, "created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge read notifications: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

// Connect opens a client for uri and returns the notification collection.
func Connect(ctx context.Context, uri, database, collection string) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, client.Database(database).Collection(collection), nil
}
