package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationKind is the closed set of notification categories.
type NotificationKind string

const (
	KindSystem     NotificationKind = "system"
	KindInvitation NotificationKind = "invitation"
	KindMessage    NotificationKind = "message"
	KindLike       NotificationKind = "like"
	KindJoin       NotificationKind = "join"
	KindReminder   NotificationKind = "reminder"
)

// AllKinds lists every valid kind in display order.
var AllKinds = []NotificationKind{KindSystem, KindInvitation, KindMessage, KindLike, KindJoin, KindReminder}

// Valid reports whether k is one of the known kinds.
func (k NotificationKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind parses a kind filter. An empty string means "all kinds".
func ParseKind(s string) (NotificationKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "all" {
		return "", nil
	}
	k := NotificationKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown notification type %q", s)
	}
	return k, nil
}

// Notification is a message addressed to a single owner.
type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	OwnerID   string           `json:"ownerId" db:"owner_id"`
	Kind      NotificationKind `json:"type" db:"kind"`
	Title     string           `json:"title" db:"title"`
	Body      string           `json:"body" db:"body"`
	Link      *string          `json:"link,omitempty" db:"link"`
	IsRead    bool             `json:"isRead" db:"is_read"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
}

// CreateNotificationParams carries the caller-supplied fields of a new notification.
type CreateNotificationParams struct {
	OwnerID string           `json:"ownerId" binding:"required"`
	Kind    NotificationKind `json:"type" binding:"required"`
	Title   string           `json:"title" binding:"required"`
	Body    string           `json:"body"`
	Link    *string          `json:"link,omitempty"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListQuery selects one page of an owner's notifications.
type ListQuery struct {
	OwnerID    string
	Page       int
	PageSize   int
	UnreadOnly bool
	Kind       NotificationKind
}

// Normalize clamps paging to sane bounds.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

// Offset is the number of rows skipped for the query's page.
func (q ListQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PageSize
}

// ListResult is one page plus the owner-wide counters.
type ListResult struct {
	Items       []Notification `json:"items"`
	Total       int            `json:"total"`
	UnreadCount int            `json:"unreadCount"`
}

// TotalPages returns the page count for the given page size.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// PaginationInfo describes the page returned by the list endpoint.
type PaginationInfo struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// NotificationListResponse is the body of GET /v1/notifications.
type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	Pagination    PaginationInfo `json:"pagination"`
	UnreadCount   int            `json:"unreadCount"`
	Message       string         `json:"message,omitempty"`
}
