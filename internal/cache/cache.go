// Package cache keeps recently computed notification list pages so repeated
// reads do not reach the store. Entries are grouped by owner so any write for
// an owner drops every page cached for that owner at once.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/NomadCrew/nomad-realtime/types"
)

// DefaultTTL is used when a cache is built with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Key identifies one cached list page.
type Key struct {
	OwnerID    string
	Page       int
	PageSize   int
	UnreadOnly bool
	Kind       types.NotificationKind
}

// KeyFor builds the key of a normalized query.
func KeyFor(q types.ListQuery) Key {
	q = q.Normalize()
	return Key{
		OwnerID:    q.OwnerID,
		Page:       q.Page,
		PageSize:   q.PageSize,
		UnreadOnly: q.UnreadOnly,
		Kind:       q.Kind,
	}
}

// field is the per-owner sub-key.
func (k Key) field() string {
	kind := string(k.Kind)
	if kind == "" {
		kind = "all"
	}
	return fmt.Sprintf("p=%d|s=%d|u=%t|k=%s", k.Page, k.PageSize, k.UnreadOnly, kind)
}

// Entry is a cached page and the time it was computed.
type Entry struct {
	Result     types.ListResult `json:"result"`
	ComputedAt time.Time        `json:"computedAt"`
}

// Cache is implemented by the in-process and redis backends.
//
// Every owner has a generation that InvalidateOwner advances. A reader takes
// the generation before it queries the store and hands it to Set, which
// discards the page if the owner was invalidated in between.
type Cache interface {
	// Get returns a fresh entry. Backend failures count as a miss.
	Get(ctx context.Context, key Key) (Entry, bool)
	Generation(ctx context.Context, ownerID string) (uint64, error)
	// Set stores result unless ownerID has moved past gen. It reports
	// whether the page was stored.
	Set(ctx context.Context, key Key, result types.ListResult, gen uint64) bool
	// InvalidateOwner drops every entry of ownerID and advances its
	// generation.
	InvalidateOwner(ctx context.Context, ownerID string) error
}

func copyResult(r types.ListResult) types.ListResult {
	items := make([]types.Notification, len(r.Items))
	copy(items, r.Items)
	r.Items = items
	return r
}
