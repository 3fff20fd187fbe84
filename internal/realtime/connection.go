package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/types"
)

// Handle is the transport side of a connection. The gateway calls Close once
// when the connection is torn down; transports flush what is left in the
// outbound channel before releasing the socket.
type Handle interface {
	Close(reason string) error
}

// Connection is one live client session. The outbound channel and the closed
// flag are guarded by the same mutex so an enqueue never races the close.
type Connection struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	ownerID      string
	rooms        map[string]struct{}
	transport    types.Transport
	handle       Handle
	lastActivity time.Time
	graceTimer   clock.Timer
	out          chan types.Event
	done         chan struct{}
	closed       bool
	closeReason  string
}

func newConnection(id string, h Handle, transport types.Transport, buffer int, now time.Time) *Connection {
	return &Connection{
		id:           id,
		createdAt:    now,
		rooms:        make(map[string]struct{}),
		transport:    transport,
		handle:       h,
		lastActivity: now,
		out:          make(chan types.Event, buffer),
		done:         make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// OwnerID is empty until the connection authenticates.
func (c *Connection) OwnerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownerID
}

func (c *Connection) Transport() types.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Rooms returns a copy of the room keys the connection belongs to.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.rooms))
	for k := range c.rooms {
		keys = append(keys, k)
	}
	return keys
}

// Outbound is drained by the transport. It is closed on disconnect after the
// last queued event.
func (c *Connection) Outbound() <-chan types.Event { return c.out }

// Done is closed when the connection is disconnected.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseReason is the reason passed to the disconnect, empty while live.
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Connection) touch(now time.Time) {
	c.mu.Lock()
	if !c.closed && now.After(c.lastActivity) {
		c.lastActivity = now
	}
	c.mu.Unlock()
}

// enqueue never blocks. It reports false when the connection is closed or its
// buffer is full.
func (c *Connection) enqueue(ev types.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- ev:
		return true
	default:
		return false
	}
}

// Drain waits up to wait for at least one event and returns whatever is queued,
// at most max events. It returns early when stop or the context fires. The
// boolean is false once the connection is closed and fully drained.
func (c *Connection) Drain(ctx context.Context, wait time.Duration, max int, stop <-chan struct{}) ([]types.Event, bool) {
	if max <= 0 {
		max = 64
	}
	events := make([]types.Event, 0, 4)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev, ok := <-c.out:
		if !ok {
			return events, false
		}
		events = append(events, ev)
	case <-timer.C:
		return events, true
	case <-stop:
		return events, true
	case <-ctx.Done():
		return events, true
	}

	for len(events) < max {
		select {
		case ev, ok := <-c.out:
			if !ok {
				return events, false
			}
			events = append(events, ev)
		default:
			return events, true
		}
	}
	return events, true
}
