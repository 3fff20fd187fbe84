package realtime

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/types"
)

const defaultPollBatch = 64

// PollingHub serves the long-polling transport. The session id handed to the
// client is the connection id.
type PollingHub struct {
	gateway      *Gateway
	wait         time.Duration
	pingInterval time.Duration
	maxBatch     int

	mu       sync.Mutex
	sessions map[string]*pollingHandle
}

func NewPollingHub(g *Gateway, wait, pingInterval time.Duration) *PollingHub {
	if wait <= 0 {
		wait = 25 * time.Second
	}
	return &PollingHub{
		gateway:      g,
		wait:         wait,
		pingInterval: pingInterval,
		maxBatch:     defaultPollBatch,
		sessions:     make(map[string]*pollingHandle),
	}
}

type pollingHandle struct {
	hub  *PollingHub
	once sync.Once
	stop chan struct{}
	sid  string
}

// Close wakes pending long-polls and forgets the session.
func (h *pollingHandle) Close(string) error {
	h.once.Do(func() {
		close(h.stop)
		h.hub.mu.Lock()
		if h.hub.sessions[h.sid] == h {
			delete(h.hub.sessions, h.sid)
		}
		h.hub.mu.Unlock()
	})
	return nil
}

// Open registers a polling connection. ownerID may be empty.
func (p *PollingHub) Open(ctx context.Context, ownerID string) (*Connection, types.PollingHandshake, error) {
	handle := &pollingHandle{hub: p, stop: make(chan struct{})}

	// The handle learns its session id once Accept assigns one.
	conn, err := p.gateway.Accept(ctx, handle, AcceptOptions{Transport: types.TransportPolling, OwnerID: ownerID})
	if err != nil {
		return nil, types.PollingHandshake{}, err
	}

	p.mu.Lock()
	handle.sid = conn.ID()
	if !conn.IsClosed() {
		p.sessions[conn.ID()] = handle
	}
	p.mu.Unlock()

	return conn, types.PollingHandshake{
		SessionID:    conn.ID(),
		PollWaitMs:   p.wait.Milliseconds(),
		PingInterval: p.pingInterval.Milliseconds(),
	}, nil
}

func (p *PollingHub) session(sid string) (*Connection, *pollingHandle, error) {
	p.mu.Lock()
	handle, ok := p.sessions[sid]
	p.mu.Unlock()
	if !ok {
		return nil, nil, apperrors.NotFound("Session", sid)
	}
	conn, ok := p.gateway.Connection(sid)
	if !ok {
		_ = handle.Close("")
		return nil, nil, apperrors.NotFound("Session", sid)
	}
	return conn, handle, nil
}

// Poll long-polls for queued events. It returns as soon as anything is queued
// or the wait elapses.
func (p *PollingHub) Poll(ctx context.Context, sid string) ([]types.Event, error) {
	conn, handle, err := p.session(sid)
	if err != nil {
		return nil, err
	}
	p.gateway.Touch(sid)

	events, open := conn.Drain(ctx, p.wait, p.maxBatch, handle.stop)
	if !open {
		_ = handle.Close("")
	}
	return events, nil
}

// Post hands client events to the gateway in order. Processing stops at the
// first event that closed the connection.
func (p *PollingHub) Post(ctx context.Context, sid string, events []types.Event) error {
	conn, _, err := p.session(sid)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := p.gateway.HandleEvent(ctx, sid, ev); err != nil {
			if conn.IsClosed() {
				return err
			}
			p.gateway.log.Debugw("Polling event rejected", "connectionID", sid, "event", ev.Name, "error", err)
		}
	}
	return nil
}

// Close ends a session at the client's request.
func (p *PollingHub) Close(sid string) error {
	if _, _, err := p.session(sid); err != nil {
		return err
	}
	p.gateway.HandleDisconnect(sid, ReasonClientClose)
	return nil
}

// Sessions returns the number of open polling sessions.
func (p *PollingHub) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
