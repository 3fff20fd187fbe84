// Package realtime implements the connection gateway: connection lifecycle,
// per-user rooms and fan-out of server events to live connections. Transports
// (websocket push and HTTP long-polling) sit on top and only move events
// between the socket and a Connection.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/internal/identity"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Disconnect reasons. They double as metric labels so the set stays closed.
const (
	ReasonClientClose   = "client_close"
	ReasonIdleTimeout   = "idle_timeout"
	ReasonAuthTimeout   = "auth_timeout"
	ReasonProtocolError = "protocol_error"
	ReasonTransport     = "transport_error"
	ReasonShutdown      = "shutdown"
)

const (
	DefaultMaxConnections = 10000
	DefaultIdleTimeout    = 30 * time.Minute
	DefaultAuthGrace      = 5 * time.Second
	DefaultSendBuffer     = 64
)

// Options configures a Gateway. Zero values fall back to the defaults above.
type Options struct {
	MaxConnections int
	IdleTimeout    time.Duration
	AuthGrace      time.Duration
	SendBuffer     int
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.AuthGrace <= 0 {
		o.AuthGrace = DefaultAuthGrace
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	return o
}

// AcceptOptions describes a transport handshake.
type AcceptOptions struct {
	Transport types.Transport
	// OwnerID is an already authenticated owner, empty when the client will
	// authenticate later.
	OwnerID string
}

type eventHandler func(ctx context.Context, conn *Connection, ev types.Event) error

var errUnknownEvent = errors.New("unknown event")

// Gateway owns the connection table and the room registry.
type Gateway struct {
	opts     Options
	clock    clock.Clock
	resolver identity.Resolver
	auth     Authenticator
	rooms    *Rooms
	log      *zap.SugaredLogger
	metrics  *gatewayMetrics
	handlers map[string]eventHandler

	mu      sync.Mutex
	conns   map[string]*Connection
	closing bool
}

// NewGateway builds a gateway. A nil authenticator takes authenticate events
// at face value; a nil clock uses the wall clock.
func NewGateway(opts Options, resolver identity.Resolver, auth Authenticator, clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.New()
	}
	if resolver == nil {
		resolver = identity.NormalizingResolver{}
	}
	if auth == nil {
		auth = TrustingAuthenticator{}
	}
	g := &Gateway{
		opts:     opts.withDefaults(),
		clock:    clk,
		resolver: resolver,
		auth:     auth,
		rooms:    NewRooms(),
		log:      logger.GetLogger().Named("gateway"),
		metrics:  newGatewayMetrics(),
		conns:    make(map[string]*Connection),
	}
	g.handlers = map[string]eventHandler{
		types.EventPing:         g.handlePing,
		types.EventAuthenticate: g.handleAuthenticate,
	}
	return g
}

func (g *Gateway) Rooms() *Rooms { return g.rooms }

func (g *Gateway) Clock() clock.Clock { return g.clock }

func (g *Gateway) Options() Options { return g.opts }

// Count returns the number of live connections.
func (g *Gateway) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Connection looks up a live connection.
func (g *Gateway) Connection(id string) (*Connection, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[id]
	return c, ok
}

// Accept registers a new connection. At the ceiling the handle is closed and
// a CapacityExceeded error is returned; nothing is queued.
func (g *Gateway) Accept(ctx context.Context, h Handle, opts AcceptOptions) (*Connection, error) {
	if opts.Transport == "" {
		opts.Transport = types.TransportPush
	}

	owner := ""
	if opts.OwnerID != "" {
		canonical, err := g.resolver.Canonical(ctx, opts.OwnerID)
		if err != nil {
			_ = h.Close(ReasonProtocolError)
			return nil, apperrors.AuthRequired("owner id cannot be resolved")
		}
		owner = canonical
	}

	now := g.clock.Now()
	conn := newConnection(uuid.NewString(), h, opts.Transport, g.opts.SendBuffer, now)

	g.mu.Lock()
	if g.closing || len(g.conns) >= g.opts.MaxConnections {
		live := len(g.conns)
		g.mu.Unlock()
		g.metrics.rejected.Inc()
		g.log.Warnw("Rejecting connection at ceiling", "live", live, "limit", g.opts.MaxConnections)
		_ = h.Close("capacity exceeded")
		return nil, apperrors.CapacityExceeded(g.opts.MaxConnections)
	}
	g.conns[conn.id] = conn
	live := len(g.conns)
	g.mu.Unlock()

	g.metrics.liveConnections.Set(float64(live))
	g.metrics.accepted.WithLabelValues(string(opts.Transport)).Inc()
	g.log.Debugw("Connection accepted", "connectionID", conn.id, "transport", opts.Transport, "live", live)

	g.emit(conn, types.EventConnectSuccess, types.ConnectSuccessPayload{
		ConnectionID: conn.id,
		OwnerID:      owner,
		Transport:    opts.Transport,
	})

	if owner != "" {
		g.bind(conn, owner)
		return conn, nil
	}

	timer := g.clock.AfterFunc(g.opts.AuthGrace, func() { g.expireGrace(conn.id) })
	conn.mu.Lock()
	if conn.closed || conn.ownerID != "" {
		conn.mu.Unlock()
		timer.Stop()
		return conn, nil
	}
	conn.graceTimer = timer
	conn.mu.Unlock()
	return conn, nil
}

// Authenticate binds a raw owner id to the connection and moves it into the
// owner's room. Re-asserting the same owner only repeats the acknowledgment.
func (g *Gateway) Authenticate(ctx context.Context, connID, rawOwner string) error {
	conn, ok := g.Connection(connID)
	if !ok {
		return apperrors.NotFound("Connection", connID)
	}
	owner, err := g.resolver.Canonical(ctx, rawOwner)
	if err != nil {
		g.emit(conn, types.EventAuthError, types.AuthErrorPayload{Message: "owner id cannot be resolved"})
		return apperrors.AuthRequired("owner id cannot be resolved")
	}
	if !g.bind(conn, owner) {
		return apperrors.NotFound("Connection", connID)
	}
	return nil
}

// bind records the owner, swaps rooms and acknowledges. Room changes happen
// under the connection mutex so a concurrent disconnect cannot leave the
// connection behind in a room.
func (g *Gateway) bind(conn *Connection, owner string) bool {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return false
	}
	previous := conn.ownerID
	if previous != owner {
		if previous != "" {
			room := UserRoom(previous)
			g.rooms.Leave(room, conn)
			delete(conn.rooms, room)
		}
		room := UserRoom(owner)
		g.rooms.Join(room, conn)
		conn.rooms[room] = struct{}{}
		conn.ownerID = owner
	}
	timer := conn.graceTimer
	conn.graceTimer = nil
	conn.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if previous != owner {
		g.log.Debugw("Connection authenticated", "connectionID", conn.id, "ownerID", owner, "previousOwnerID", previous)
	}
	g.emit(conn, types.EventAuthSuccess, types.AuthSuccessPayload{OwnerID: owner})
	return true
}

func (g *Gateway) expireGrace(connID string) {
	conn, ok := g.Connection(connID)
	if !ok || conn.OwnerID() != "" {
		return
	}
	g.emit(conn, types.EventAuthError, types.AuthErrorPayload{Message: "authentication timeout"})
	g.log.Infow("Closing unauthenticated connection", "connectionID", connID)
	g.HandleDisconnect(connID, ReasonAuthTimeout)
}

// HandleDisconnect removes the connection from every room, releases its timer
// and closes its handle. Unknown or already closed connections are ignored.
func (g *Gateway) HandleDisconnect(connID, reason string) {
	g.mu.Lock()
	conn, ok := g.conns[connID]
	if ok {
		delete(g.conns, connID)
	}
	live := len(g.conns)
	g.mu.Unlock()
	if !ok {
		return
	}

	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	conn.closeReason = reason
	for room := range conn.rooms {
		g.rooms.Leave(room, conn)
	}
	conn.rooms = make(map[string]struct{})
	timer := conn.graceTimer
	conn.graceTimer = nil
	handle := conn.handle
	close(conn.out)
	close(conn.done)
	conn.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	g.metrics.liveConnections.Set(float64(live))
	g.metrics.disconnects.WithLabelValues(reason).Inc()
	if handle != nil {
		if err := handle.Close(reason); err != nil {
			g.log.Debugw("Error closing transport", "connectionID", connID, "error", err)
		}
	}
	g.log.Debugw("Connection closed", "connectionID", connID, "reason", reason, "live", live)
}

// HandleEvent refreshes the activity clock and runs the handler registered
// for the event. Unknown or malformed events drop the connection.
func (g *Gateway) HandleEvent(ctx context.Context, connID string, ev types.Event) error {
	conn, ok := g.Connection(connID)
	if !ok {
		return apperrors.NotFound("Connection", connID)
	}
	conn.touch(g.clock.Now())

	handler, ok := g.handlers[ev.Name]
	if !ok {
		g.metrics.events.WithLabelValues("unknown").Inc()
		g.log.Warnw("Dropping connection after unknown event", "connectionID", connID, "event", ev.Name)
		g.HandleDisconnect(connID, ReasonProtocolError)
		return apperrors.ValidationFailed("unknown event", ev.Name)
	}
	g.metrics.events.WithLabelValues(ev.Name).Inc()

	if err := handler(ctx, conn, ev); err != nil {
		if errors.Is(err, errMalformed) {
			g.log.Warnw("Dropping connection after malformed event", "connectionID", connID, "event", ev.Name, "error", err)
			g.HandleDisconnect(connID, ReasonProtocolError)
			return apperrors.ValidationFailed("malformed event", ev.Name)
		}
		return err
	}
	return nil
}

// Touch records activity that is not an event, such as a long-poll request
// or a transport-level pong.
func (g *Gateway) Touch(connID string) {
	if conn, ok := g.Connection(connID); ok {
		conn.touch(g.clock.Now())
	}
}

var errMalformed = errors.New("malformed event payload")

func (g *Gateway) handlePing(_ context.Context, conn *Connection, _ types.Event) error {
	g.emit(conn, types.EventPong, types.PongPayload{ServerTime: g.clock.Now().UTC()})
	return nil
}

func (g *Gateway) handleAuthenticate(ctx context.Context, conn *Connection, ev types.Event) error {
	var payload types.AuthenticatePayload
	if err := ev.Decode(&payload); err != nil {
		return errMalformed
	}
	raw, err := g.auth.Authenticate(ctx, Credentials{Token: payload.Token, OwnerID: payload.OwnerID})
	if err != nil {
		g.log.Infow("Authentication rejected", "connectionID", conn.id, "error", err)
		g.emit(conn, types.EventAuthError, types.AuthErrorPayload{Message: "authentication failed"})
		return apperrors.AuthRequired("authentication failed")
	}
	return g.Authenticate(ctx, conn.id, raw)
}

// Sweep disconnects every connection idle for at least the idle window and
// returns how many were evicted.
func (g *Gateway) Sweep(now time.Time) int {
	g.mu.Lock()
	idle := make([]string, 0)
	for id, conn := range g.conns {
		if now.Sub(conn.LastActivity()) >= g.opts.IdleTimeout {
			idle = append(idle, id)
		}
	}
	g.mu.Unlock()

	for _, id := range idle {
		g.HandleDisconnect(id, ReasonIdleTimeout)
	}
	if len(idle) > 0 {
		g.log.Infow("Evicted idle connections", "count", len(idle))
	}
	return len(idle)
}

// Upgrade moves a polling connection onto a push handle. The previous handle
// is closed after the swap so it no longer drains the outbound channel.
func (g *Gateway) Upgrade(connID string, h Handle) (*Connection, error) {
	conn, ok := g.Connection(connID)
	if !ok {
		return nil, apperrors.NotFound("Connection", connID)
	}

	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return nil, apperrors.NotFound("Connection", connID)
	}
	if conn.transport == types.TransportPush {
		conn.mu.Unlock()
		return nil, apperrors.ValidationFailed("connection already uses push", connID)
	}
	previous := conn.handle
	conn.handle = h
	conn.transport = types.TransportPush
	conn.lastActivity = g.clock.Now()
	conn.mu.Unlock()

	if previous != nil {
		_ = previous.Close("upgraded")
	}
	g.log.Debugw("Connection upgraded to push", "connectionID", connID)
	return conn, nil
}

// Shutdown refuses new connections and disconnects every live one.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	g.log.Infow("Shutting down gateway", "connections", len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.HandleDisconnect(id, ReasonShutdown)
	}
	return nil
}

// emit queues an event for a single connection.
func (g *Gateway) emit(conn *Connection, name string, payload interface{}) bool {
	ev, err := types.NewEvent(name, payload)
	if err != nil {
		g.log.Errorw("Failed to encode event", "event", name, "error", err)
		return false
	}
	if !conn.enqueue(ev) {
		g.log.Debugw("Event not queued", "connectionID", conn.id, "event", name)
		return false
	}
	return true
}
