package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/internal/identity"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

var epoch = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeHandle struct {
	mu      sync.Mutex
	closes  int
	reasons []string
}

func (h *fakeHandle) Close(reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	h.reasons = append(h.reasons, reason)
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func newTestGateway(t *testing.T, opts Options) (*Gateway, *clock.Fake) {
	t.Helper()
	resetMetricsForTesting()
	clk := clock.NewFake(epoch)
	return NewGateway(opts, identity.NormalizingResolver{}, nil, clk), clk
}

// queued drains whatever is buffered on the connection without blocking.
func queued(conn *Connection) []types.Event {
	var events []types.Event
	for {
		select {
		case ev, ok := <-conn.Outbound():
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func names(events []types.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Name)
	}
	return out
}

func TestGateway_ConnectionCeiling(t *testing.T) {
	g, _ := newTestGateway(t, Options{MaxConnections: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{Transport: types.TransportPush})
		require.NoError(t, err)
	}

	third := &fakeHandle{}
	conn, err := g.Accept(ctx, third, AcceptOptions{Transport: types.TransportPush})
	assert.Nil(t, conn)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.CapacityExceededError))
	assert.Equal(t, 1, third.closeCount(), "rejected handle is closed immediately")
	assert.Equal(t, 2, g.Count())
	assert.Equal(t, float64(1), testutil.ToFloat64(g.metrics.rejected))
	assert.Equal(t, float64(2), testutil.ToFloat64(g.metrics.liveConnections))
}

func TestGateway_CeilingFreesUpAfterDisconnect(t *testing.T) {
	g, _ := newTestGateway(t, Options{MaxConnections: 1})
	ctx := context.Background()

	first, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{})
	require.NoError(t, err)
	_, err = g.Accept(ctx, &fakeHandle{}, AcceptOptions{})
	require.Error(t, err)

	g.HandleDisconnect(first.ID(), ReasonClientClose)
	_, err = g.Accept(ctx, &fakeHandle{}, AcceptOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Count())
}

func TestGateway_AcceptEmitsConnectSuccess(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	conn, err := g.Accept(context.Background(), &fakeHandle{}, AcceptOptions{Transport: types.TransportPolling})
	require.NoError(t, err)

	events := queued(conn)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventConnectSuccess, events[0].Name)

	var payload types.ConnectSuccessPayload
	require.NoError(t, events[0].Decode(&payload))
	assert.Equal(t, conn.ID(), payload.ConnectionID)
	assert.Empty(t, payload.OwnerID)
	assert.Equal(t, types.TransportPolling, payload.Transport)
	assert.Empty(t, conn.OwnerID())
}

func TestGateway_HandshakeOwnerAuthenticatesImmediately(t *testing.T) {
	g, clk := newTestGateway(t, Options{})
	conn, err := g.Accept(context.Background(), &fakeHandle{}, AcceptOptions{OwnerID: " u1 "})
	require.NoError(t, err)

	assert.Equal(t, "u1", conn.OwnerID())
	assert.Equal(t, []string{types.EventConnectSuccess, types.EventAuthSuccess}, names(queued(conn)))
	assert.Equal(t, 1, g.Rooms().Size(UserRoom("u1")))
	assert.Equal(t, 0, clk.Pending(), "no grace timer for authenticated handshakes")
}

func TestGateway_AuthGraceClosesWithAuthError(t *testing.T) {
	g, clk := newTestGateway(t, Options{AuthGrace: 5 * time.Second})
	h := &fakeHandle{}
	conn, err := g.Accept(context.Background(), h, AcceptOptions{})
	require.NoError(t, err)

	clk.Advance(4 * time.Second)
	assert.False(t, conn.IsClosed())

	clk.Advance(time.Second)
	assert.True(t, conn.IsClosed())
	assert.Equal(t, ReasonAuthTimeout, conn.CloseReason())
	assert.Equal(t, 0, g.Count())
	assert.Equal(t, 1, h.closeCount())

	events := queued(conn)
	assert.Equal(t, []string{types.EventConnectSuccess, types.EventAuthError}, names(events))
	var payload types.AuthErrorPayload
	require.NoError(t, events[1].Decode(&payload))
	assert.NotEmpty(t, payload.Message)
}

func TestGateway_AuthenticateStopsGraceTimer(t *testing.T) {
	g, clk := newTestGateway(t, Options{AuthGrace: 5 * time.Second})
	conn, err := g.Accept(context.Background(), &fakeHandle{}, AcceptOptions{})
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	require.NoError(t, g.Authenticate(context.Background(), conn.ID(), "u1"))
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Minute)
	assert.False(t, conn.IsClosed())
	assert.Equal(t, []string{UserRoom("u1")}, conn.Rooms())
}

func TestGateway_AuthenticateIsIdempotentAndMovesRooms(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	ctx := context.Background()
	conn, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{})
	require.NoError(t, err)
	queued(conn)

	require.NoError(t, g.Authenticate(ctx, conn.ID(), "u1"))
	require.NoError(t, g.Authenticate(ctx, conn.ID(), "u1"))
	assert.Equal(t, 1, g.Rooms().Size(UserRoom("u1")))
	assert.Equal(t, []string{types.EventAuthSuccess, types.EventAuthSuccess}, names(queued(conn)))

	require.NoError(t, g.Authenticate(ctx, conn.ID(), "u2"))
	assert.Equal(t, 0, g.Rooms().Size(UserRoom("u1")))
	assert.Equal(t, 1, g.Rooms().Size(UserRoom("u2")))
	assert.Equal(t, "u2", conn.OwnerID())
	assert.Equal(t, 1, g.Rooms().Count(), "the emptied room is pruned")
}

func TestGateway_AuthenticateRejectsUnresolvableOwner(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	ctx := context.Background()
	conn, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{})
	require.NoError(t, err)
	queued(conn)

	err = g.Authenticate(ctx, conn.ID(), "   ")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.AuthRequiredError))
	assert.Equal(t, []string{types.EventAuthError}, names(queued(conn)))
	assert.False(t, conn.IsClosed(), "the grace window still applies")

	err = g.Authenticate(ctx, "missing", "u1")
	assert.True(t, apperrors.IsType(err, apperrors.NotFoundError))
}

func TestGateway_PingAnswersPong(t *testing.T) {
	g, clk := newTestGateway(t, Options{})
	ctx := context.Background()
	conn, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{OwnerID: "u1"})
	require.NoError(t, err)
	queued(conn)

	clk.Advance(time.Minute)
	require.NoError(t, g.HandleEvent(ctx, conn.ID(), types.Event{Name: types.EventPing}))

	events := queued(conn)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventPong, events[0].Name)
	var pong types.PongPayload
	require.NoError(t, events[0].Decode(&pong))
	assert.True(t, pong.ServerTime.Equal(epoch.Add(time.Minute)))
	assert.Equal(t, epoch.Add(time.Minute), conn.LastActivity())
}

func TestGateway_AuthenticateEvent(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	ctx := context.Background()
	conn, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{})
	require.NoError(t, err)
	queued(conn)

	ev, err := types.NewEvent(types.EventAuthenticate, types.AuthenticatePayload{OwnerID: "u7"})
	require.NoError(t, err)
	require.NoError(t, g.HandleEvent(ctx, conn.ID(), ev))

	assert.Equal(t, "u7", conn.OwnerID())
	assert.Equal(t, []string{types.EventAuthSuccess}, names(queued(conn)))

	// No credentials at all.
	err = g.HandleEvent(ctx, conn.ID(), types.Event{Name: types.EventAuthenticate})
	assert.True(t, apperrors.IsType(err, apperrors.AuthRequiredError))
	assert.Equal(t, []string{types.EventAuthError}, names(queued(conn)))
	assert.Equal(t, "u7", conn.OwnerID(), "a failed re-assertion keeps the previous owner")
}

func TestGateway_UnknownOrMalformedEventDropsConnection(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	ctx := context.Background()

	unknown, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{OwnerID: "u1"})
	require.NoError(t, err)
	bystander, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{OwnerID: "u1"})
	require.NoError(t, err)

	err = g.HandleEvent(ctx, unknown.ID(), types.Event{Name: "subscribe"})
	assert.True(t, apperrors.IsType(err, apperrors.ValidationError))
	assert.True(t, unknown.IsClosed())
	assert.Equal(t, ReasonProtocolError, unknown.CloseReason())

	malformed, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{})
	require.NoError(t, err)
	err = g.HandleEvent(ctx, malformed.ID(), types.Event{Name: types.EventAuthenticate, Data: json.RawMessage(`"not-an-object"`)})
	assert.True(t, apperrors.IsType(err, apperrors.ValidationError))
	assert.True(t, malformed.IsClosed())

	assert.False(t, bystander.IsClosed())
	assert.Equal(t, 1, g.Count())
	assert.Equal(t, 1, g.Rooms().Size(UserRoom("u1")))
}

func TestGateway_HandleDisconnectIsIdempotent(t *testing.T) {
	g, clk := newTestGateway(t, Options{})
	h := &fakeHandle{}
	conn, err := g.Accept(context.Background(), h, AcceptOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, clk.Pending())

	g.HandleDisconnect(conn.ID(), ReasonClientClose)
	g.HandleDisconnect(conn.ID(), ReasonClientClose)
	g.HandleDisconnect("never-existed", ReasonClientClose)

	assert.Equal(t, 1, h.closeCount())
	assert.Equal(t, 0, g.Count())
	assert.Equal(t, 0, clk.Pending(), "grace timer released")
	select {
	case <-conn.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestGateway_DisconnectLeavesEveryRoom(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	conn, err := g.Accept(context.Background(), &fakeHandle{}, AcceptOptions{OwnerID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 1, g.Rooms().Count())

	g.HandleDisconnect(conn.ID(), ReasonClientClose)
	assert.Empty(t, g.Rooms().Members(UserRoom("u1")))
	assert.Equal(t, 0, g.Rooms().Count())
	assert.Empty(t, conn.Rooms())
}

func TestGateway_SweepEvictsIdleConnections(t *testing.T) {
	g, clk := newTestGateway(t, Options{IdleTimeout: 30 * time.Minute})
	ctx := context.Background()

	quiet, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{OwnerID: "u1"})
	require.NoError(t, err)
	chatty, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{OwnerID: "u2"})
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	require.NoError(t, g.HandleEvent(ctx, chatty.ID(), types.Event{Name: types.EventPing}))

	clk.Advance(10*time.Minute - time.Second)
	assert.Equal(t, 0, g.Sweep(clk.Now()))

	clk.Advance(time.Second)
	assert.Equal(t, 1, g.Sweep(clk.Now()))
	assert.True(t, quiet.IsClosed())
	assert.Equal(t, ReasonIdleTimeout, quiet.CloseReason())
	assert.False(t, chatty.IsClosed())
	assert.Empty(t, g.Rooms().Members(UserRoom("u1")))
}

func TestGateway_UpgradeSwapsHandle(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	ctx := context.Background()
	polling := &fakeHandle{}
	conn, err := g.Accept(ctx, polling, AcceptOptions{Transport: types.TransportPolling, OwnerID: "u1"})
	require.NoError(t, err)

	push := &fakeHandle{}
	upgraded, err := g.Upgrade(conn.ID(), push)
	require.NoError(t, err)
	assert.Same(t, conn, upgraded)
	assert.Equal(t, types.TransportPush, conn.Transport())
	assert.Equal(t, 1, polling.closeCount())

	_, err = g.Upgrade(conn.ID(), &fakeHandle{})
	assert.True(t, apperrors.IsType(err, apperrors.ValidationError), "push never goes back")

	g.HandleDisconnect(conn.ID(), ReasonClientClose)
	assert.Equal(t, 1, push.closeCount())
	assert.Equal(t, 1, polling.closeCount())

	_, err = g.Upgrade(conn.ID(), &fakeHandle{})
	assert.True(t, apperrors.IsType(err, apperrors.NotFoundError))
}

func TestGateway_ShutdownClosesEverything(t *testing.T) {
	g, _ := newTestGateway(t, Options{})
	ctx := context.Background()
	handles := []*fakeHandle{{}, {}, {}}
	for _, h := range handles {
		_, err := g.Accept(ctx, h, AcceptOptions{OwnerID: "u1"})
		require.NoError(t, err)
	}

	require.NoError(t, g.Shutdown(ctx))
	assert.Equal(t, 0, g.Count())
	for _, h := range handles {
		assert.Equal(t, 1, h.closeCount())
	}

	_, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.CapacityExceededError))
}

func TestGateway_ConcurrentPublishAndDisconnect(t *testing.T) {
	g, _ := newTestGateway(t, Options{SendBuffer: 4})
	d := NewDispatcher(g.Rooms())
	ctx := context.Background()

	conns := make([]*Connection, 0, 50)
	for i := 0; i < 50; i++ {
		conn, err := g.Accept(ctx, &fakeHandle{}, AcceptOptions{OwnerID: "u1"})
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.Publish("u1", types.EventNotification, map[string]int{"n": i})
		}
	}()
	go func() {
		defer wg.Done()
		for _, conn := range conns {
			g.HandleDisconnect(conn.ID(), ReasonClientClose)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, g.Count())
	assert.Equal(t, 0, d.Publish("u1", types.EventNotification, nil))
}
