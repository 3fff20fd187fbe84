package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

var errRefused = errors.New("connection refused")

type fakeSession struct {
	events chan types.Event
	sent   chan types.Event

	once   sync.Once
	closed chan struct{}
	lost   chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events: make(chan types.Event, 16),
		sent:   make(chan types.Event, 16),
		closed: make(chan struct{}),
		lost:   make(chan struct{}),
	}
}

func (s *fakeSession) Send(_ context.Context, ev types.Event) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	s.sent <- ev
	return nil
}

func (s *fakeSession) Receive(ctx context.Context) (types.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.lost:
		return types.Event{}, io.EOF
	case <-s.closed:
		return types.Event{}, ErrSessionClosed
	case <-ctx.Done():
		return types.Event{}, ctx.Err()
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// push queues a server event.
func (s *fakeSession) push(t *testing.T, name string, payload interface{}) {
	t.Helper()
	ev, err := types.NewEvent(name, payload)
	require.NoError(t, err)
	s.events <- ev
}

// fakeDialer fails while failures remain, then hands out sessions.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		return nil, errRefused
	}
	s := newFakeSession()
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

var testBackoff = Backoff{Base: time.Second, Max: 5 * time.Second, MaxAttempts: 3}

func newTestManager(d Dialer, creds Credentials, opts ...ManagerOption) (*Manager, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewManager(d, creds, testBackoff, clk, opts...), clk
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state is %s, want %s", m.State(), want)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 5 * time.Second}
	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, b.Max, "attempt %d", attempt)
		prev = d
	}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 3*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(9))
}

func TestManager_AnonymousConnectGoesActive(t *testing.T) {
	d := &fakeDialer{}
	m, _ := newTestManager(d, Credentials{})

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateActive, m.State())

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateActive}, states)
	mu.Unlock()

	// A second Connect while active keeps the session.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_ListenerAddedDuringNotifySeesLaterTransitions(t *testing.T) {
	d := &fakeDialer{}
	m, _ := newTestManager(d, Credentials{})

	var mu sync.Mutex
	var late []State
	added := false
	m.OnStateChange(func(State) {
		if added {
			return
		}
		added = true
		// Listeners run outside the manager lock, so registering here is safe;
		// the transition being announced is not replayed to the newcomer.
		m.OnStateChange(func(s State) {
			mu.Lock()
			late = append(late, s)
			mu.Unlock()
		})
	})

	require.NoError(t, m.Connect(context.Background()))

	mu.Lock()
	assert.Equal(t, []State{StateConnected, StateActive}, late)
	mu.Unlock()
}

func TestManager_AuthenticatesAfterConnect(t *testing.T) {
	d := &fakeDialer{}
	received := make(chan types.Event, 4)
	m, _ := newTestManager(d, Credentials{Token: "tok", OwnerID: "u1"},
		WithEventHandler(func(ev types.Event) { received <- ev }))

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateAuthenticating, m.State())

	sess := d.last()
	sent := <-sess.sent
	assert.Equal(t, types.EventAuthenticate, sent.Name)
	var payload types.AuthenticatePayload
	require.NoError(t, sent.Decode(&payload))
	assert.Equal(t, types.AuthenticatePayload{OwnerID: "u1", Token: "tok"}, payload)

	sess.push(t, types.EventAuthSuccess, types.AuthSuccessPayload{OwnerID: "u1"})
	waitForState(t, m, StateActive)

	sess.push(t, types.EventNotification, map[string]string{"title": "hi"})
	select {
	case ev := <-received:
		assert.Equal(t, types.EventNotification, ev.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered to handler")
	}
}

func TestManager_AuthErrorStopsRetrying(t *testing.T) {
	d := &fakeDialer{}
	m, clk := newTestManager(d, Credentials{Token: "expired"})

	require.NoError(t, m.Connect(context.Background()))
	sess := d.last()
	<-sess.sent
	sess.push(t, types.EventAuthError, types.AuthErrorPayload{Message: "authentication failed"})

	require.Eventually(t, m.NeedsManualReconnect, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, apperrors.IsType(m.LastError(), apperrors.AuthRequiredError))
	require.Eventually(t, sess.isClosed, time.Second, 5*time.Millisecond)

	clk.Advance(time.Hour)
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_ReconnectsWithBackoff(t *testing.T) {
	d := &fakeDialer{failures: 2}
	m, clk := newTestManager(d, Credentials{})

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, StateReconnecting, m.State())
	assert.Equal(t, 1, m.Attempts())

	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())

	clk.Advance(time.Millisecond)
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, 2, m.Attempts())
	assert.Equal(t, StateReconnecting, m.State())

	// Second retry waits 2 * base.
	clk.Advance(time.Second)
	assert.Equal(t, 2, d.dialCount())
	clk.Advance(time.Second)
	assert.Equal(t, 3, d.dialCount())

	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 0, m.Attempts())
	assert.NoError(t, m.LastError())
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{failures: -1}
	m, clk := newTestManager(d, Credentials{})

	assert.Error(t, m.Connect(context.Background()))
	clk.Advance(time.Second)
	clk.Advance(2 * time.Second)

	assert.Equal(t, 3, d.dialCount())
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, m.NeedsManualReconnect())
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Hour)
	assert.Equal(t, 3, d.dialCount())

	d.setFailures(0)
	require.NoError(t, m.Reconnect(context.Background()))
	assert.Equal(t, StateActive, m.State())
	assert.False(t, m.NeedsManualReconnect())
}

func TestManager_DropFromActiveReconnects(t *testing.T) {
	d := &fakeDialer{}
	m, clk := newTestManager(d, Credentials{})
	require.NoError(t, m.Connect(context.Background()))
	first := d.last()

	close(first.lost)
	waitForState(t, m, StateReconnecting)
	require.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, m.Attempts())

	clk.Advance(time.Second)
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 2, d.dialCount())
	assert.NotSame(t, first, d.last())
}

func TestManager_ResumeSkipsBackoff(t *testing.T) {
	d := &fakeDialer{failures: 1}
	m, clk := newTestManager(d, Credentials{})

	assert.Error(t, m.Connect(context.Background()))
	assert.Equal(t, StateReconnecting, m.State())

	require.NoError(t, m.Resume(context.Background()))
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, 0, clk.Pending())

	// Already active: nothing to do.
	require.NoError(t, m.Resume(context.Background()))
	assert.Equal(t, 2, d.dialCount())
}

func TestManager_DisconnectSuppressesReconnect(t *testing.T) {
	d := &fakeDialer{}
	m, clk := newTestManager(d, Credentials{})
	require.NoError(t, m.Connect(context.Background()))
	sess := d.last()

	m.Disconnect()
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, sess.isClosed())

	clk.Advance(time.Hour)
	require.NoError(t, m.Resume(context.Background()))
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, StateIdle, m.State())
	assert.False(t, m.NeedsManualReconnect())

	assert.Error(t, m.Send(context.Background(), types.Event{Name: types.EventPing}))
}
