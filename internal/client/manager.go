package client

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-realtime/config"
	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"go.uber.org/zap"
)

// State is a Manager lifecycle state.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateActive         State = "active"
	StateReconnecting   State = "reconnecting"
)

const dialTimeout = 10 * time.Second

// ErrStopped is returned when Disconnect interrupts a connection attempt.
var ErrStopped = errors.New("client: manager stopped")

// Backoff bounds reconnect delays: attempt n waits min(Max, n*Base) and
// MaxAttempts consecutive failures stop automatic reconnects.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// BackoffFromConfig reads the backoff settings of the client config.
func BackoffFromConfig(cfg config.ClientConfig) Backoff {
	return Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax, MaxAttempts: cfg.BackoffMaxAttempts}
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * b.Base
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = time.Second
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 5
	}
	return b
}

// Credentials are replayed with an authenticate event after every connect.
type Credentials struct {
	Token   string
	OwnerID string
}

func (c Credentials) empty() bool { return c.Token == "" && c.OwnerID == "" }

// Manager keeps one realtime session open, reconnecting with backoff and
// re-authenticating after every successful connect.
type Manager struct {
	dialer  Dialer
	creds   Credentials
	backoff Backoff
	clock   clock.Clock
	log     *zap.SugaredLogger

	onEvent func(types.Event)

	mu          sync.Mutex
	state       State
	attempts    int
	needsManual bool
	stopped     bool
	lastErr     error
	session     Session
	generation  int
	timer       clock.Timer
	ctx         context.Context
	cancel      context.CancelFunc
	listeners   []func(State)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEventHandler receives every server event other than the auth
// acknowledgments. It runs on the session's read goroutine.
func WithEventHandler(fn func(types.Event)) ManagerOption {
	return func(m *Manager) { m.onEvent = fn }
}

// NewManager creates an idle manager. A nil clk uses the wall clock.
func NewManager(dialer Dialer, creds Credentials, backoff Backoff, clk clock.Clock, opts ...ManagerOption) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		dialer:  dialer,
		creds:   creds,
		backoff: backoff.withDefaults(),
		clock:   clk,
		log:     logger.GetLogger().Named("client"),
		state:   StateIdle,
		onEvent: func(types.Event) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStateChange registers fn to run after every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NeedsManualReconnect reports whether automatic reconnects gave up.
func (m *Manager) NeedsManualReconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsManual
}

// Attempts returns the number of consecutive failed attempts.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastError returns the most recent connect or session error.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect makes the first connection attempt. A failed attempt schedules a
// retry and is also returned to the caller. It does nothing while a session
// is open or being opened.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil && !m.stopped && m.state != StateIdle && m.state != StateReconnecting {
		m.mu.Unlock()
		return nil
	}
	m.resetLocked()
	m.mu.Unlock()
	return m.attempt(ctx)
}

// Reconnect clears the failure count and connects now.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.Connect(ctx)
}

// Resume reconnects immediately when not active, skipping any pending
// backoff delay. It does nothing after Disconnect.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.ctx == nil {
		m.mu.Unlock()
		return nil
	}
	switch m.state {
	case StateIdle, StateReconnecting:
	default:
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	m.mu.Unlock()
	return m.attempt(ctx)
}

// Send writes a client event on the current session.
func (m *Manager) Send(ctx context.Context, ev types.Event) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return apperrors.TransportError(ErrSessionClosed, "not connected")
	}
	return sess.Send(ctx, ev)
}

// Disconnect closes the session and suppresses automatic reconnects until
// Connect or Reconnect is called.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.generation++
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
	}
	sess := m.session
	m.session = nil
	m.attempts = 0
	m.needsManual = false
	listeners := m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	notify(listeners, StateIdle)
}

func (m *Manager) resetLocked() {
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.stopped = false
	m.needsManual = false
	m.attempts = 0
}

func (m *Manager) attempt(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	switch m.state {
	case StateConnecting, StateConnected, StateAuthenticating, StateActive:
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	generation := m.generation
	lifetime := m.ctx
	listeners := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify(listeners, StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	stopOnCancel := context.AfterFunc(lifetime, cancel)
	sess, err := m.dialer.Dial(dialCtx)
	stopOnCancel()
	cancel()

	m.mu.Lock()
	if m.stopped || generation != m.generation {
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return ErrStopped
	}
	if err != nil {
		m.log.Warnw("Connect attempt failed", "attempt", m.attempts+1, "error", err)
		state := m.failLocked(err)
		listeners = m.listenersLocked()
		m.mu.Unlock()
		notify(listeners, state)
		return err
	}

	m.generation++
	generation = m.generation
	m.session = sess
	m.attempts = 0
	m.needsManual = false
	m.lastErr = nil
	listeners = m.setStateLocked(StateConnected)
	m.mu.Unlock()
	notify(listeners, StateConnected)

	go m.readLoop(lifetime, generation, sess)
	m.authenticate(lifetime, generation, sess)
	return nil
}

func (m *Manager) authenticate(ctx context.Context, generation int, sess Session) {
	if m.creds.empty() {
		m.transition(generation, StateConnected, StateActive)
		return
	}
	if !m.transition(generation, StateConnected, StateAuthenticating) {
		return
	}
	ev, err := types.NewEvent(types.EventAuthenticate, types.AuthenticatePayload{
		OwnerID: m.creds.OwnerID,
		Token:   m.creds.Token,
	})
	if err == nil {
		err = sess.Send(ctx, ev)
	}
	if err != nil {
		m.drop(generation, err)
	}
}

func (m *Manager) readLoop(ctx context.Context, generation int, sess Session) {
	for {
		ev, err := sess.Receive(ctx)
		if err != nil {
			m.drop(generation, err)
			return
		}
		switch ev.Name {
		case types.EventAuthSuccess:
			m.transition(generation, StateAuthenticating, StateActive)
		case types.EventAuthError:
			var payload types.AuthErrorPayload
			_ = ev.Decode(&payload)
			m.rejectAuth(generation, payload.Message)
			return
		default:
			m.onEvent(ev)
		}
	}
}

// transition moves from one state to another when the session is still
// current and the state matches.
func (m *Manager) transition(generation int, from, to State) bool {
	m.mu.Lock()
	if generation != m.generation || m.state != from {
		m.mu.Unlock()
		return false
	}
	listeners := m.setStateLocked(to)
	m.mu.Unlock()
	notify(listeners, to)
	return true
}

// rejectAuth ends the session without scheduling a retry: the same
// credentials would be rejected again.
func (m *Manager) rejectAuth(generation int, message string) {
	m.mu.Lock()
	if generation != m.generation || m.stopped {
		m.mu.Unlock()
		return
	}
	m.generation++
	sess := m.session
	m.session = nil
	m.needsManual = true
	m.lastErr = apperrors.AuthRequired(message)
	listeners := m.setStateLocked(StateIdle)
	m.mu.Unlock()

	m.log.Warnw("Authentication rejected", "message", message)
	if sess != nil {
		_ = sess.Close()
	}
	notify(listeners, StateIdle)
}

// drop handles an unexpected end of the current session.
func (m *Manager) drop(generation int, err error) {
	m.mu.Lock()
	if generation != m.generation || m.stopped {
		m.mu.Unlock()
		return
	}
	m.generation++
	sess := m.session
	m.session = nil
	m.log.Infow("Session lost", "error", err)
	state := m.failLocked(err)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	notify(listeners, state)
}

// failLocked counts a failure and either schedules the next attempt or gives
// up. It returns the new state.
func (m *Manager) failLocked(err error) State {
	m.attempts++
	m.lastErr = err
	if m.attempts >= m.backoff.MaxAttempts {
		m.needsManual = true
		m.state = StateIdle
		m.log.Warnw("Giving up after repeated failures", "attempts", m.attempts)
		return m.state
	}
	delay := m.backoff.Delay(m.attempts)
	lifetime := m.ctx
	m.timer = m.clock.AfterFunc(delay, func() {
		_ = m.attempt(lifetime)
	})
	m.state = StateReconnecting
	m.log.Debugw("Reconnect scheduled", "attempt", m.attempts, "delay", delay)
	return m.state
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(s State) []func(State) {
	m.state = s
	return m.listenersLocked()
}

func (m *Manager) listenersLocked() []func(State) {
	return slices.Clone(m.listeners)
}

func notify(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
}
