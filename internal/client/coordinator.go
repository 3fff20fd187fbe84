package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-realtime/config"
	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/internal/clock"
)

var (
	// ErrInFlight is returned when a fetch for the same key is still running.
	ErrInFlight = errors.New("client: fetch already in flight")
	// ErrThrottled is returned when a non-forced fetch comes too soon after
	// the previous one.
	ErrThrottled = errors.New("client: fetch throttled")
)

const (
	DefaultMinFetchInterval = 3 * time.Minute
	DefaultDebounce         = 5 * time.Second
	DefaultFetchTimeout     = 15 * time.Second
)

// CoordinatorOptions tunes a Coordinator. Zero values take the defaults.
type CoordinatorOptions struct {
	MinInterval time.Duration
	Debounce    time.Duration
	Timeout     time.Duration
}

// CoordinatorOptionsFromConfig reads the fetch settings of the client config.
func CoordinatorOptionsFromConfig(cfg config.ClientConfig) CoordinatorOptions {
	return CoordinatorOptions{
		MinInterval: cfg.MinFetchInterval,
		Debounce:    cfg.Debounce,
		Timeout:     cfg.FetchTimeout,
	}
}

// Coordinator guards client-side reads: one in-flight call per key, a
// minimum spacing between unforced calls, debouncing and a hard timeout.
type Coordinator struct {
	opts  CoordinatorOptions
	clock clock.Clock

	mu        sync.Mutex
	inFlight  map[string]bool
	lastStart map[string]time.Time
	debounced map[string]clock.Timer
}

// NewCoordinator creates a coordinator. A nil clk uses the wall clock.
func NewCoordinator(opts CoordinatorOptions, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinFetchInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	return &Coordinator{
		opts:      opts,
		clock:     clk,
		inFlight:  make(map[string]bool),
		lastStart: make(map[string]time.Time),
		debounced: make(map[string]clock.Timer),
	}
}

// Fetch runs fn under c's guards for key. force skips the throttle but not
// the in-flight guard. On timeout the zero value is returned with an
// UpstreamTimeout error.
func Fetch[T any](ctx context.Context, c *Coordinator, key string, force bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.begin(key, force); err != nil {
		return zero, err
	}
	defer c.end(key)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timedOut := make(chan struct{})
	timer := c.clock.AfterFunc(c.opts.Timeout, func() { close(timedOut) })
	defer timer.Stop()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-timedOut:
		return zero, apperrors.UpstreamTimeout(key, context.DeadlineExceeded)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do is Fetch for calls without a result.
func (c *Coordinator) Do(ctx context.Context, key string, force bool, fn func(context.Context) error) error {
	_, err := Fetch(ctx, c, key, force, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Debounce schedules fn after the debounce window, replacing any call for
// key still waiting. Only the last call inside the window runs.
func (c *Coordinator) Debounce(key string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.debounced[key]; ok {
		t.Stop()
	}
	var t clock.Timer
	t = c.clock.AfterFunc(c.opts.Debounce, func() {
		c.mu.Lock()
		if c.debounced[key] == t {
			delete(c.debounced, key)
		}
		c.mu.Unlock()
		fn()
	})
	c.debounced[key] = t
}

// Stop cancels every pending debounced call.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, t := range c.debounced {
		t.Stop()
		delete(c.debounced, key)
	}
}

func (c *Coordinator) begin(key string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[key] {
		return ErrInFlight
	}
	now := c.clock.Now()
	if last, ok := c.lastStart[key]; ok && !force && now.Sub(last) < c.opts.MinInterval {
		return ErrThrottled
	}
	c.inFlight[key] = true
	c.lastStart[key] = now
	return nil
}

func (c *Coordinator) end(key string) {
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}
