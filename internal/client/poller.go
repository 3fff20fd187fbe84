package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-realtime/config"
	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Minute
	listKey             = "notifications:list"
)

// Lister fetches a page of notifications.
type Lister interface {
	List(ctx context.Context, opts ListOptions) (*types.NotificationListResponse, error)
}

// StateSource reports the connection state the poller defers to in
// when-inactive mode.
type StateSource interface {
	State() State
}

// PollerOptions tunes a Poller.
type PollerOptions struct {
	Interval time.Duration
	Mode     string
	PageSize int
}

// PollerOptionsFromConfig reads the polling settings of the client config.
func PollerOptionsFromConfig(cfg config.ClientConfig) PollerOptions {
	return PollerOptions{Interval: cfg.PollInterval, Mode: cfg.PollMode, PageSize: cfg.PageSize}
}

// Poller periodically reconciles the inbox with the server.
type Poller struct {
	api   Lister
	coord *Coordinator
	inbox *Inbox
	state StateSource
	clock clock.Clock
	opts  PollerOptions
	log   *zap.SugaredLogger

	mu      sync.Mutex
	timer   clock.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewPoller creates a stopped poller. state may be nil when there is no
// push connection to defer to.
func NewPoller(api Lister, coord *Coordinator, inbox *Inbox, state StateSource, opts PollerOptions, clk clock.Clock) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Mode == "" {
		opts.Mode = config.PollModeSupplementary
	}
	if opts.PageSize <= 0 {
		opts.PageSize = types.DefaultPageSize
	}
	return &Poller{
		api:   api,
		coord: coord,
		inbox: inbox,
		state: state,
		clock: clk,
		opts:  opts,
		log:   logger.GetLogger().Named("poller"),
	}
}

// Start schedules the first tick one interval from now.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.scheduleLocked()
}

func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.cancel()
}

// Refresh fetches the first page through the coordinator and replaces the
// inbox with it.
func (p *Poller) Refresh(ctx context.Context, force bool) error {
	resp, err := Fetch(ctx, p.coord, listKey, force, func(ctx context.Context) (*types.NotificationListResponse, error) {
		return p.api.List(ctx, ListOptions{Page: 1, Limit: p.opts.PageSize})
	})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	p.inbox.Replace(resp.Notifications, resp.UnreadCount)
	return nil
}

// OnStateChange forces a refresh whenever the connection becomes active, so
// anything missed while disconnected is picked up.
func (p *Poller) OnStateChange(s State) {
	if s != StateActive {
		return
	}
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if err := p.Refresh(ctx, true); err != nil && !errors.Is(err, ErrInFlight) {
			p.log.Warnw("Refresh after connect failed", "error", err)
		}
	}()
}

func (p *Poller) tick() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.mu.Unlock()

	if p.skipTick() {
		p.log.Debug("Skipping poll while push is active")
	} else if err := p.Refresh(ctx, false); err != nil && !errors.Is(err, ErrInFlight) && !errors.Is(err, ErrThrottled) {
		p.log.Warnw("Poll failed", "error", err)
	}

	p.mu.Lock()
	if p.running {
		p.scheduleLocked()
	}
	p.mu.Unlock()
}

func (p *Poller) skipTick() bool {
	return p.opts.Mode == config.PollModeWhenInactive && p.state != nil && p.state.State() == StateActive
}

func (p *Poller) scheduleLocked() {
	p.timer = p.clock.AfterFunc(p.opts.Interval, p.tick)
}
