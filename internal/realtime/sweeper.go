package realtime

import (
	"context"
	"fmt"

	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the idle sweep often enough that eviction lands
// within one tick of the idle window.
const DefaultSweepSchedule = "@every 30s"

// Sweeper runs Gateway.Sweep on a cron schedule.
type Sweeper struct {
	gateway *Gateway
	cron    *cron.Cron
	log     *zap.SugaredLogger
}

func NewSweeper(g *Gateway, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		gateway: g,
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		log:     logger.GetLogger().Named("sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce performs one sweep at the gateway clock's current time.
func (s *Sweeper) RunOnce() {
	evicted := s.gateway.Sweep(s.gateway.clock.Now())
	if evicted > 0 {
		s.log.Debugw("Sweep finished", "evicted", evicted, "live", s.gateway.Count())
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
