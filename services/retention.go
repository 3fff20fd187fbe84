package services

import (
	"context"
	"fmt"
	"time"

	"github.com/NomadCrew/nomad-realtime/config"
	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultRetentionSchedule = "@daily"
	defaultReadMaxAge        = 30 * 24 * time.Hour
	retentionRunTimeout      = 5 * time.Minute
)

// Purger deletes read notifications created before a cutoff.
type Purger interface {
	PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CachePruner drops expired cache entries.
type CachePruner interface {
	Prune() int
}

// RetentionJob periodically purges old read notifications and, when the
// cache lives in memory, prunes its expired pages on the same schedule.
type RetentionJob struct {
	purger Purger
	pruner CachePruner
	maxAge time.Duration
	clock  clock.Clock
	cron   *cron.Cron
	log    *zap.SugaredLogger
}

func NewRetentionJob(p Purger, cfg config.RetentionConfig, clk clock.Clock) (*RetentionJob, error) {
	if clk == nil {
		clk = clock.New()
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultRetentionSchedule
	}
	maxAge := cfg.ReadMaxAge
	if maxAge <= 0 {
		maxAge = defaultReadMaxAge
	}

	j := &RetentionJob{
		purger: p,
		maxAge: maxAge,
		clock:  clk,
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		log:    logger.GetLogger().Named("retention"),
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

// WithCachePruner prunes p on every run.
func (j *RetentionJob) WithCachePruner(p CachePruner) *RetentionJob {
	j.pruner = p
	return j
}

// RunOnce purges read notifications older than the configured age.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.clock.Now().Add(-j.maxAge)
	n, err := j.purger.PurgeReadBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	pruned := 0
	if j.pruner != nil {
		pruned = j.pruner.Prune()
	}
	j.log.Infow("Retention run finished", "purged", n, "cutoff", cutoff, "cachePruned", pruned)
	return n, nil
}

func (j *RetentionJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), retentionRunTimeout)
	defer cancel()
	if _, err := j.RunOnce(ctx); err != nil {
		j.log.Errorw("Retention run failed", "error", err)
	}
}

func (j *RetentionJob) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running purge, bounded by ctx.
func (j *RetentionJob) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
