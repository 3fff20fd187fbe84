// Package services holds the notification read/write path and the background
// machinery around it: the publish worker pool, the retention job and the
// health checks.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-realtime/config"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const defaultJobTimeout = 30 * time.Second

// Job is a unit of background work.
type Job struct {
	Name    string
	Execute func(ctx context.Context) error
}

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded
// queue. Submit never blocks; a full queue drops the job.
type WorkerPool struct {
	jobQueue   chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	log        *zap.SugaredLogger
	metrics    *workerPoolMetrics
	config     config.WorkerPoolConfig
	jobTimeout time.Duration

	// mu guards running and the send side of jobQueue.
	mu      sync.RWMutex
	running bool
	stopped bool
}

type workerPoolMetrics struct {
	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge
	completedJobs prometheus.Counter
	droppedJobs   prometheus.Counter
	errorCount    prometheus.Counter
	jobDuration   prometheus.Histogram
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	wpMetricsInstance *workerPoolMetrics
	wpMetricsOnce     sync.Once
	wpDefaultRegistry = prometheus.DefaultRegisterer
)

func newWorkerPoolMetrics() *workerPoolMetrics {
	wpMetricsOnce.Do(func() {
		factory := promauto.With(wpDefaultRegistry)
		wpMetricsInstance = &workerPoolMetrics{
			queueDepth: factory.NewGauge(prometheus.GaugeOpts{
				Name: "realtime_worker_pool_queue_depth",
				Help: "Jobs waiting in the queue",
			}),
			activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
				Name: "realtime_worker_pool_active_workers",
				Help: "Workers currently running a job",
			}),
			completedJobs: factory.NewCounter(prometheus.CounterOpts{
				Name: "realtime_worker_pool_completed_jobs_total",
				Help: "Jobs that ran to completion, failed or not",
			}),
			droppedJobs: factory.NewCounter(prometheus.CounterOpts{
				Name: "realtime_worker_pool_dropped_jobs_total",
				Help: "Jobs dropped because the queue was full or the pool stopped",
			}),
			errorCount: factory.NewCounter(prometheus.CounterOpts{
				Name: "realtime_worker_pool_errors_total",
				Help: "Jobs that returned an error or panicked",
			}),
			jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "realtime_worker_pool_job_duration_seconds",
				Help:    "Job execution time",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
			}),
		}
	})
	return wpMetricsInstance
}

// resetWorkerPoolMetricsForTesting resets the metrics singleton for test isolation.
func resetWorkerPoolMetricsForTesting() {
	wpDefaultRegistry = prometheus.NewRegistry()
	wpMetricsInstance = nil
	wpMetricsOnce = sync.Once{}
}

// NewWorkerPool builds a stopped pool; call Start before submitting.
func NewWorkerPool(cfg config.WorkerPoolConfig) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobQueue:   make(chan Job, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		log:        logger.GetLogger().Named("worker_pool"),
		metrics:    newWorkerPoolMetrics(),
		config:     cfg,
		jobTimeout: defaultJobTimeout,
	}
}

// Start launches the workers. Extra calls are ignored, and a stopped pool
// cannot be restarted.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running || wp.stopped {
		return
	}
	wp.running = true

	wp.log.Infow("Starting worker pool", "maxWorkers", wp.config.MaxWorkers, "queueSize", wp.config.QueueSize)
	for i := 0; i < wp.config.MaxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for job := range wp.jobQueue {
		wp.executeJob(id, job)
	}
}

func (wp *WorkerPool) executeJob(workerID int, job Job) {
	wp.metrics.queueDepth.Dec()
	wp.metrics.activeWorkers.Inc()
	start := time.Now()
	defer func() {
		wp.metrics.jobDuration.Observe(time.Since(start).Seconds())
		wp.metrics.completedJobs.Inc()
		wp.metrics.activeWorkers.Dec()
	}()

	jobCtx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	if err := runJob(jobCtx, job); err != nil {
		wp.metrics.errorCount.Inc()
		wp.log.Errorw("Job failed", "job", job.Name, "workerID", workerID, "error", err, "duration", time.Since(start))
		return
	}
	wp.log.Debugw("Job completed", "job", job.Name, "workerID", workerID, "duration", time.Since(start))
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx)
}

// Submit queues a job without blocking. It reports false when the queue is
// full or the pool is not running.
func (wp *WorkerPool) Submit(job Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.running {
		wp.metrics.droppedJobs.Inc()
		return false
	}
	select {
	case wp.jobQueue <- job:
		wp.metrics.queueDepth.Inc()
		return true
	default:
		wp.metrics.droppedJobs.Inc()
		wp.log.Warnw("Job dropped, queue full", "job", job.Name, "queueSize", wp.config.QueueSize)
		return false
	}
}

// Shutdown stops intake, lets queued jobs drain and waits for the workers
// until ctx expires. Jobs still running at that point see their context
// cancelled.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		wp.log.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		wp.cancel()
		wp.log.Warn("Worker pool shutdown timed out")
		return ctx.Err()
	}
}

// ShutdownTimeout is the configured grace period for Shutdown.
func (wp *WorkerPool) ShutdownTimeout() time.Duration {
	if wp.config.ShutdownTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(wp.config.ShutdownTimeoutSeconds) * time.Second
}

func (wp *WorkerPool) QueueDepth() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}
