// Package queue runs learning jobs in the background with single-flight
// semantics: at most one job runs and at most one more waits. Triggers that
// arrive while a job is already waiting are coalesced into it.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Job is one unit of background work.
type Job func(ctx context.Context) error

// Worker executes a Job on demand and, optionally, on an interval.
//
// Thread Safety: All public methods are safe for concurrent use.
type Worker struct {
	job Job

	// interval is the time between periodic triggers; zero disables them
	interval time.Duration

	// pending holds at most one waiting trigger
	pending chan string

	// depth is the number of jobs running or pending
	depth      atomic.Int32
	depthGauge prometheus.Gauge

	// mu protects running, stopCh and done
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	logger *zap.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval enables periodic triggers. Zero or negative disables them.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		w.interval = interval
	}
}

// WithDepthGauge reports the number of running and pending jobs.
func WithDepthGauge(g prometheus.Gauge) Option {
	return func(w *Worker) {
		w.depthGauge = g
	}
}

// NewWorker creates a worker. It does not start until Start is called.
func NewWorker(job Job, logger *zap.Logger, opts ...Option) (*Worker, error) {
	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	w := &Worker{
		job:     job,
		logger:  logger,
		pending: make(chan string, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start launches the background loop. Starting a running worker is an error.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.cancel = cancel
	w.running = true

	w.logger.Info("learning worker started", zap.Duration("interval", w.interval))

	go w.run(ctx, w.stopCh, w.done)

	return nil
}

// Stop signals the loop to exit and waits for the job in flight, if any.
// A pending trigger is dropped. Stop is idempotent.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.logger.Debug("worker stop called but not running")
		return nil
	}
	w.running = false
	close(w.stopCh)
	done, cancel := w.done, w.cancel
	w.mu.Unlock()

	w.logger.Info("stopping learning worker")
	<-done
	cancel()

	// drop a trigger that was never picked up
	select {
	case <-w.pending:
		w.setDepth(w.depth.Add(-1))
	default:
	}
	return nil
}

// Trigger asks for a job run. It returns true when the request was queued
// and false when a run was already pending (the pending run will cover
// this request) or the worker is stopped.
func (w *Worker) Trigger(reason string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return false
	}

	n := w.depth.Add(1)
	select {
	case w.pending <- reason:
		w.setDepth(n)
		return true
	default:
		w.depth.Add(-1)
		w.logger.Debug("learning trigger coalesced", zap.String("reason", reason))
		return false
	}
}

// Depth returns the number of jobs running or pending.
func (w *Worker) Depth() int {
	return int(w.depth.Load())
}

func (w *Worker) setDepth(n int32) {
	if w.depthGauge != nil {
		w.depthGauge.Set(float64(n))
	}
}

func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	w.logger.Debug("worker goroutine started")
	defer w.logger.Debug("worker goroutine stopped")

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stopCh:
			return
		case <-tick:
			w.Trigger("interval")
		case reason := <-w.pending:
			select {
			case <-stopCh:
				w.setDepth(w.depth.Add(-1))
				return
			default:
			}
			w.safeRun(ctx, reason)
			w.setDepth(w.depth.Add(-1))
		}
	}
}

// safeRun executes one job with panic recovery so a failing job does not
// take the loop down.
func (w *Worker) safeRun(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("learning job panicked, continuing worker",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	start := time.Now()
	if err := w.job(ctx); err != nil {
		w.logger.Error("learning job failed",
			zap.String("reason", reason),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("learning job finished",
		zap.String("reason", reason),
		zap.Duration("duration", time.Since(start)),
	)
}
