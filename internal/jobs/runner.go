// Package jobs runs background work on a fixed pool of workers with bounded
// retries and exponential backoff.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/debrief/internal/metrics"
)

var (
	ErrQueueFull   = errors.New("job queue full")
	ErrStopped     = errors.New("job runner stopped")
	ErrUnknownKind = errors.New("unknown job kind")
)

// Handler processes one job for the given debrief id.
type Handler func(ctx context.Context, debriefID int64) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type Config struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	QueueSize   int
}

type job struct {
	kind      string
	debriefID int64
}

// Runner owns the queue and worker pool.
type Runner struct {
	cfg      Config
	logger   *slog.Logger
	handlers map[string]Handler

	queue chan job
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}
	return &Runner{
		cfg:      cfg,
		logger:   logger.With("component", "jobs"),
		handlers: make(map[string]Handler),
		queue:    make(chan job, cfg.QueueSize),
	}
}

// Register binds a handler to a job kind. It must be called before Start.
func (r *Runner) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Start launches the workers. Jobs enqueued before Start wait in the queue.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.logger.Info("job runner started", "workers", r.cfg.Workers, "max_attempts", r.cfg.MaxAttempts)
}

// Stop refuses new jobs, lets workers drain the queue and waits for them.
// In-flight jobs are not cancelled, but backoff sleeps are cut short once
// ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.queue)
	cancel := r.cancel
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
}

// Enqueue adds a job without blocking.
func (r *Runner) Enqueue(kind string, debriefID int64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrStopped
	}
	if _, ok := r.handlers[kind]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	select {
	case r.queue <- job{kind: kind, debriefID: debriefID}:
		metrics.JobsQueued.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Runner) worker(ctx context.Context, n int) {
	defer r.wg.Done()
	for j := range r.queue {
		metrics.JobsQueued.Dec()
		r.run(ctx, j)
	}
	r.logger.Debug("worker exited", "worker", n)
}

func (r *Runner) run(ctx context.Context, j job) {
	r.mu.RLock()
	h := r.handlers[j.kind]
	r.mu.RUnlock()

	logger := r.logger.With("kind", j.kind, "debrief_id", j.debriefID)
	backoff := retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1), retry.NewExponential(r.cfg.Backoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := r.call(ctx, h, j.debriefID)
		switch {
		case err == nil:
			return nil
		case IsPermanent(err):
			return err
		default:
			if attempt < r.cfg.MaxAttempts {
				metrics.JobsTotal.WithLabelValues(j.kind, "retry").Inc()
				logger.Warn("job failed, will retry", "attempt", attempt, "error", err)
			}
			return retry.RetryableError(err)
		}
	})

	switch {
	case err == nil:
		metrics.JobsTotal.WithLabelValues(j.kind, "ok").Inc()
		logger.Debug("job finished", "attempts", attempt)
	case IsPermanent(err):
		metrics.JobsTotal.WithLabelValues(j.kind, "permanent").Inc()
		logger.Error("job failed permanently", "error", err)
	default:
		metrics.JobsTotal.WithLabelValues(j.kind, "failed").Inc()
		logger.Error("job failed, giving up", "attempts", attempt, "error", err)
	}
}

// call runs the handler, turning a panic into an error so one bad job
// cannot take down a worker.
func (r *Runner) call(ctx context.Context, h Handler, id int64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return h(ctx, id)
}
