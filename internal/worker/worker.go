// Package worker executes queued ingestion and detail-sweep tasks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/ingest"
	"github.com/JakeFAU/newsletter-archive/internal/metrics"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// Runner is the ingestion entry point the worker drives.
type Runner interface {
	RunIngestion(ctx context.Context) (ingest.Result, error)
	RetryMissingDetails(ctx context.Context) (ingest.RetryResult, error)
}

// Backoff returns how long to wait before re-enqueueing a task that failed on the given attempt.
type Backoff func(attempt int) time.Duration

// Config controls task retries.
type Config struct {
	// MaxAttempts caps how many times a task runs, counting the first run.
	MaxAttempts int
	Backoff     Backoff
}

// Worker consumes tasks and runs them.
type Worker struct {
	queue  newsletter.Queue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue newsletter.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = func(int) time.Duration { return 0 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, runner: runner, cfg: cfg, logger: logger.Named("worker")}
}

// Run blocks, consuming tasks until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if sleep(ctx, time.Second) != nil {
				return
			}
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", d.Task.ID), zap.String("kind", string(d.Task.Kind)))
		w.handle(ctx, d)
	}
}

func (w *Worker) handle(ctx context.Context, d newsletter.Delivery) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	task := d.Task
	logger := w.logger.With(
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Int("attempt", task.Attempt),
		zap.String("trigger", task.Trigger),
	)

	err := w.execute(ctx, task, logger)
	if err == nil || !w.shouldRetry(task, err) {
		if err != nil {
			logger.Warn("task failed without retry", zap.Error(err))
		}
		d.Ack()
		return
	}

	delay := w.cfg.Backoff(task.Attempt)
	logger.Warn("task failed, scheduling retry", zap.Duration("delay", delay), zap.Error(err))
	if sleep(ctx, delay) != nil {
		// Left unacked so a durable transport redelivers it.
		return
	}
	next := task
	next.Attempt++
	if err := w.queue.Enqueue(ctx, next); err != nil {
		logger.Error("re-enqueue failed", zap.Error(err))
		return
	}
	d.Ack()
}

func (w *Worker) execute(ctx context.Context, task newsletter.Task, logger *zap.Logger) error {
	switch task.Kind {
	case newsletter.TaskIngest:
		result, err := w.runner.RunIngestion(ctx)
		if err != nil {
			return err
		}
		logger.Info("ingest task finished",
			zap.String("run_id", result.RunID),
			zap.Int("imported", result.ImportedCount),
			zap.Int("updated", result.UpdatedCount),
		)
		return nil
	case newsletter.TaskRetryDetails:
		result, err := w.runner.RetryMissingDetails(ctx)
		if err != nil {
			return err
		}
		logger.Info("retry-details task finished",
			zap.String("run_id", result.RunID),
			zap.Int("attempted", result.Attempted),
			zap.Int("updated", result.UpdatedCount),
		)
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownKind, task.Kind)
	}
}

var errUnknownKind = errors.New("unknown task kind")

func (w *Worker) shouldRetry(task newsletter.Task, err error) bool {
	if task.Attempt >= w.cfg.MaxAttempts {
		return false
	}
	var empty *newsletter.EmptyListingError
	switch {
	case errors.Is(err, newsletter.ErrRunInProgress):
		// An overlapping ingest is redundant, but a sweep queued behind a
		// running ingest still has work to do once the guard is free.
		return task.Kind == newsletter.TaskRetryDetails
	case errors.Is(err, errUnknownKind),
		errors.Is(err, context.Canceled),
		errors.As(err, &empty):
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
