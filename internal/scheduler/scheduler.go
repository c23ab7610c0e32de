// Package scheduler periodically enqueues ingestion work.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// Trigger is recorded on every task the scheduler submits.
const Trigger = "schedule"

// Submitter enqueues new tasks.
type Submitter interface {
	Submit(ctx context.Context, kind newsletter.TaskKind, trigger string) (newsletter.Task, error)
}

// Scheduler submits an ingest task followed by a retry-details task on every tick.
type Scheduler struct {
	submitter Submitter
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler.
func New(submitter Submitter, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{submitter: submitter, interval: interval, logger: logger.Named("scheduler")}
}

// Start ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, kind := range []newsletter.TaskKind{newsletter.TaskIngest, newsletter.TaskRetryDetails} {
		task, err := s.submitter.Submit(ctx, kind, Trigger)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("submit scheduled task failed", zap.String("kind", string(kind)), zap.Error(err))
			}
			return
		}
		s.logger.Debug("scheduled task", zap.String("task_id", task.ID), zap.String("kind", string(kind)))
	}
}
