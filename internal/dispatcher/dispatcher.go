// Package dispatcher manages worker fan-out over the task queue and task submission.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
	"github.com/JakeFAU/newsletter-archive/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers and builds new tasks.
type Dispatcher struct {
	queue   newsletter.Queue
	workers []*worker.Worker
	ids     newsletter.IDGenerator
	clock   newsletter.Clock
}

// New creates a Dispatcher.
func New(queue newsletter.Queue, workers []*worker.Worker, ids newsletter.IDGenerator, clock newsletter.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		clock:   clock,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit builds a first-attempt task of the given kind and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, kind newsletter.TaskKind, trigger string) (newsletter.Task, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return newsletter.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	task := newsletter.Task{
		ID:        id,
		Kind:      kind,
		Attempt:   1,
		Submitted: d.clock.Now().Unix(),
		Trigger:   trigger,
	}
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return newsletter.Task{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return task, nil
}
