// Package memory provides an in-process task queue for single-instance deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. Ack is a
// no-op: tasks live only as long as the process.
type Queue struct {
	ch     chan newsletter.Task
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan newsletter.Task, capacity)}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task newsletter.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (newsletter.Delivery, error) {
	select {
	case <-ctx.Done():
		return newsletter.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return newsletter.Delivery{}, ErrClosed
		}
		return newsletter.Delivery{Task: task, Ack: func() {}}, nil
	}
}

// Len reports how many tasks are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting tasks. Tasks already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
