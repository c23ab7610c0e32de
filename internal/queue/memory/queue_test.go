package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan newsletter.Delivery, 1)
	errCh := make(chan error, 1)

	go func() {
		d, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- d
	}()

	task := newsletter.Task{ID: "task-1", Kind: newsletter.TaskIngest, Trigger: "schedule"}
	require.NoError(t, q.Enqueue(context.Background(), task))

	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, task, got.Task)
		require.NotNil(t, got.Ack)
		got.Ack()
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return task")
	}
}

func TestQueueCancelation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), newsletter.Task{ID: "primed"}))
	require.Equal(t, 1, full.Len())
	err = full.Enqueue(ctx, newsletter.Task{ID: "blocked"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), newsletter.Task{ID: "kept"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), newsletter.Task{ID: "late"}), ErrClosed)

	d, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "kept", d.Task.ID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
