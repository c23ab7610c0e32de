package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

func newTestQueue(t *testing.T) (*Queue, *pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "tasks")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "tasks-sub", pubsub.SubscriptionConfig{Topic: topic, AckDeadline: 10 * time.Second})
	require.NoError(t, err)

	q, err := New(client, Config{TopicID: "tasks", SubscriptionID: "tasks-sub", MaxOutstanding: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q, client, srv
}

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	q, _, srv := newTestQueue(t)
	task := newsletter.Task{ID: "t-1", Kind: newsletter.TaskRetryDetails, Attempt: 2, Submitted: 1700000000, Trigger: "schedule"}
	require.NoError(t, q.Enqueue(context.Background(), task))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "retry_details", msgs[0].Attributes["kind"])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, task, d.Task)
	d.Ack()

	require.Eventually(t, func() bool {
		for _, m := range srv.Messages() {
			if m.Acks > 0 {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestQueueDropsMalformedMessages(t *testing.T) {
	t.Parallel()

	q, client, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	raw := client.Topic("tasks")
	defer raw.Stop()
	_, err := raw.Publish(ctx, &pubsub.Message{Data: []byte("not json")}).Get(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, newsletter.Task{ID: "good", Kind: newsletter.TaskIngest}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "good", d.Task.ID)
	d.Ack()
}

func TestDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q, _, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{TopicID: "a", SubscriptionID: "b"}, nil)
	require.Error(t, err)
}
