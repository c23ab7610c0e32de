// Package pubsub implements the task queue on Google Cloud Pub/Sub. Messages
// are acked only after the worker has handled the task, giving at-least-once
// delivery across process restarts.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// ErrClosed is returned by Dequeue after Close or after the receiver stopped.
var ErrClosed = errors.New("pubsub queue closed")

// Config names the topic tasks are published to and the subscription they are pulled from.
type Config struct {
	TopicID        string
	SubscriptionID string
	// MaxOutstanding bounds how many unacked tasks are held in memory.
	MaxOutstanding int
}

// Queue publishes tasks as JSON messages and hands received ones to Dequeue.
type Queue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	deliveries chan newsletter.Delivery
	startOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	recvErr    error
}

// New binds the queue to an existing topic and subscription.
func New(client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.TopicID == "" || cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("pubsub topic and subscription ids are required")
	}
	if cfg.MaxOutstanding < 1 {
		cfg.MaxOutstanding = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.Subscription(cfg.SubscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		topic:      client.Topic(cfg.TopicID),
		sub:        sub,
		logger:     logger.Named("pubsub_queue"),
		deliveries: make(chan newsletter.Delivery),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Enqueue publishes the task and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, task newsletter.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": string(task.Kind)},
	}
	if _, err := q.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	return nil
}

// Dequeue blocks until a task arrives. The returned Ack must be called once
// the task is handled; unacked tasks are redelivered by Pub/Sub.
func (q *Queue) Dequeue(ctx context.Context) (newsletter.Delivery, error) {
	q.startOnce.Do(q.startReceiver)
	select {
	case <-ctx.Done():
		return newsletter.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-q.deliveries:
		return d, nil
	case <-q.done:
		if q.recvErr != nil {
			return newsletter.Delivery{}, fmt.Errorf("receive tasks: %w", q.recvErr)
		}
		return newsletter.Delivery{}, ErrClosed
	}
}

// Close stops the receiver and flushes pending publishes.
func (q *Queue) Close() {
	q.startOnce.Do(func() { close(q.done) })
	q.cancel()
	<-q.done
	q.topic.Stop()
}

func (q *Queue) startReceiver() {
	go func() {
		defer close(q.done)
		err := q.sub.Receive(q.ctx, q.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
			q.recvErr = err
		}
	}()
}

func (q *Queue) handle(ctx context.Context, msg *pubsub.Message) {
	var task newsletter.Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		// Redelivering a malformed payload can never succeed.
		q.logger.Warn("dropping malformed task message", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	d := newsletter.Delivery{Task: task, Ack: msg.Ack}
	select {
	case q.deliveries <- d:
	case <-ctx.Done():
		msg.Nack()
	}
}
