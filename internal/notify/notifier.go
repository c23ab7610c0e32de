// Package notify fans push notifications out to subscribers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/newsletter-archive/internal/metrics"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// MaxPayloadBytes is the largest payload push services are required to accept.
const MaxPayloadBytes = 4096

// Dispatch outcomes reported to metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeGone    = "gone"
)

// Payload is the JSON document shown by the browser's service worker.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Config tunes dispatch.
type Config struct {
	Icon           string
	URL            string
	MaxConcurrency int
	Timeout        time.Duration
}

// Notifier sends notifications to every active subscription.
type Notifier struct {
	subs   newsletter.SubscriptionStore
	sender newsletter.PushSender
	cfg    Config
	logger *zap.Logger
}

// New builds a Notifier.
func New(subs newsletter.SubscriptionStore, sender newsletter.PushSender, cfg Config, logger *zap.Logger) *Notifier {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{subs: subs, sender: sender, cfg: cfg, logger: logger.Named("notify")}
}

// NewIssuesPayload builds the announcement for count new issues.
func NewIssuesPayload(count int, icon, url string) Payload {
	noun := "newsletter"
	if count > 1 {
		noun = "newsletters"
	}
	return Payload{
		Title: "New Newsletters Available",
		Body:  fmt.Sprintf("%d new %s published!", count, noun),
		Icon:  icon,
		URL:   url,
	}
}

// WelcomePayload is sent once when a browser subscribes.
func WelcomePayload(icon, url string) Payload {
	return Payload{
		Title: "Subscribed to newsletter updates",
		Body:  "You will be notified when new newsletters are published.",
		Icon:  icon,
		URL:   url,
	}
}

// Encode marshals p and enforces the push payload ceiling.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, newsletter.ErrPayloadTooLarge
	}
	return data, nil
}

// NotifyNewIssues announces count new issues to every active subscription.
// Individual endpoint failures are counted, never returned; only the
// subscription lookup can fail the call.
func (n *Notifier) NotifyNewIssues(ctx context.Context, count int) (newsletter.DispatchSummary, error) {
	if count <= 0 {
		return newsletter.DispatchSummary{}, nil
	}
	payload, err := Encode(NewIssuesPayload(count, n.cfg.Icon, n.cfg.URL))
	if err != nil {
		return newsletter.DispatchSummary{}, err
	}
	subs, err := n.subs.GetActiveSubscriptions(ctx)
	if err != nil {
		return newsletter.DispatchSummary{}, fmt.Errorf("load active subscriptions: %w", err)
	}
	summary := n.Broadcast(ctx, subs, payload)
	n.logger.Info("push notifications sent",
		zap.Int("new_issues", count),
		zap.Int("subscribers", len(subs)),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("gone", summary.Gone))
	return summary, nil
}

// Broadcast sends payload to every subscription concurrently and waits for all of them.
func (n *Notifier) Broadcast(ctx context.Context, subs []newsletter.Subscription, payload []byte) newsletter.DispatchSummary {
	var (
		mu      sync.Mutex
		summary newsletter.DispatchSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.MaxConcurrency)
	for _, sub := range subs {
		g.Go(func() error {
			outcome := n.dispatch(gctx, sub, payload)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeSuccess:
				summary.Succeeded++
			case OutcomeGone:
				summary.Failed++
				summary.Gone++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return summary
}

func (n *Notifier) dispatch(ctx context.Context, sub newsletter.Subscription, payload []byte) string {
	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}
	err := n.sender.Send(ctx, sub, payload)
	if err == nil {
		metrics.ObservePushDispatch(OutcomeSuccess)
		return OutcomeSuccess
	}
	var dispatchErr *newsletter.DispatchError
	if errors.As(err, &dispatchErr) && dispatchErr.Gone {
		metrics.ObservePushDispatch(OutcomeGone)
		n.logger.Info("push endpoint gone", zap.Int64("subscription_id", sub.ID), zap.String("endpoint", sub.Endpoint))
		return OutcomeGone
	}
	metrics.ObservePushDispatch(OutcomeFailure)
	n.logger.Warn("push dispatch failed", zap.Int64("subscription_id", sub.ID), zap.String("endpoint", sub.Endpoint), zap.Error(err))
	return OutcomeFailure
}

// Subscribe stores the subscription and sends a welcome notification. A failed
// welcome push is logged and does not fail the subscription.
func (n *Notifier) Subscribe(ctx context.Context, in newsletter.SubscriptionInput) (newsletter.Subscription, error) {
	sub, err := n.subs.AddSubscription(ctx, in)
	if err != nil {
		return newsletter.Subscription{}, fmt.Errorf("store subscription: %w", err)
	}
	payload, err := Encode(WelcomePayload(n.cfg.Icon, n.cfg.URL))
	if err != nil {
		n.logger.Warn("encode welcome payload", zap.Error(err))
		return sub, nil
	}
	if outcome := n.dispatch(ctx, sub, payload); outcome != OutcomeSuccess {
		n.logger.Warn("welcome notification not delivered", zap.Int64("subscription_id", sub.ID), zap.String("outcome", outcome))
	}
	return sub, nil
}
