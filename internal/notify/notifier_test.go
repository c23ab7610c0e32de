package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archive/internal/clock/system"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
	"github.com/JakeFAU/newsletter-archive/internal/storage/memory"
)

type fakeSender struct {
	mu       sync.Mutex
	failing  map[string]error
	payloads map[string][]byte
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newFakeSender() *fakeSender {
	return &fakeSender{failing: map[string]error{}, payloads: map[string][]byte{}}
}

func (f *fakeSender) Send(_ context.Context, sub newsletter.Subscription, payload []byte) error {
	current := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[sub.Endpoint] = payload
	return f.failing[sub.Endpoint]
}

type failingSubs struct {
	newsletter.SubscriptionStore
}

func (failingSubs) GetActiveSubscriptions(context.Context) ([]newsletter.Subscription, error) {
	return nil, errors.New("database unavailable")
}

func seedSubscriptions(t *testing.T, n int) *memory.SubscriptionStore {
	t.Helper()
	store := memory.NewSubscriptionStore(system.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	for i := 0; i < n; i++ {
		_, err := store.AddSubscription(context.Background(), newsletter.SubscriptionInput{
			Endpoint: fmt.Sprintf("https://push.example.com/%d", i),
			Auth:     "auth",
			P256dh:   "key",
		})
		require.NoError(t, err)
	}
	return store
}

func TestNotifyNewIssues_FanOutCounts(t *testing.T) {
	t.Parallel()

	subs := seedSubscriptions(t, 5)
	sender := newFakeSender()
	sender.failing["https://push.example.com/1"] = errors.New("connection refused")
	sender.failing["https://push.example.com/3"] = &newsletter.DispatchError{Endpoint: "https://push.example.com/3", StatusCode: 410, Gone: true}

	n := New(subs, sender, Config{Icon: "/icon.png"}, nil)
	summary, err := n.NotifyNewIssues(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Succeeded)
	require.Equal(t, 2, summary.Failed)
	require.Equal(t, 1, summary.Gone)
	require.Len(t, sender.payloads, 5)

	var payload Payload
	require.NoError(t, json.Unmarshal(sender.payloads["https://push.example.com/0"], &payload))
	require.Equal(t, "New Newsletters Available", payload.Title)
	require.Equal(t, "3 new newsletters published!", payload.Body)
	require.Equal(t, "/icon.png", payload.Icon)

	// No pruning: the gone endpoint is still active.
	active, err := subs.GetActiveSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 5)
}

func TestNotifyNewIssues_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	sender.delay = 5 * time.Millisecond
	n := New(seedSubscriptions(t, 10), sender, Config{MaxConcurrency: 2}, nil)

	summary, err := n.NotifyNewIssues(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 10, summary.Succeeded)
	require.LessOrEqual(t, sender.peak.Load(), int32(2))
}

func TestNotifyNewIssues_ZeroCountSendsNothing(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	n := New(seedSubscriptions(t, 2), sender, Config{}, nil)
	summary, err := n.NotifyNewIssues(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, newsletter.DispatchSummary{}, summary)
	require.Empty(t, sender.payloads)
}

func TestNotifyNewIssues_LookupFailure(t *testing.T) {
	t.Parallel()

	n := New(failingSubs{}, newFakeSender(), Config{}, nil)
	_, err := n.NotifyNewIssues(context.Background(), 2)
	require.ErrorContains(t, err, "database unavailable")
}

func TestSubscribe_WelcomeFailureDoesNotFail(t *testing.T) {
	t.Parallel()

	subs := seedSubscriptions(t, 0)
	sender := newFakeSender()
	sender.failing["https://push.example.com/new"] = errors.New("push service down")
	n := New(subs, sender, Config{}, nil)

	sub, err := n.Subscribe(context.Background(), newsletter.SubscriptionInput{
		Endpoint: "https://push.example.com/new", Auth: "a", P256dh: "p",
	})
	require.NoError(t, err)
	require.NotZero(t, sub.ID)

	var welcome Payload
	require.NoError(t, json.Unmarshal(sender.payloads["https://push.example.com/new"], &welcome))
	require.Contains(t, welcome.Title, "Subscribed")

	active, err := subs.GetActiveSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestPayloads(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1 new newsletter published!", NewIssuesPayload(1, "", "").Body)
	require.Equal(t, "12 new newsletters published!", NewIssuesPayload(12, "", "").Body)

	_, err := Encode(Payload{Title: "big", Body: strings.Repeat("x", MaxPayloadBytes)})
	require.ErrorIs(t, err, newsletter.ErrPayloadTooLarge)

	data, err := Encode(NewIssuesPayload(2, "/icon.png", "https://example.com"))
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"New Newsletters Available","body":"2 new newsletters published!","icon":"/icon.png","url":"https://example.com"}`, string(data))
}
