package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archive/internal/clock/system"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

func TestSubscriptionStoreLifecycle(t *testing.T) {
	t.Parallel()

	clk := system.NewFixed(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	store := NewSubscriptionStore(clk)
	ctx := context.Background()

	first, err := store.AddSubscription(ctx, newsletter.SubscriptionInput{Endpoint: "https://push/a", Auth: "a1", P256dh: "p1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.ID)
	require.True(t, first.CreatedAt.Equal(clk.Now()))

	_, err = store.AddSubscription(ctx, newsletter.SubscriptionInput{Endpoint: "https://push/b", Auth: "b1", P256dh: "p2"})
	require.NoError(t, err)

	again, err := store.AddSubscription(ctx, newsletter.SubscriptionInput{Endpoint: "https://push/a", Auth: "a2", P256dh: "p3"})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "a2", again.Auth)

	active, err := store.GetActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	clk.Advance(time.Minute)
	settings, err := store.SetNotificationsEnabled(ctx, "https://push/b", false)
	require.NoError(t, err)
	require.False(t, settings.NewsletterNotificationsEnabled)
	require.True(t, settings.UpdatedAt.Equal(clk.Now()))

	active, err = store.GetActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "https://push/a", active[0].Endpoint)

	_, err = store.SetNotificationsEnabled(ctx, "https://push/unknown", true)
	require.ErrorIs(t, err, newsletter.ErrNotFound)
}
