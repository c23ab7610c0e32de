package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// SubscriptionStore keeps push subscriptions and their settings in-memory.
type SubscriptionStore struct {
	mu         sync.RWMutex
	clock      newsletter.Clock
	nextID     int64
	byEndpoint map[string]newsletter.Subscription
	settings   map[int64]newsletter.NotificationSettings
}

// NewSubscriptionStore constructs a SubscriptionStore.
func NewSubscriptionStore(clock newsletter.Clock) *SubscriptionStore {
	return &SubscriptionStore{
		clock:      clock,
		byEndpoint: make(map[string]newsletter.Subscription),
		settings:   make(map[int64]newsletter.NotificationSettings),
	}
}

// AddSubscription registers or refreshes the keys for an endpoint.
func (s *SubscriptionStore) AddSubscription(_ context.Context, in newsletter.SubscriptionInput) (newsletter.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byEndpoint[in.Endpoint]; ok {
		existing.Auth = in.Auth
		existing.P256dh = in.P256dh
		s.byEndpoint[in.Endpoint] = existing
		return existing, nil
	}
	s.nextID++
	now := s.clock.Now()
	sub := newsletter.Subscription{
		ID:        s.nextID,
		Endpoint:  in.Endpoint,
		Auth:      in.Auth,
		P256dh:    in.P256dh,
		CreatedAt: now,
	}
	s.byEndpoint[in.Endpoint] = sub
	s.settings[sub.ID] = newsletter.NotificationSettings{
		SubscriptionID:                 sub.ID,
		NewsletterNotificationsEnabled: true,
		UpdatedAt:                      now,
	}
	return sub, nil
}

// GetActiveSubscriptions returns subscriptions that have not opted out.
func (s *SubscriptionStore) GetActiveSubscriptions(_ context.Context) ([]newsletter.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]newsletter.Subscription, 0, len(s.byEndpoint))
	for _, sub := range s.byEndpoint {
		if settings, ok := s.settings[sub.ID]; ok && !settings.NewsletterNotificationsEnabled {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetNotificationsEnabled toggles newsletter notifications for an endpoint.
func (s *SubscriptionStore) SetNotificationsEnabled(_ context.Context, endpoint string, enabled bool) (newsletter.NotificationSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byEndpoint[endpoint]
	if !ok {
		return newsletter.NotificationSettings{}, fmt.Errorf("subscription %s: %w", endpoint, newsletter.ErrNotFound)
	}
	settings := newsletter.NotificationSettings{
		SubscriptionID:                 sub.ID,
		NewsletterNotificationsEnabled: enabled,
		UpdatedAt:                      s.clock.Now(),
	}
	s.settings[sub.ID] = settings
	return settings, nil
}
