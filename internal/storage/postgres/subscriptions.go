package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// SubscriptionStore persists push subscriptions and their notification settings.
type SubscriptionStore struct {
	db DB
}

// NewSubscriptionStore wraps a pool (or a pgxmock pool in tests).
func NewSubscriptionStore(db DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SubscriptionStore{db: db}, nil
}

// AddSubscription upserts the endpoint's keys and makes sure a settings row exists.
func (s *SubscriptionStore) AddSubscription(ctx context.Context, in newsletter.SubscriptionInput) (newsletter.Subscription, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return newsletter.Subscription{}, fmt.Errorf("begin subscription tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sub newsletter.Subscription
	err = tx.QueryRow(ctx, `
INSERT INTO subscriptions (endpoint, auth, p256dh)
VALUES ($1, $2, $3)
ON CONFLICT (endpoint) DO UPDATE SET auth = EXCLUDED.auth, p256dh = EXCLUDED.p256dh
RETURNING id, endpoint, auth, p256dh, created_at`,
		in.Endpoint, in.Auth, in.P256dh,
	).Scan(&sub.ID, &sub.Endpoint, &sub.Auth, &sub.P256dh, &sub.CreatedAt)
	if err != nil {
		return newsletter.Subscription{}, fmt.Errorf("upsert subscription: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO notification_settings (subscription_id)
VALUES ($1)
ON CONFLICT (subscription_id) DO NOTHING`, sub.ID); err != nil {
		return newsletter.Subscription{}, fmt.Errorf("create notification settings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return newsletter.Subscription{}, fmt.Errorf("commit subscription: %w", err)
	}
	return sub, nil
}

// GetActiveSubscriptions returns subscriptions that have not opted out. A
// missing settings row counts as enabled.
func (s *SubscriptionStore) GetActiveSubscriptions(ctx context.Context) ([]newsletter.Subscription, error) {
	rows, err := s.db.Query(ctx, `
SELECT s.id, s.endpoint, s.auth, s.p256dh, s.created_at
FROM subscriptions s
LEFT JOIN notification_settings n ON n.subscription_id = s.id
WHERE COALESCE(n.newsletter_notifications, TRUE)
ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()
	subs := []newsletter.Subscription{}
	for rows.Next() {
		var sub newsletter.Subscription
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.Auth, &sub.P256dh, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// SetNotificationsEnabled toggles newsletter notifications for an endpoint.
func (s *SubscriptionStore) SetNotificationsEnabled(ctx context.Context, endpoint string, enabled bool) (newsletter.NotificationSettings, error) {
	var settings newsletter.NotificationSettings
	err := s.db.QueryRow(ctx, `
INSERT INTO notification_settings (subscription_id, newsletter_notifications, updated_at)
SELECT id, $2, NOW() FROM subscriptions WHERE endpoint = $1
ON CONFLICT (subscription_id) DO UPDATE
SET newsletter_notifications = EXCLUDED.newsletter_notifications, updated_at = EXCLUDED.updated_at
RETURNING subscription_id, newsletter_notifications, updated_at`,
		endpoint, enabled,
	).Scan(&settings.SubscriptionID, &settings.NewsletterNotificationsEnabled, &settings.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return newsletter.NotificationSettings{}, fmt.Errorf("subscription %s: %w", endpoint, newsletter.ErrNotFound)
	}
	if err != nil {
		return newsletter.NotificationSettings{}, fmt.Errorf("update notification settings: %w", err)
	}
	return settings, nil
}
