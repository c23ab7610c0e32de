package newsletter

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a single page and returns its body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// Pacer spaces out requests to the upstream host.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// IssueStore persists newsletter issues.
type IssueStore interface {
	GetAllIssues(ctx context.Context) ([]Issue, error)
	GetIssuesWithoutDetails(ctx context.Context) ([]Issue, error)
	SearchIssues(ctx context.Context, query string, page, limit int) (IssuePage, error)
	GetIssuesPaged(ctx context.Context, page, limit int) (IssuePage, error)
	InsertIssue(ctx context.Context, in IssueInput) (Issue, error)
	InsertIssues(ctx context.Context, in []IssueInput) (InsertResult, error)
	OverwriteIssueByURL(ctx context.Context, in IssueInput, checkedAt time.Time) (Issue, error)
	UpdateIssueDetails(ctx context.Context, id int64, fields IssueFields) error
}

// SubscriptionStore persists push subscriptions and their notification settings.
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, in SubscriptionInput) (Subscription, error)
	GetActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	SetNotificationsEnabled(ctx context.Context, endpoint string, enabled bool) (NotificationSettings, error)
}

// PushSender delivers one encrypted payload to one push endpoint.
type PushSender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Queue provides at-least-once enqueue/dequeue semantics for tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Delivery, error)
}

// Hasher computes digests for snapshot naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
