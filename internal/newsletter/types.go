// Package newsletter defines the core types shared across the ingestion pipeline,
// storage, notification and API subsystems.
package newsletter

import (
	"net/http"
	"time"
)

// DateLayout is the ISO calendar date format used for issue dates.
const DateLayout = "2006-01-02"

// Issue is one published newsletter edition as persisted by the archive.
type Issue struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	IssueDate   time.Time  `json:"date"`
	URL         string     `json:"url"`
	Description *string    `json:"description"`
	Thumbnail   *string    `json:"thumbnail"`
	Content     *string    `json:"content"`
	HasDetails  bool       `json:"hasDetails"`
	LastChecked *time.Time `json:"lastChecked"`
}

// IssueInput carries the scraped fields used to create or overwrite an issue.
// It never carries an ID or LastChecked; storage assigns the former and the
// enrichment/overwrite paths own the latter.
type IssueInput struct {
	Title       string
	IssueDate   time.Time
	URL         string
	Description *string
	Thumbnail   *string
	Content     *string
	HasDetails  bool
}

// IssueFields is a partial update applied to a stored issue. Nil pointers are left untouched.
type IssueFields struct {
	Title       *string
	Description *string
	Thumbnail   *string
	Content     *string
	HasDetails  *bool
	LastChecked *time.Time
}

// Candidate is a parsed-but-unpersisted issue stub produced by the listing parser.
type Candidate struct {
	Title    string
	DateText string
	Date     time.Time
	URL      string
}

// Details is the outcome of enriching a single issue page.
type Details struct {
	Thumbnail  *string
	Content    *string
	HasDetails bool
}

// IssuePage is one page of issues plus the total number of matching rows.
type IssuePage struct {
	Items []Issue `json:"items"`
	Total int     `json:"total"`
}

// InsertResult reports which rows of a batch insert landed and which collided
// with an already stored URL.
type InsertResult struct {
	Inserted  []Issue
	Conflicts []IssueInput
}

// Subscription is a browser push subscription.
type Subscription struct {
	ID        int64     `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Auth      string    `json:"auth"`
	P256dh    string    `json:"p256dh"`
	CreatedAt time.Time `json:"createdAt"`
}

// SubscriptionInput is the payload required to register a subscription.
type SubscriptionInput struct {
	Endpoint string
	Auth     string
	P256dh   string
}

// NotificationSettings holds per-subscription delivery preferences.
type NotificationSettings struct {
	SubscriptionID                 int64     `json:"subscriptionId"`
	NewsletterNotificationsEnabled bool      `json:"newsletterNotifications"`
	UpdatedAt                      time.Time `json:"updatedAt"`
}

// FetchRequest captures everything needed to fetch a page from the upstream source.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// Page is the raw response returned by a Fetcher.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// TaskKind identifies the entry point a queued task invokes.
type TaskKind string

// Task kinds understood by the worker.
const (
	TaskIngest       TaskKind = "ingest"
	TaskRetryDetails TaskKind = "retry_details"
)

// Task is a unit of work carried by the task queue.
type Task struct {
	ID        string   `json:"id"`
	Kind      TaskKind `json:"kind"`
	Attempt   int      `json:"attempt"`
	Submitted int64    `json:"submitted"`
	Trigger   string   `json:"trigger"`
}

// Delivery wraps a dequeued task. Ack must be called once the task has been
// handled (successfully or not) so the transport stops redelivering it.
type Delivery struct {
	Task Task
	Ack  func()
}

// DispatchSummary aggregates the outcome of one notification fan-out.
type DispatchSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Gone      int `json:"gone"`
}
