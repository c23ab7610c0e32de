package enricher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
	"github.com/JakeFAU/newsletter-archive/internal/policy/retry"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	responses []fetchResult
	requests  []newsletter.FetchRequest
}

type fetchResult struct {
	body string
	err  error
}

func (f *scriptedFetcher) Fetch(_ context.Context, req newsletter.FetchRequest) (newsletter.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return newsletter.Page{}, errors.New("no scripted response")
	}
	next := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	if next.err != nil {
		return newsletter.Page{}, next.err
	}
	return newsletter.Page{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(next.body)}, nil
}

type countingPacer struct{ calls int }

func (p *countingPacer) Wait(context.Context, string) error {
	p.calls++
	return nil
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ChallengeRetries: 1, ChallengeDelay: time.Millisecond}
}

const issueHTML = `<html><body><img src="logo.png"><img src="/hero.jpg"><p>Issue body</p></body></html>`

func TestEnrich_Success(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResult{{body: issueHTML}}}
	pacer := &countingPacer{}
	e := New(fetcher, pacer, testPolicy(), Config{Timeout: 15 * time.Second, Headers: http.Header{"Accept": {"text/html"}}}, nil)

	details := e.Enrich(context.Background(), "https://app.robly.com/archive?id=1")
	require.True(t, details.HasDetails)
	require.Equal(t, "https://app.robly.com/hero.jpg", *details.Thumbnail)
	require.Equal(t, "Issue body", *details.Content)
	require.Equal(t, 1, pacer.calls)
	require.Len(t, fetcher.requests, 1)
	require.Equal(t, 15*time.Second, fetcher.requests[0].Timeout)
	require.Equal(t, "text/html", fetcher.requests[0].Headers.Get("Accept"))
}

func TestEnrich_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResult{
		{err: &newsletter.NetworkError{URL: "u", StatusCode: http.StatusTooManyRequests}},
		{body: issueHTML},
	}}
	pacer := &countingPacer{}
	e := New(fetcher, pacer, testPolicy(), Config{}, nil)

	details := e.Enrich(context.Background(), "https://app.robly.com/archive?id=1")
	require.True(t, details.HasDetails)
	require.Len(t, fetcher.requests, 2)
	require.Equal(t, 2, pacer.calls, "every attempt is paced")
}

func TestEnrich_ChallengeTwiceDegrades(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResult{{err: newsletter.ErrChallengeDetected}}}
	e := New(fetcher, nil, testPolicy(), Config{}, nil)

	details := e.Enrich(context.Background(), "https://app.robly.com/archive?id=1")
	require.False(t, details.HasDetails)
	require.Nil(t, details.Thumbnail)
	require.Nil(t, details.Content)
	require.Len(t, fetcher.requests, 2)
}

func TestEnrich_PermanentFailureDegrades(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResult{{err: &newsletter.NetworkError{URL: "u", StatusCode: http.StatusNotFound}}}}
	e := New(fetcher, nil, testPolicy(), Config{}, nil)

	details := e.Enrich(context.Background(), "https://app.robly.com/archive?id=404")
	require.Equal(t, newsletter.Details{}, details)
	require.Len(t, fetcher.requests, 1)
}

func TestEnrich_EmptyPageHasNoDetails(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []fetchResult{{body: `<html><body><img src="a"><img src="b"></body></html>`}}}
	e := New(fetcher, nil, testPolicy(), Config{}, nil)

	details := e.Enrich(context.Background(), "https://app.robly.com/archive?id=2")
	require.False(t, details.HasDetails)
	require.Nil(t, details.Thumbnail)
}
