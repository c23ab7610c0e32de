// Package collyfetcher implements newsletter.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

const defaultTimeout = 15 * time.Second

// ChallengeDetector recognizes anti-bot interstitials.
type ChallengeDetector interface {
	Detect(body []byte) bool
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Headers are sent on every request; per-request headers are added on top.
	Headers  http.Header
	Timeout  time.Duration
	Detector ChallengeDetector
}

// Fetcher implements newsletter.Fetcher using the Colly collector. It never retries.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the colly callbacks observed for one request.
type fetchState struct {
	page   newsletter.Page
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. Non-2xx responses and transport
// failures are returned as *newsletter.NetworkError; bodies carrying a challenge
// marker are returned as newsletter.ErrChallengeDetected.
func (f *Fetcher) Fetch(ctx context.Context, request newsletter.FetchRequest) (newsletter.Page, error) {
	var state fetchState
	start := time.Now()
	collector := f.buildCollector(request, start, &state)

	if err := f.runCollector(ctx, collector, request.URL); err != nil {
		if ctx.Err() != nil {
			// The visit goroutine may still be writing to state.
			return newsletter.Page{}, &newsletter.NetworkError{URL: request.URL, Err: err}
		}
		if state.err == nil {
			state.err = err
		}
	}
	return f.finish(request.URL, &state)
}

func (f *Fetcher) finish(url string, state *fetchState) (newsletter.Page, error) {
	body := state.page.Body
	if state.err != nil {
		body = state.body
	}
	if f.cfg.Detector != nil && f.cfg.Detector.Detect(body) {
		return newsletter.Page{}, fmt.Errorf("fetch %s: %w", url, newsletter.ErrChallengeDetected)
	}
	if state.err != nil {
		netErr := &newsletter.NetworkError{URL: url, StatusCode: state.status}
		if state.status == 0 {
			netErr.Err = state.err
		}
		return newsletter.Page{}, netErr
	}
	if state.page.StatusCode < 200 || state.page.StatusCode > 299 {
		return newsletter.Page{}, &newsletter.NetworkError{URL: url, StatusCode: state.page.StatusCode}
	}
	return state.page, nil
}

func (f *Fetcher) buildCollector(request newsletter.FetchRequest, start time.Time, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)

	f.configureCollectorHooks(collector, request, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request newsletter.FetchRequest,
	start time.Time,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.page = newsletter.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		state.err = err
		if r != nil {
			state.status = r.StatusCode
			state.body = append([]byte(nil), r.Body...)
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request newsletter.FetchRequest, r *colly.Request) {
	for _, headers := range []http.Header{f.cfg.Headers, request.Headers} {
		for key, values := range headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
