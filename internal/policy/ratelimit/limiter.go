// Package ratelimit spaces out requests to the upstream host with per-host token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/newsletter-archive/internal/metrics"
)

// Config holds pacing configuration.
type Config struct {
	// MinInterval is the minimum gap between two requests to the same host.
	// Zero disables pacing.
	MinInterval time.Duration
}

// Pacer manages per-host rate limits.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
}

// New creates a new Pacer.
func New(cfg Config) *Pacer {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	if p.limit == rate.Inf {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	p.mu.Lock()
	limiter, exists := p.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(p.limit, 1)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacerDelay(host, waited)
	}
	return nil
}
