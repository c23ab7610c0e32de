// Package enricher fetches individual issue pages and extracts their details.
package enricher

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/metrics"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
	"github.com/JakeFAU/newsletter-archive/internal/parser"
	"github.com/JakeFAU/newsletter-archive/internal/policy/retry"
)

// Enrichment outcomes reported to metrics.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// Config holds per-request settings for issue page fetches.
type Config struct {
	Headers http.Header
	Timeout time.Duration
}

// Enricher fetches one issue page at a time. It never returns an error: any
// failure degrades to Details{HasDetails: false}.
type Enricher struct {
	fetcher newsletter.Fetcher
	pacer   newsletter.Pacer
	policy  retry.Policy
	cfg     Config
	logger  *zap.Logger
}

// New builds an Enricher. pacer may be nil.
func New(fetcher newsletter.Fetcher, pacer newsletter.Pacer, policy retry.Policy, cfg Config, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		fetcher: fetcher,
		pacer:   pacer,
		policy:  policy,
		cfg:     cfg,
		logger:  logger.Named("enricher"),
	}
}

// Enrich returns the thumbnail and content of the issue page at url.
func (e *Enricher) Enrich(ctx context.Context, url string) newsletter.Details {
	var page newsletter.Page
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		if e.pacer != nil {
			if err := e.pacer.Wait(ctx, url); err != nil {
				return err
			}
		}
		fetched, err := e.fetcher.Fetch(ctx, newsletter.FetchRequest{
			URL:     url,
			Headers: e.cfg.Headers,
			Timeout: e.cfg.Timeout,
		})
		if err != nil {
			return err
		}
		page = fetched
		return nil
	}, func(a retry.Attempt) {
		metrics.ObserveFetchRetry(string(a.Reason))
		e.logger.Info("retrying issue fetch",
			zap.String("url", url),
			zap.String("reason", string(a.Reason)),
			zap.Int("attempt", a.Number),
			zap.Duration("delay", a.Delay),
			zap.Error(a.Err))
	})
	if err != nil {
		metrics.ObserveDetailFetch(OutcomeFailed)
		e.logger.Warn("issue fetch failed", zap.String("url", url), zap.Error(err))
		return newsletter.Details{}
	}

	details, err := parser.ExtractDetails(url, page.Body)
	if err != nil {
		metrics.ObserveDetailFetch(OutcomeFailed)
		e.logger.Warn("issue extraction failed", zap.String("url", url), zap.Error(err))
		return newsletter.Details{}
	}
	if !details.HasDetails {
		metrics.ObserveDetailFetch(OutcomeEmpty)
		e.logger.Info("issue page had no content", zap.String("url", url))
		return newsletter.Details{}
	}
	metrics.ObserveDetailFetch(OutcomeSuccess)
	return details
}
