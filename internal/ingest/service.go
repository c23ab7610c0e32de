// Package ingest orchestrates ingestion runs: fetch the archive listing, parse it,
// reconcile against storage, enrich new issues and notify subscribers.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/metrics"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
	"github.com/JakeFAU/newsletter-archive/internal/policy/retry"
	"github.com/JakeFAU/newsletter-archive/internal/reconcile"
)

// Run statuses reported to metrics.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusEmpty    = "empty"
	StatusRejected = "rejected"
)

// ListingParser turns the archive page into candidates.
type ListingParser interface {
	Parse(html []byte) ([]newsletter.Candidate, error)
}

// Notifier announces newly imported issues.
type Notifier interface {
	NotifyNewIssues(ctx context.Context, count int) (newsletter.DispatchSummary, error)
}

// Config controls a single run.
type Config struct {
	ArchiveURL     string
	Headers        http.Header
	ListingTimeout time.Duration
	RunTimeout     time.Duration
	// Snapshot stores the raw listing HTML in the blob store before parsing.
	Snapshot       bool
	SnapshotPrefix string
}

// Result summarizes one ingestion run.
type Result struct {
	RunID         string                      `json:"runId"`
	Candidates    int                         `json:"candidates"`
	ImportedCount int                         `json:"importedCount"`
	UpdatedCount  int                         `json:"updatedCount"`
	NeedsDetails  int                         `json:"needsDetails"`
	Unchanged     int                         `json:"unchanged"`
	SnapshotURI   string                      `json:"snapshotUri,omitempty"`
	Notification  *newsletter.DispatchSummary `json:"notification,omitempty"`
}

// RetryResult summarizes one missing-details sweep.
type RetryResult struct {
	RunID        string `json:"runId"`
	Attempted    int    `json:"attempted"`
	UpdatedCount int    `json:"updatedCount"`
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Fetcher    newsletter.Fetcher
	Pacer      newsletter.Pacer
	Policy     retry.Policy
	Parser     ListingParser
	Store      newsletter.IssueStore
	Reconciler *reconcile.Reconciler
	Notifier   Notifier
	Guard      Guard
	Blobs      newsletter.BlobStore
	Hasher     newsletter.Hasher
	Clock      newsletter.Clock
	IDs        newsletter.IDGenerator
	Logger     *zap.Logger
}

// Service runs ingestion and detail sweeps.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewService validates deps and builds a Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("ingest: fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("ingest: parser is required")
	case deps.Store == nil:
		return nil, errors.New("ingest: issue store is required")
	case deps.Reconciler == nil:
		return nil, errors.New("ingest: reconciler is required")
	case deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("ingest: clock and id generator are required")
	case cfg.ArchiveURL == "":
		return nil, errors.New("ingest: archive url is required")
	}
	if deps.Guard == nil {
		deps.Guard = NewLocalGuard()
	}
	if cfg.Snapshot && (deps.Blobs == nil || deps.Hasher == nil) {
		return nil, errors.New("ingest: snapshots need a blob store and hasher")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger.Named("ingest")}, nil
}

// RunIngestion executes one full ingestion run. Overlapping calls fail with
// newsletter.ErrRunInProgress. Notification failures never fail the run.
func (s *Service) RunIngestion(ctx context.Context) (Result, error) {
	start := s.deps.Clock.Now()
	release, err := s.deps.Guard.TryAcquire(ctx)
	if err != nil {
		metrics.ObserveIngestionRun(StatusRejected, 0)
		return Result{}, fmt.Errorf("acquire run guard: %w", err)
	}
	defer release()

	ctx, cancel := s.withRunTimeout(ctx)
	defer cancel()

	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := s.logger.With(zap.String("run_id", runID))
	logger.Info("ingestion started", zap.String("archive_url", s.cfg.ArchiveURL))

	result, status, err := s.runIngestion(ctx, runID, logger)
	elapsed := s.deps.Clock.Now().Sub(start)
	metrics.ObserveIngestionRun(status, elapsed)
	if err != nil {
		logger.Error("ingestion failed", zap.String("status", status), zap.Duration("elapsed", elapsed), zap.Error(err))
		return result, err
	}
	metrics.AddIssuesImported(result.ImportedCount)
	metrics.AddIssuesUpdated(result.UpdatedCount)
	logger.Info("ingestion finished",
		zap.Int("candidates", result.Candidates),
		zap.Int("imported", result.ImportedCount),
		zap.Int("updated", result.UpdatedCount),
		zap.Int("needs_details", result.NeedsDetails),
		zap.Int("unchanged", result.Unchanged),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

func (s *Service) runIngestion(ctx context.Context, runID string, logger *zap.Logger) (Result, string, error) {
	result := Result{RunID: runID}

	html, err := s.fetchListing(ctx, logger)
	if err != nil {
		return result, StatusFailed, fmt.Errorf("fetch archive listing: %w", err)
	}
	result.SnapshotURI = s.snapshot(ctx, html, logger)

	candidates, err := s.deps.Parser.Parse(html)
	if err != nil {
		var emptyErr *newsletter.EmptyListingError
		if errors.As(err, &emptyErr) {
			emptyErr.SnapshotURI = result.SnapshotURI
			logger.Error("no newsletters found in archive listing",
				zap.Int("links_found", emptyErr.LinksFound),
				zap.String("excerpt", emptyErr.Excerpt),
				zap.String("snapshot_uri", emptyErr.SnapshotURI))
			return result, StatusEmpty, emptyErr
		}
		return result, StatusFailed, fmt.Errorf("parse archive listing: %w", err)
	}
	result.Candidates = len(candidates)

	existing, err := s.deps.Store.GetAllIssues(ctx)
	if err != nil {
		return result, StatusFailed, fmt.Errorf("load stored issues: %w", err)
	}
	plan := reconcile.BuildPlan(candidates, reconcile.IndexByURL(existing))
	result.NeedsDetails = len(plan.NeedsDetails)
	result.Unchanged = len(plan.Unchanged)
	logger.Info("reconciliation planned",
		zap.Int("to_insert", len(plan.ToInsert)),
		zap.Int("to_update", len(plan.ToUpdate)),
		zap.Int("needs_details", len(plan.NeedsDetails)))

	toInsert, err := s.deps.Reconciler.Prepare(ctx, plan.ToInsert)
	if err != nil {
		return result, StatusFailed, err
	}
	toUpdate, err := s.deps.Reconciler.Prepare(ctx, plan.ToUpdate)
	if err != nil {
		return result, StatusFailed, err
	}
	applied, err := s.deps.Reconciler.Apply(ctx, toInsert, toUpdate)
	result.ImportedCount = len(applied.Inserted)
	result.UpdatedCount = applied.Updated
	if err != nil {
		return result, StatusFailed, fmt.Errorf("apply reconciliation: %w", err)
	}

	if result.ImportedCount > 0 && s.deps.Notifier != nil {
		summary, notifyErr := s.deps.Notifier.NotifyNewIssues(ctx, result.ImportedCount)
		if notifyErr != nil {
			logger.Warn("notification dispatch failed", zap.Error(notifyErr))
		} else {
			result.Notification = &summary
		}
	}
	return result, StatusSuccess, nil
}

// RetryMissingDetails re-enriches every stored issue that still lacks details.
func (s *Service) RetryMissingDetails(ctx context.Context) (RetryResult, error) {
	release, err := s.deps.Guard.TryAcquire(ctx)
	if err != nil {
		return RetryResult{}, fmt.Errorf("acquire run guard: %w", err)
	}
	defer release()

	ctx, cancel := s.withRunTimeout(ctx)
	defer cancel()

	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return RetryResult{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := s.logger.With(zap.String("run_id", runID))

	issues, err := s.deps.Store.GetIssuesWithoutDetails(ctx)
	if err != nil {
		return RetryResult{RunID: runID}, fmt.Errorf("load issues without details: %w", err)
	}
	logger.Info("detail sweep started", zap.Int("issues", len(issues)))

	updated, err := s.deps.Reconciler.RetryMissingDetails(ctx, issues)
	result := RetryResult{RunID: runID, Attempted: len(issues), UpdatedCount: updated}
	metrics.AddIssuesUpdated(updated)
	if err != nil {
		logger.Error("detail sweep failed", zap.Int("updated", updated), zap.Error(err))
		return result, err
	}
	logger.Info("detail sweep finished", zap.Int("attempted", result.Attempted), zap.Int("updated", updated))
	return result, nil
}

func (s *Service) fetchListing(ctx context.Context, logger *zap.Logger) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, s.deps.Policy, func(ctx context.Context) error {
		if s.deps.Pacer != nil {
			if err := s.deps.Pacer.Wait(ctx, s.cfg.ArchiveURL); err != nil {
				return err
			}
		}
		page, err := s.deps.Fetcher.Fetch(ctx, newsletter.FetchRequest{
			URL:     s.cfg.ArchiveURL,
			Headers: s.cfg.Headers,
			Timeout: s.cfg.ListingTimeout,
		})
		if err != nil {
			return err
		}
		body = page.Body
		return nil
	}, func(a retry.Attempt) {
		metrics.ObserveFetchRetry(string(a.Reason))
		logger.Info("retrying archive listing fetch",
			zap.String("reason", string(a.Reason)),
			zap.Int("attempt", a.Number),
			zap.Duration("delay", a.Delay),
			zap.Error(a.Err))
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Service) snapshot(ctx context.Context, html []byte, logger *zap.Logger) string {
	if !s.cfg.Snapshot {
		return ""
	}
	digest, err := s.deps.Hasher.Hash(html)
	if err != nil {
		logger.Warn("hash listing snapshot", zap.Error(err))
		return ""
	}
	key := path.Join(s.cfg.SnapshotPrefix, s.deps.Clock.Now().Format(newsletter.DateLayout), digest+".html")
	uri, err := s.deps.Blobs.PutObject(ctx, key, "text/html; charset=utf-8", bytes.NewReader(html))
	if err != nil {
		logger.Warn("store listing snapshot", zap.String("key", key), zap.Error(err))
		return ""
	}
	logger.Debug("listing snapshot stored", zap.String("uri", uri))
	return uri
}

func (s *Service) withRunTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RunTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RunTimeout)
}
