// Package reconcile merges freshly parsed candidates with the stored archive.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// DefaultBatchSize is the number of rows written per insert statement.
const DefaultBatchSize = 50

// DetailSource enriches a single issue page. Implementations never fail.
type DetailSource interface {
	Enrich(ctx context.Context, url string) newsletter.Details
}

// Plan classifies candidates against the stored archive, preserving candidate order.
type Plan struct {
	// ToInsert holds candidates whose URL is not stored yet.
	ToInsert []newsletter.Candidate
	// ToUpdate holds candidates whose stored title or date changed upstream.
	ToUpdate []newsletter.Candidate
	// NeedsDetails holds stored issues that are otherwise current but lack details.
	NeedsDetails []newsletter.Issue
	// Unchanged holds candidates matching a stored issue that already has details.
	Unchanged []newsletter.Candidate
}

// ApplyResult counts the rows written by Apply.
type ApplyResult struct {
	Inserted []newsletter.Issue
	Updated  int
}

// Config tunes write batching.
type Config struct {
	BatchSize int
}

// Reconciler builds and applies plans against an IssueStore.
type Reconciler struct {
	store    newsletter.IssueStore
	enricher DetailSource
	clock    newsletter.Clock
	cfg      Config
	logger   *zap.Logger
}

// New builds a Reconciler.
func New(store newsletter.IssueStore, enricher DetailSource, clock newsletter.Clock, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		enricher: enricher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("reconcile"),
	}
}

// BuildPlan classifies candidates against the issues stored under the same URL.
func BuildPlan(candidates []newsletter.Candidate, existingByURL map[string]newsletter.Issue) Plan {
	var plan Plan
	for _, candidate := range candidates {
		existing, ok := existingByURL[candidate.URL]
		switch {
		case !ok:
			plan.ToInsert = append(plan.ToInsert, candidate)
		case existing.Title != candidate.Title || !sameDay(existing.IssueDate, candidate.Date):
			plan.ToUpdate = append(plan.ToUpdate, candidate)
		case !existing.HasDetails:
			plan.NeedsDetails = append(plan.NeedsDetails, existing)
		default:
			plan.Unchanged = append(plan.Unchanged, candidate)
		}
	}
	return plan
}

// IndexByURL keys issues by URL.
func IndexByURL(issues []newsletter.Issue) map[string]newsletter.Issue {
	index := make(map[string]newsletter.Issue, len(issues))
	for _, issue := range issues {
		index[issue.URL] = issue
	}
	return index
}

// Prepare enriches candidates one at a time, in order, and builds the rows to write.
func (r *Reconciler) Prepare(ctx context.Context, candidates []newsletter.Candidate) ([]newsletter.IssueInput, error) {
	inputs := make([]newsletter.IssueInput, 0, len(candidates))
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("prepare candidates: %w", err)
		}
		details := r.enricher.Enrich(ctx, candidate.URL)
		inputs = append(inputs, newsletter.IssueInput{
			Title:       candidate.Title,
			IssueDate:   candidate.Date,
			URL:         candidate.URL,
			Description: newsletter.DeriveDescription(details.Content),
			Thumbnail:   details.Thumbnail,
			Content:     details.Content,
			HasDetails:  details.HasDetails,
		})
	}
	return inputs, nil
}

// Apply inserts new rows in batches and overwrites changed ones. Inserts that
// collide with an existing URL are converted into overwrites.
func (r *Reconciler) Apply(ctx context.Context, toInsert, toUpdate []newsletter.IssueInput) (ApplyResult, error) {
	var result ApplyResult
	for start := 0; start < len(toInsert); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(toInsert))
		batch, err := r.store.InsertIssues(ctx, toInsert[start:end])
		if err != nil {
			return result, fmt.Errorf("insert issues: %w", err)
		}
		result.Inserted = append(result.Inserted, batch.Inserted...)
		for _, conflict := range batch.Conflicts {
			r.logger.Info("issue already stored, updating in place", zap.String("url", conflict.URL))
			if err := r.overwrite(ctx, conflict); err != nil {
				return result, err
			}
			result.Updated++
		}
	}
	for _, in := range toUpdate {
		if err := r.overwrite(ctx, in); err != nil {
			return result, err
		}
		result.Updated++
	}
	return result, nil
}

func (r *Reconciler) overwrite(ctx context.Context, in newsletter.IssueInput) error {
	if _, err := r.store.OverwriteIssueByURL(ctx, in, r.clock.Now()); err != nil {
		return fmt.Errorf("overwrite issue %s: %w", in.URL, err)
	}
	return nil
}

// RetryMissingDetails re-enriches issues lacking details, one at a time, and
// persists only the ones whose retry produced details. It returns the number
// of issues updated.
func (r *Reconciler) RetryMissingDetails(ctx context.Context, issues []newsletter.Issue) (int, error) {
	updated := 0
	for _, issue := range issues {
		if issue.HasDetails {
			continue
		}
		if err := ctx.Err(); err != nil {
			return updated, fmt.Errorf("retry missing details: %w", err)
		}
		details := r.enricher.Enrich(ctx, issue.URL)
		if !details.HasDetails {
			r.logger.Debug("issue still lacks details", zap.Int64("id", issue.ID), zap.String("url", issue.URL))
			continue
		}
		now := r.clock.Now()
		hasDetails := true
		err := r.store.UpdateIssueDetails(ctx, issue.ID, newsletter.IssueFields{
			Thumbnail:   details.Thumbnail,
			Content:     details.Content,
			Description: newsletter.DeriveDescription(details.Content),
			HasDetails:  &hasDetails,
			LastChecked: &now,
		})
		if errors.Is(err, newsletter.ErrNotFound) {
			r.logger.Warn("issue vanished before update", zap.Int64("id", issue.ID))
			continue
		}
		if err != nil {
			return updated, fmt.Errorf("update issue %d: %w", issue.ID, err)
		}
		updated++
	}
	return updated, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
