package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// IssueStore provides an in-memory implementation for development/testing.
type IssueStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]newsletter.Issue
	byURL  map[string]int64
}

// NewIssueStore constructs an IssueStore.
func NewIssueStore() *IssueStore {
	return &IssueStore{
		byID:  make(map[int64]newsletter.Issue),
		byURL: make(map[string]int64),
	}
}

// GetAllIssues returns every issue, newest first.
func (s *IssueStore) GetAllIssues(_ context.Context) ([]newsletter.Issue, error) {
	return s.filter(func(newsletter.Issue) bool { return true }), nil
}

// GetIssuesWithoutDetails returns issues whose enrichment has not succeeded yet.
func (s *IssueStore) GetIssuesWithoutDetails(_ context.Context) ([]newsletter.Issue, error) {
	return s.filter(func(issue newsletter.Issue) bool { return !issue.HasDetails }), nil
}

// SearchIssues matches query case-insensitively against title, content and description.
func (s *IssueStore) SearchIssues(_ context.Context, query string, page, limit int) (newsletter.IssuePage, error) {
	needle := strings.ToLower(query)
	matches := s.filter(func(issue newsletter.Issue) bool {
		return strings.Contains(strings.ToLower(issue.Title), needle) ||
			strings.Contains(strings.ToLower(newsletter.Deref(issue.Content)), needle) ||
			strings.Contains(strings.ToLower(newsletter.Deref(issue.Description)), needle)
	})
	return paginate(matches, page, limit), nil
}

// GetIssuesPaged returns one page of issues, newest first.
func (s *IssueStore) GetIssuesPaged(ctx context.Context, page, limit int) (newsletter.IssuePage, error) {
	all, _ := s.GetAllIssues(ctx)
	return paginate(all, page, limit), nil
}

// InsertIssue stores a new issue or fails with newsletter.ErrDuplicateURL.
func (s *IssueStore) InsertIssue(_ context.Context, in newsletter.IssueInput) (newsletter.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[in.URL]; exists {
		return newsletter.Issue{}, fmt.Errorf("insert %s: %w", in.URL, newsletter.ErrDuplicateURL)
	}
	return s.insertLocked(in), nil
}

// InsertIssues stores every row whose URL is new and reports the rest as conflicts.
func (s *IssueStore) InsertIssues(_ context.Context, in []newsletter.IssueInput) (newsletter.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result newsletter.InsertResult
	for _, row := range in {
		if _, exists := s.byURL[row.URL]; exists {
			result.Conflicts = append(result.Conflicts, row)
			continue
		}
		result.Inserted = append(result.Inserted, s.insertLocked(row))
	}
	return result, nil
}

// OverwriteIssueByURL replaces every scraped field of the issue stored under in.URL.
func (s *IssueStore) OverwriteIssueByURL(_ context.Context, in newsletter.IssueInput, checkedAt time.Time) (newsletter.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byURL[in.URL]
	if !ok {
		return newsletter.Issue{}, fmt.Errorf("overwrite %s: %w", in.URL, newsletter.ErrNotFound)
	}
	checked := checkedAt.UTC()
	issue := fromInput(id, in)
	issue.LastChecked = &checked
	s.byID[id] = issue
	return issue, nil
}

// UpdateIssueDetails applies the non-nil fields to the issue with the given id.
func (s *IssueStore) UpdateIssueDetails(_ context.Context, id int64, fields newsletter.IssueFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("update issue %d: %w", id, newsletter.ErrNotFound)
	}
	if fields.Title != nil {
		issue.Title = *fields.Title
	}
	if fields.Description != nil {
		issue.Description = fields.Description
	}
	if fields.Thumbnail != nil {
		issue.Thumbnail = fields.Thumbnail
	}
	if fields.Content != nil {
		issue.Content = fields.Content
	}
	if fields.HasDetails != nil {
		issue.HasDetails = *fields.HasDetails
	}
	if fields.LastChecked != nil {
		checked := fields.LastChecked.UTC()
		issue.LastChecked = &checked
	}
	s.byID[id] = issue
	return nil
}

func (s *IssueStore) insertLocked(in newsletter.IssueInput) newsletter.Issue {
	s.nextID++
	issue := fromInput(s.nextID, in)
	s.byID[issue.ID] = issue
	s.byURL[issue.URL] = issue.ID
	return issue
}

func (s *IssueStore) filter(keep func(newsletter.Issue) bool) []newsletter.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]newsletter.Issue, 0, len(s.byID))
	for _, issue := range s.byID {
		if keep(issue) {
			out = append(out, issue)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.After(out[j].IssueDate)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func fromInput(id int64, in newsletter.IssueInput) newsletter.Issue {
	return newsletter.Issue{
		ID:          id,
		Title:       in.Title,
		IssueDate:   in.IssueDate,
		URL:         in.URL,
		Description: in.Description,
		Thumbnail:   in.Thumbnail,
		Content:     in.Content,
		HasDetails:  in.HasDetails,
	}
}

func paginate(issues []newsletter.Issue, page, limit int) newsletter.IssuePage {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = max(len(issues), 1)
	}
	result := newsletter.IssuePage{Items: []newsletter.Issue{}, Total: len(issues)}
	// Compared in pages so a huge page cannot overflow the offset.
	if page-1 >= (len(issues)+limit-1)/limit {
		return result
	}
	offset := (page - 1) * limit
	end := min(offset+limit, len(issues))
	result.Items = append(result.Items, issues[offset:end]...)
	return result
}
