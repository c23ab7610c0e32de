package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

const issueColumns = `id, title, issue_date, url, description, thumbnail, content, has_details, last_checked`

const issueOrder = ` ORDER BY issue_date DESC, id DESC`

const searchFilter = ` WHERE title ILIKE $1 OR content ILIKE $1 OR description ILIKE $1`

// IssueStore persists newsletter issues in the newsletters table.
type IssueStore struct {
	db DB
}

// NewIssueStore wraps a pool (or a pgxmock pool in tests).
func NewIssueStore(db DB) (*IssueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &IssueStore{db: db}, nil
}

// GetAllIssues returns every issue, newest first.
func (s *IssueStore) GetAllIssues(ctx context.Context) ([]newsletter.Issue, error) {
	return s.queryIssues(ctx, "SELECT "+issueColumns+" FROM newsletters"+issueOrder)
}

// GetIssuesWithoutDetails returns issues whose enrichment has not succeeded yet.
func (s *IssueStore) GetIssuesWithoutDetails(ctx context.Context) ([]newsletter.Issue, error) {
	return s.queryIssues(ctx, "SELECT "+issueColumns+" FROM newsletters WHERE NOT has_details"+issueOrder)
}

// SearchIssues matches query case-insensitively against title, content and description.
func (s *IssueStore) SearchIssues(ctx context.Context, query string, page, limit int) (newsletter.IssuePage, error) {
	pattern := "%" + escapeLike(query) + "%"
	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM newsletters"+searchFilter, pattern).Scan(&total); err != nil {
		return newsletter.IssuePage{}, fmt.Errorf("count search results: %w", err)
	}
	lim, offset := window(page, limit)
	items, err := s.queryIssues(ctx,
		"SELECT "+issueColumns+" FROM newsletters"+searchFilter+issueOrder+" LIMIT $2 OFFSET $3",
		pattern, lim, offset)
	if err != nil {
		return newsletter.IssuePage{}, err
	}
	return newsletter.IssuePage{Items: items, Total: total}, nil
}

// GetIssuesPaged returns one page of issues, newest first.
func (s *IssueStore) GetIssuesPaged(ctx context.Context, page, limit int) (newsletter.IssuePage, error) {
	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM newsletters").Scan(&total); err != nil {
		return newsletter.IssuePage{}, fmt.Errorf("count issues: %w", err)
	}
	lim, offset := window(page, limit)
	items, err := s.queryIssues(ctx,
		"SELECT "+issueColumns+" FROM newsletters"+issueOrder+" LIMIT $1 OFFSET $2", lim, offset)
	if err != nil {
		return newsletter.IssuePage{}, err
	}
	return newsletter.IssuePage{Items: items, Total: total}, nil
}

// InsertIssue stores a new issue or fails with newsletter.ErrDuplicateURL.
func (s *IssueStore) InsertIssue(ctx context.Context, in newsletter.IssueInput) (newsletter.Issue, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO newsletters (title, issue_date, url, description, thumbnail, content, has_details)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+issueColumns,
		in.Title, in.IssueDate, in.URL, in.Description, in.Thumbnail, in.Content, in.HasDetails)
	issue, err := scanIssue(row)
	if err != nil {
		if isUniqueViolation(err) {
			return newsletter.Issue{}, fmt.Errorf("insert %s: %w", in.URL, newsletter.ErrDuplicateURL)
		}
		return newsletter.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	return issue, nil
}

// InsertIssues inserts all rows in one statement. Rows whose URL already exists
// are skipped by the database and reported back as conflicts.
func (s *IssueStore) InsertIssues(ctx context.Context, in []newsletter.IssueInput) (newsletter.InsertResult, error) {
	var result newsletter.InsertResult
	if len(in) == 0 {
		return result, nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO newsletters (title, issue_date, url, description, thumbnail, content, has_details) VALUES ")
	args := make([]any, 0, len(in)*7)
	for i, row := range in {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, row.Title, row.IssueDate, row.URL, row.Description, row.Thumbnail, row.Content, row.HasDetails)
	}
	sb.WriteString(" ON CONFLICT (url) DO NOTHING RETURNING " + issueColumns)

	inserted, err := s.queryIssues(ctx, sb.String(), args...)
	if err != nil {
		return result, fmt.Errorf("insert batch: %w", err)
	}
	result.Inserted = inserted
	seen := make(map[string]struct{}, len(inserted))
	for _, issue := range inserted {
		seen[issue.URL] = struct{}{}
	}
	for _, row := range in {
		if _, ok := seen[row.URL]; !ok {
			result.Conflicts = append(result.Conflicts, row)
		}
	}
	return result, nil
}

// OverwriteIssueByURL replaces every scraped field of the issue stored under in.URL.
func (s *IssueStore) OverwriteIssueByURL(ctx context.Context, in newsletter.IssueInput, checkedAt time.Time) (newsletter.Issue, error) {
	row := s.db.QueryRow(ctx, `
UPDATE newsletters
SET title = $2, issue_date = $3, description = $4, thumbnail = $5, content = $6, has_details = $7, last_checked = $8
WHERE url = $1
RETURNING `+issueColumns,
		in.URL, in.Title, in.IssueDate, in.Description, in.Thumbnail, in.Content, in.HasDetails, checkedAt.UTC())
	issue, err := scanIssue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return newsletter.Issue{}, fmt.Errorf("overwrite %s: %w", in.URL, newsletter.ErrNotFound)
	}
	if err != nil {
		return newsletter.Issue{}, fmt.Errorf("overwrite issue: %w", err)
	}
	return issue, nil
}

// UpdateIssueDetails applies the non-nil fields to the issue with the given id.
func (s *IssueStore) UpdateIssueDetails(ctx context.Context, id int64, fields newsletter.IssueFields) error {
	sets := make([]string, 0, 6)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if fields.Title != nil {
		add("title", *fields.Title)
	}
	if fields.Description != nil {
		add("description", *fields.Description)
	}
	if fields.Thumbnail != nil {
		add("thumbnail", *fields.Thumbnail)
	}
	if fields.Content != nil {
		add("content", *fields.Content)
	}
	if fields.HasDetails != nil {
		add("has_details", *fields.HasDetails)
	}
	if fields.LastChecked != nil {
		add("last_checked", fields.LastChecked.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	tag, err := s.db.Exec(ctx, "UPDATE newsletters SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return fmt.Errorf("update issue %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update issue %d: %w", id, newsletter.ErrNotFound)
	}
	return nil
}

func (s *IssueStore) queryIssues(ctx context.Context, query string, args ...any) ([]newsletter.Issue, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()
	issues := []newsletter.Issue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, nil
}

func scanIssue(row pgx.Row) (newsletter.Issue, error) {
	var issue newsletter.Issue
	err := row.Scan(
		&issue.ID,
		&issue.Title,
		&issue.IssueDate,
		&issue.URL,
		&issue.Description,
		&issue.Thumbnail,
		&issue.Content,
		&issue.HasDetails,
		&issue.LastChecked,
	)
	return issue, err
}

// window converts page/limit into LIMIT/OFFSET arguments. A nil limit means no limit.
func window(page, limit int) (any, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		return nil, 0
	}
	if page-1 > math.MaxInt/limit {
		return limit, math.MaxInt
	}
	return limit, (page - 1) * limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
