package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

func day(s string) time.Time {
	d, err := time.Parse(newsletter.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func seed(t *testing.T, store *IssueStore) {
	t.Helper()
	_, err := store.InsertIssues(context.Background(), []newsletter.IssueInput{
		{Title: "Spring Update", IssueDate: day("2017-03-21"), URL: "u1", Content: newsletter.StringPtr("garden news"), HasDetails: true},
		{Title: "Summer Fair", IssueDate: day("2017-06-01"), URL: "u2"},
		{Title: "Autumn Notes", IssueDate: day("2017-09-10"), URL: "u3", Description: newsletter.StringPtr("Leaves and GARDEN tips...")},
	})
	require.NoError(t, err)
}

func TestIssueStoreOrderingAndPaging(t *testing.T) {
	t.Parallel()

	store := NewIssueStore()
	seed(t, store)
	ctx := context.Background()

	all, err := store.GetAllIssues(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u3", "u2", "u1"}, urls(all))

	page, err := store.GetIssuesPaged(ctx, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Equal(t, []string{"u1"}, urls(page.Items))

	empty, err := store.GetIssuesPaged(ctx, 5, 2)
	require.NoError(t, err)
	require.Empty(t, empty.Items)
	require.NotNil(t, empty.Items)

	require.NotPanics(t, func() {
		far, err := store.GetIssuesPaged(ctx, math.MaxInt, 12)
		require.NoError(t, err)
		require.Equal(t, 3, far.Total)
		require.Empty(t, far.Items)
	})
}

func TestIssueStoreSearch(t *testing.T) {
	t.Parallel()

	store := NewIssueStore()
	seed(t, store)

	page, err := store.SearchIssues(context.Background(), "Garden", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, []string{"u3", "u1"}, urls(page.Items))

	page, err = store.SearchIssues(context.Background(), "fair", 1, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, urls(page.Items))
}

func TestIssueStoreUniqueURL(t *testing.T) {
	t.Parallel()

	store := NewIssueStore()
	seed(t, store)
	ctx := context.Background()

	_, err := store.InsertIssue(ctx, newsletter.IssueInput{Title: "dup", URL: "u1"})
	require.ErrorIs(t, err, newsletter.ErrDuplicateURL)

	res, err := store.InsertIssues(ctx, []newsletter.IssueInput{{Title: "dup", URL: "u2"}, {Title: "new", URL: "u4"}})
	require.NoError(t, err)
	require.Len(t, res.Inserted, 1)
	require.Equal(t, "u4", res.Inserted[0].URL)
	require.Len(t, res.Conflicts, 1)
	require.Equal(t, "u2", res.Conflicts[0].URL)
}

func TestIssueStoreOverwriteAndUpdate(t *testing.T) {
	t.Parallel()

	store := NewIssueStore()
	seed(t, store)
	ctx := context.Background()
	checked := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	updated, err := store.OverwriteIssueByURL(ctx, newsletter.IssueInput{
		Title: "Summer Fair (revised)", IssueDate: day("2017-06-02"), URL: "u2", HasDetails: true,
		Content: newsletter.StringPtr("body"),
	}, checked)
	require.NoError(t, err)
	require.Equal(t, "Summer Fair (revised)", updated.Title)
	require.True(t, updated.LastChecked.Equal(checked))

	_, err = store.OverwriteIssueByURL(ctx, newsletter.IssueInput{URL: "missing"}, checked)
	require.ErrorIs(t, err, newsletter.ErrNotFound)

	without, err := store.GetIssuesWithoutDetails(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u3"}, urls(without))

	hasDetails := true
	require.NoError(t, store.UpdateIssueDetails(ctx, without[0].ID, newsletter.IssueFields{
		Content:     newsletter.StringPtr("autumn body"),
		HasDetails:  &hasDetails,
		LastChecked: &checked,
	}))
	without, err = store.GetIssuesWithoutDetails(ctx)
	require.NoError(t, err)
	require.Empty(t, without)

	require.ErrorIs(t, store.UpdateIssueDetails(ctx, 999, newsletter.IssueFields{}), newsletter.ErrNotFound)
}

func urls(issues []newsletter.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.URL)
	}
	return out
}
