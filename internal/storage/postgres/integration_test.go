//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	issues    *IssueStore
	subs      *SubscriptionStore
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("newsletters"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.Require().NoError(Migrate(s.ctx, dsn))

	pool, err := Connect(s.ctx, Config{DSN: dsn})
	s.Require().NoError(err)
	s.pool = pool

	s.issues, err = NewIssueStore(pool)
	s.Require().NoError(err)
	s.subs, err = NewSubscriptionStore(pool)
	s.Require().NoError(err)
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "TRUNCATE newsletters, subscriptions, notification_settings RESTART IDENTITY")
	s.Require().NoError(err)
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) TestInsertIssuesIsIdempotent() {
	batch := []newsletter.IssueInput{
		{Title: "A", IssueDate: time.Date(2017, 3, 28, 0, 0, 0, 0, time.UTC), URL: "https://x/archive?id=1"},
		{Title: "B", IssueDate: time.Date(2017, 3, 21, 0, 0, 0, 0, time.UTC), URL: "https://x/archive?id=2"},
	}
	first, err := s.issues.InsertIssues(s.ctx, batch)
	s.Require().NoError(err)
	s.Len(first.Inserted, 2)
	s.Empty(first.Conflicts)

	second, err := s.issues.InsertIssues(s.ctx, batch)
	s.Require().NoError(err)
	s.Empty(second.Inserted)
	s.Len(second.Conflicts, 2)

	_, err = s.issues.InsertIssue(s.ctx, batch[0])
	s.ErrorIs(err, newsletter.ErrDuplicateURL)

	all, err := s.issues.GetAllIssues(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("A", all[0].Title)
}

func (s *PostgresIntegrationSuite) TestSearchAndDetails() {
	inserted, err := s.issues.InsertIssue(s.ctx, newsletter.IssueInput{
		Title: "Garden Tour", IssueDate: time.Date(2017, 3, 28, 0, 0, 0, 0, time.UTC), URL: "https://x/archive?id=3",
	})
	s.Require().NoError(err)

	missing, err := s.issues.GetIssuesWithoutDetails(s.ctx)
	s.Require().NoError(err)
	s.Len(missing, 1)

	content := "Tulips and roses"
	hasDetails := true
	s.Require().NoError(s.issues.UpdateIssueDetails(s.ctx, inserted.ID, newsletter.IssueFields{Content: &content, HasDetails: &hasDetails}))

	page, err := s.issues.SearchIssues(s.ctx, "TULIPS", 1, 10)
	s.Require().NoError(err)
	s.Equal(1, page.Total)
	s.Equal(inserted.ID, page.Items[0].ID)

	missing, err = s.issues.GetIssuesWithoutDetails(s.ctx)
	s.Require().NoError(err)
	s.Empty(missing)
}

func (s *PostgresIntegrationSuite) TestSubscriptionOptOut() {
	a, err := s.subs.AddSubscription(s.ctx, newsletter.SubscriptionInput{Endpoint: "https://push/a", Auth: "x", P256dh: "y"})
	s.Require().NoError(err)
	_, err = s.subs.AddSubscription(s.ctx, newsletter.SubscriptionInput{Endpoint: "https://push/b", Auth: "x", P256dh: "y"})
	s.Require().NoError(err)

	again, err := s.subs.AddSubscription(s.ctx, newsletter.SubscriptionInput{Endpoint: "https://push/a", Auth: "new", P256dh: "y"})
	s.Require().NoError(err)
	s.Equal(a.ID, again.ID)
	s.Equal("new", again.Auth)

	_, err = s.subs.SetNotificationsEnabled(s.ctx, "https://push/a", false)
	s.Require().NoError(err)

	active, err := s.subs.GetActiveSubscriptions(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal("https://push/b", active[0].Endpoint)
}
