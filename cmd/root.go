// Package cmd defines the CLI commands for the newsletter-archive executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newsletter-archive/internal/config"
	"github.com/JakeFAU/newsletter-archive/internal/server"
	pgstore "github.com/JakeFAU/newsletter-archive/internal/storage/postgres"
)

// configKeyType is the key for storing the loaded Config in the command context.
type configKeyType string

const configKey configKeyType = "config"

// App is the slice of *server.App the commands use. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Ingest() server.Ingester
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// loadConfig is replaced in tests.
var loadConfig = config.Load

// migrate is replaced in tests.
var migrate = pgstore.Migrate

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "newsletter-archive",
		Short: "Mirror a hosted newsletter archive and serve it.",
		Long: `newsletter-archive scrapes the public archive page of a newsletter
platform, keeps a deduplicated copy of every issue in Postgres, serves it
through a paginated and searchable API with RSS and embed feeds, and sends
Web Push notifications when new issues appear.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand: the loaded config is stored in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the NEWSLETTER_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newRetryDetailsCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withApp builds the application, runs fn and closes the application.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app App) error) error {
	ctx := cmd.Context()
	cfg, err := resolveConfig(ctx)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, app)
}
