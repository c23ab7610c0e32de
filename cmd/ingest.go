package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass and exit",
		Long: `Fetches the archive listing once, stores new and changed issues and
notifies subscribers. Exits non-zero when the run fails, including when
another run holds the run lock.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app App) error {
				result, err := app.Ingest().RunIngestion(ctx)
				if err != nil {
					return fmt.Errorf("ingestion failed: %w", err)
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func newRetryDetailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-details",
		Short: "Re-fetch details for stored issues that lack them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app App) error {
				result, err := app.Ingest().RetryMissingDetails(ctx)
				if err != nil {
					return fmt.Errorf("detail sweep failed: %w", err)
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
