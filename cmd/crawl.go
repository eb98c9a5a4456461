package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/doublescout/internal/app"
)

func newCrawlCmd() *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl both listings, then merge them into the final database",
		Long: `Discovers the listing size, runs the playtime and name streams in parallel
from their checkpoints, and merges whatever they saved into the final
database. Completed streams are skipped; errored or interrupted streams
resume where they stopped.

The exit status is non-zero when discovery or the merge fails, or when a
stream ended in error.`,
		Annotations: map[string]string{annotationStatusServer: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, export)
		},
	}
	cmd.Flags().Bool("playtime-only", false, "crawl only the playtime stream")
	cmd.Flags().Int("max-pages", 0, "stop each stream after this many pages (0 = no limit)")
	cmd.Flags().String("status-addr", "", "serve status endpoints on this address while crawling")
	cmd.Flags().BoolVar(&export, "export", false, "copy the merged rows to Postgres afterwards")
	return cmd
}

func runCrawl(cmd *cobra.Command, export bool) error {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	logger := a.Logger()

	o, err := a.Orchestrator()
	if err != nil {
		return err
	}
	sum, err := o.Run(ctx)
	renderSummary(cmd.OutOrStdout(), sum)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if ctx.Err() != nil {
		logger.Warn("crawl stopped by signal; rerun to resume", zap.Stringer("run_id", sum.RunID))
	}

	if export {
		n, err := a.Export(context.WithoutCancel(ctx))
		switch {
		case errors.Is(err, app.ErrExportDisabled):
			logger.Warn("--export given but export.postgres_dsn is empty")
		case err != nil:
			return err
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s rows\n", formatCount(n))
		}
	}

	if failed := sum.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d stream(s) ended in error; rerun to resume from the checkpoint", len(failed))
	}
	return nil
}
