package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stream checkpoints, recent runs, and the final database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			checkpoints, err := a.Tech().ListCheckpoints(ctx)
			if err != nil {
				return fmt.Errorf("list checkpoints: %w", err)
			}
			history, err := a.Tech().ListRunStreams(ctx, runs)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			summary, err := a.Canonical().Summary(ctx)
			if err != nil {
				return fmt.Errorf("summarize final database: %w", err)
			}
			out := cmd.OutOrStdout()
			renderCheckpoints(out, checkpoints, a.Clock().Now())
			renderRuns(out, history)
			renderCanonical(out, summary)
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 10, "number of run history rows to show")
	return cmd
}
