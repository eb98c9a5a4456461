package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Rebuild the final database from the tech database without crawling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := a.Merge(cmd.Context())
			if err != nil {
				return fmt.Errorf("merge: %w", err)
			}
			renderMerge(cmd.OutOrStdout(), rep)
			return nil
		},
	}
}
