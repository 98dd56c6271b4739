package cmd

import (
	"time"

	"github.com/spf13/cobra"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/output"
)

func newOptimizeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Merge index segments and run relational maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd.Context(), func(a *app) error {
				start := time.Now()
				if err := a.engine.OptimizeIndex(cmd.Context()); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Optimized %s index in %s",
					a.engine.EntityType(), time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newReindexCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the relational store",
		Long: `Clear the inverted index and rebuild it from every row in the relational
store. Use it when 'seekly stats' reports a DEGRADED or CORRUPTED index.
Requires the hybrid backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd.Context(), func(a *app) error {
				if a.hybrid == nil {
					return serrors.ValidationError("reindex requires the hybrid backend", nil).
						WithSuggestion("the file backend has no relational copy to rebuild from")
				}
				n, err := a.hybrid.Reindex(cmd.Context())
				if err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Reindexed %d documents", n)
				return nil
			})
		},
	}
}

func newClearCmd(root *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every document of the configured entity type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return serrors.ValidationError("clear deletes all documents", nil).
					WithSuggestion("re-run with --yes to confirm")
			}
			return root.withApp(cmd.Context(), func(a *app) error {
				if err := a.engine.ClearIndex(cmd.Context()); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Cleared all %s documents", a.engine.EntityType())
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}
