package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/h12/seekly/internal/output"
)

func newSuggestCmd(root *rootOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "suggest <prefix>",
		Short: "Suggest stored contents starting with a prefix",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := strings.Join(args, " ")
			return root.withApp(cmd.Context(), func(a *app) error {
				n := limit
				if n <= 0 {
					n = a.cfg.Search.MaxSuggestions
				}
				suggestions, err := a.engine.GetSuggestions(cmd.Context(), prefix, n)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, map[string][]string{"suggestions": suggestions})
				}
				for _, s := range suggestions {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum suggestions (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a stored document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), func(a *app) error {
				doc, err := a.engine.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, doc)
			})
		},
	}
}

func newRemoveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove documents by id",
		Long:  `Remove documents by id. Ids that are not indexed are ignored.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withApp(cmd.Context(), func(a *app) error {
				for _, id := range args {
					if err := a.engine.Remove(cmd.Context(), id); err != nil {
						return err
					}
				}
				output.New(cmd.OutOrStdout()).Successf("Removed %d document(s)", len(args))
				return nil
			})
		},
	}
}
