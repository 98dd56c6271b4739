package cmd

import (
	"github.com/spf13/cobra"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/output"
)

func newHealthCmd(root *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the index and relational store are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd.Context(), func(a *app) error {
				err := a.engine.CheckHealth(cmd.Context())
				if jsonOut {
					body := map[string]any{"status": "ok", "entity_type": a.engine.EntityType()}
					if err != nil {
						body["status"] = "unhealthy"
						body["error"] = serrors.ToPayload(err)
					}
					if werr := writeJSON(cmd, body); werr != nil {
						return werr
					}
					return err
				}

				out := output.New(cmd.OutOrStdout())
				if err != nil {
					out.Errorf("%s engine is unhealthy", a.engine.EntityType())
					return err
				}
				out.Successf("%s engine is healthy", a.engine.EntityType())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
