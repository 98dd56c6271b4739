package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/h12/seekly/internal/config"
	"github.com/h12/seekly/internal/output"
	"github.com/h12/seekly/internal/search"
)

// statsReport is the JSON shape of `seekly stats --json`.
type statsReport struct {
	Backend        string            `json:"backend"`
	ActiveEntities int64             `json:"active_entities"`
	Index          search.IndexStats `json:"index"`
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and health",
		Long: `Show index statistics and health.

Health is CORRUPTED when the index cannot be read back, UNHEALTHY when a
store fails, DEGRADED when the index and the relational store disagree on
the document count (run 'seekly reindex'), and HEALTHY otherwise.

Search performance statistics live in the serving process; see
GET /v1/stats on 'seekly serve'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd.Context(), func(a *app) error {
				ctx := cmd.Context()
				ist, statsErr := a.engine.IndexStats(ctx)
				active, err := a.engine.Count(ctx)
				if err != nil {
					active = -1
				}

				report := statsReport{Backend: a.cfg.Index.Backend, ActiveEntities: active, Index: ist}
				if jsonOut {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
					return statsErr
				}
				printStats(output.New(cmd.OutOrStdout()), report)
				return statsErr
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printStats(out *output.Writer, r statsReport) {
	out.Header(fmt.Sprintf("%s index (%s backend)", r.Index.EntityType, r.Backend))

	pairs := []string{
		"health", string(r.Index.Health),
		"documents", strconv.FormatUint(r.Index.TotalDocuments, 10),
		"active", strconv.FormatInt(r.ActiveEntities, 10),
		"deleted", strconv.FormatUint(r.Index.DeletedDocuments, 10),
		"segments", strconv.Itoa(r.Index.SegmentCount),
		"size", formatBytes(r.Index.SizeBytes),
		"optimized", strconv.FormatBool(r.Index.Optimized),
		"last commit", formatTime(r.Index.LastCommit),
	}
	if r.Index.RelationalDocuments >= 0 && r.Backend != config.BackendFile {
		pairs = append(pairs, "relational", strconv.FormatInt(r.Index.RelationalDocuments, 10))
	}
	out.KeyValues(pairs...)

	switch r.Index.Health {
	case search.HealthDegraded:
		out.Warning("index and relational store disagree; run 'seekly reindex'")
	case search.HealthCorrupted:
		out.Error("index is corrupted; run 'seekly reindex'")
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
