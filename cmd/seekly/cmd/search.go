package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/output"
	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/internal/search"
	"github.com/h12/seekly/pkg/entity"
)

// searchFlags holds CLI flags for search.
type searchFlags struct {
	limit         int
	offset        int
	fields        []string
	minScore      float64
	fuzzy         bool
	fuzzyDistance int
	wildcard      bool
	noPhrase      bool
	suggest       bool
	filters       []string
	jsonOut       bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var flags searchFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long: `Search indexed documents of the configured entity type.

The query matches the content field and any --field given. Filters are
key=value pairs ANDed with the query: true/false match booleans, numbers
match numeric fields, lo..hi / lo.. / ..hi match numeric ranges, and
anything else matches text.

Examples:
  seekly search "iphone pro"
  seekly search apple --field brand --limit 5
  seekly search shoes --filter brand=Nike --filter relevanceScore=4..
  seekly search "runnin" --fuzzy --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, root, strings.Join(args, " "), cmd.Flags().Changed("limit"), flags)
		},
	}

	cmd.Flags().IntVarP(&flags.limit, "limit", "n", query.DefaultMaxResults, "Maximum number of results")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "Skip this many ranked results")
	cmd.Flags().StringSliceVarP(&flags.fields, "field", "f", nil, "Additional field to search (repeatable)")
	cmd.Flags().Float64Var(&flags.minScore, "min-score", 0, "Drop results scoring below this")
	cmd.Flags().BoolVar(&flags.fuzzy, "fuzzy", false, "Match terms within an edit distance")
	cmd.Flags().IntVar(&flags.fuzzyDistance, "fuzzy-distance", query.DefaultFuzzyDistance, "Edit distance for --fuzzy (0-2)")
	cmd.Flags().BoolVar(&flags.wildcard, "wildcard", false, "Interpret * and ? in the query")
	cmd.Flags().BoolVar(&flags.noPhrase, "no-phrase", false, "Disable the phrase-match boost")
	cmd.Flags().BoolVar(&flags.suggest, "suggest", false, "Include suggestions for the query")
	cmd.Flags().StringArrayVar(&flags.filters, "filter", nil, "Filter as key=value (repeatable)")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Output the full response as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, root *rootOptions, text string, limitSet bool, flags searchFlags) error {
	filters, err := parseFilters(flags.filters)
	if err != nil {
		return err
	}

	return root.withApp(cmd.Context(), func(a *app) error {
		opts := a.cfg.SearchOptions()
		if limitSet {
			opts.MaxResults = flags.limit
		}
		opts.Offset = flags.offset
		opts.SearchFields = flags.fields
		opts.MinScore = flags.minScore
		opts.Fuzzy = flags.fuzzy
		opts.FuzzyDistance = flags.fuzzyDistance
		opts.Wildcard = flags.wildcard
		if flags.noPhrase {
			opts.PhraseMatching = false
		}
		opts.IncludeSuggestions = flags.suggest

		resp := a.engine.Search(cmd.Context(), text, filters, opts)
		if flags.jsonOut {
			if err := writeJSON(cmd, resp); err != nil {
				return err
			}
		} else {
			printResults(output.New(cmd.OutOrStdout()), resp)
		}
		if !resp.Success {
			return serrors.New(serrors.ErrCodeSearchFailed, resp.ErrorMessage, nil)
		}
		return nil
	})
}

// parseFilters turns key=value flags into query filters.
func parseFilters(raw []string) (query.Filters, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(query.Filters, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, serrors.ValidationError(fmt.Sprintf("filter %q is not key=value", kv), nil)
		}
		v, err := parseFilterValue(value)
		if err != nil {
			return nil, serrors.ValidationError(fmt.Sprintf("filter %q has an invalid range", kv), err)
		}
		filters[key] = v
	}
	return filters, nil
}

func parseFilterValue(value string) (any, error) {
	switch strings.ToLower(value) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	if lo, hi, isRange := strings.Cut(value, ".."); isRange {
		var r query.Range
		if lo != "" {
			f, err := strconv.ParseFloat(lo, 64)
			if err != nil {
				return nil, err
			}
			r.Min = &f
		}
		if hi != "" {
			f, err := strconv.ParseFloat(hi, 64)
			if err != nil {
				return nil, err
			}
			r.Max = &f
		}
		return r, nil
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f, nil
	}
	return value, nil
}

func printResults(out *output.Writer, resp search.SearchResponse[entity.Document]) {
	if !resp.Success {
		out.Errorf("Search failed: %s", resp.ErrorMessage)
		return
	}

	out.Statusf(">", "%d of %d %s results for %q in %s",
		len(resp.Results), resp.TotalHits, resp.EntityType, resp.Query, resp.SearchTime.Round(time.Microsecond))
	if resp.Partial {
		out.Warningf("%d hits were missing from the relational store", resp.Dropped)
	}
	out.Newline()

	for _, r := range resp.Results {
		_, _ = fmt.Fprintf(out.Out(), "%3d. %s %s\n", r.Rank, out.Bold(r.Entity.Content), out.Dim(fmt.Sprintf("[%s] %.3f", r.Entity.ID, r.Score)))
		for _, f := range r.Entity.Fields {
			_, _ = fmt.Fprintf(out.Out(), "     %s %s\n", out.Dim(f.Name+":"), f.Value)
		}
	}

	if len(resp.Suggestions) > 0 {
		out.Newline()
		out.Statusf("?", "Did you mean: %s", strings.Join(resp.Suggestions, ", "))
	}
}
