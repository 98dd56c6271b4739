package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/output"
	"github.com/h12/seekly/pkg/entity"
)

const (
	defaultBatchSize = 500
	maxLineBytes     = 16 << 20
)

type indexOptions struct {
	batchSize int
	optimize  bool
	jsonOut   bool
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Index documents from a JSON lines file",
		Long: `Index documents read one JSON object per line from file, or from stdin
when file is omitted or "-".

Each line is a document:
  {"id":"p1","content":"iPhone 15 Pro","fields":{"brand":"Apple"}}

Documents without "entity_type" take the configured entity type. Documents
are written in batches; a document with an existing id replaces it.

Examples:
  seekly index products.jsonl
  cat products.jsonl | seekly index --batch-size 1000 --optimize`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runIndex(cmd, root, path, opts)
		},
	}

	cmd.Flags().IntVar(&opts.batchSize, "batch-size", defaultBatchSize, "Documents per index commit")
	cmd.Flags().BoolVar(&opts.optimize, "optimize", false, "Optimize the index after loading")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output the summary as JSON")

	return cmd
}

// countingReader tracks how many bytes were consumed from r.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func runIndex(cmd *cobra.Command, root *rootOptions, path string, opts indexOptions) error {
	if opts.batchSize <= 0 {
		return serrors.ValidationError("--batch-size must be positive", nil)
	}

	in, size, closeIn, err := openInput(cmd, path)
	if err != nil {
		return err
	}
	defer closeIn()

	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())
	showProgress := size > 0 && !opts.jsonOut

	return root.withApp(ctx, func(a *app) error {
		counter := &countingReader{r: in}
		total := 0
		flush := func(batch []entity.Document) error {
			if len(batch) == 0 {
				return nil
			}
			if err := a.engine.IndexBatch(ctx, batch); err != nil {
				return err
			}
			total += len(batch)
			if showProgress {
				out.Progress(int(min(counter.n, size-1)), int(size), strconv.Itoa(total)+" documents")
			}
			return nil
		}

		err := readDocuments(counter, a.cfg.Index.EntityType, opts.batchSize, flush)
		if showProgress && total > 0 {
			out.Progress(int(size), int(size), strconv.Itoa(total)+" documents")
		}
		if err != nil {
			return err
		}

		if opts.optimize && total > 0 {
			if err := a.engine.OptimizeIndex(ctx); err != nil {
				return err
			}
		}

		root.log().Info("index_completed", slog.Int("documents", total), slog.String("source", path))
		if opts.jsonOut {
			return writeJSON(cmd, map[string]any{"indexed": total, "optimized": opts.optimize && total > 0})
		}
		out.Successf("Indexed %d %s documents", total, a.cfg.Index.EntityType)
		return nil
	})
}

// openInput opens path, or stdin for "-". size is 0 when unknown.
func openInput(cmd *cobra.Command, path string) (io.Reader, int64, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), 0, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, serrors.ValidationError("cannot open input file", err).
			WithDetail("path", path)
	}
	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return f, size, func() { _ = f.Close() }, nil
}

// readDocuments decodes JSON lines from r and hands them to flush in
// batches of batchSize. Blank lines are skipped.
func readDocuments(r io.Reader, entityType string, batchSize int, flush func([]entity.Document) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	batch := make([]entity.Document, 0, batchSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var doc entity.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return serrors.ValidationError(fmt.Sprintf("line %d is not a JSON document", line), err).
				WithDetail("line", strconv.Itoa(line))
		}
		if doc.Type == "" {
			doc.Type = entityType
		}

		batch = append(batch, doc)
		if len(batch) == batchSize {
			if err := flush(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return serrors.ValidationError("failed to read input", err)
	}
	return flush(batch)
}

// writeJSON prints v as indented JSON on the command's output.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
