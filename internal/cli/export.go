package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/spf13/cobra"

	"github.com/roach88/tracer/internal/export"
	"github.com/roach88/tracer/internal/tracestore"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Dir          string
	Store        string
	Out          string
	RowGroupSize int64
	Compression  string
}

// ExportResult reports a written Parquet file.
type ExportResult struct {
	Store string `json:"store"`
	Out   string `json:"out"`
	Rows  int64  `json:"rows"`
}

func (r ExportResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Exported %d %s records to %s\n", r.Rows, r.Store, r.Out)
	return err
}

var compressionCodecs = map[string]compress.Compression{
	"none":   compress.Codecs.Uncompressed,
	"snappy": compress.Codecs.Snappy,
	"gzip":   compress.Codecs.Gzip,
	"zstd":   compress.Codecs.Zstd,
	"lz4":    compress.Codecs.Lz4Raw,
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one store of a session as a Parquet file",
		Long: `Load a session readonly and write every record of one store to a
Parquet file, one column per table column.

Examples:
  tracer export --dir ./session --store Event --out events.parquet
  tracer export --dir ./session --store Name --out names.parquet --compression zstd`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	defaults := export.DefaultOptions()
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "session directory (required)")
	_ = cmd.MarkFlagRequired("dir")
	cmd.Flags().StringVar(&opts.Store, "store", tracestore.StoreEvent.String(), "store to export")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().Int64Var(&opts.RowGroupSize, "row-group-size", defaults.RowGroupSize, "rows per row group")
	cmd.Flags().StringVar(&opts.Compression, "compression", "lz4", "none|snappy|gzip|zstd|lz4")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	cfg := opts.cfg()

	codec, ok := compressionCodecs[strings.ToLower(opts.Compression)]
	if !ok {
		return out.fail(ExitCommandError, CodeExport, fmt.Sprintf("unknown compression %q", opts.Compression), nil)
	}

	tc, err := openReadonly(opts.RootOptions, opts.Dir)
	if err != nil {
		return out.fail(ExitCommandError, CodeSession, "failed to load session", err)
	}
	defer tc.Close(cfg.Bridge.LoadTimeout)

	st, err := findStore(tc.Stores(), opts.Store)
	if err != nil {
		return out.fail(ExitCommandError, CodeExport, "unknown store", err)
	}

	exportOpts := export.DefaultOptions()
	exportOpts.RowGroupSize = opts.RowGroupSize
	exportOpts.CompressionCodec = codec
	out.VerboseLog("exporting %d %s records", st.Len(), st.Name())

	rows, err := export.WriteFile(opts.Out, st, exportOpts)
	if err != nil {
		return out.fail(ExitFailure, CodeExport, "export failed", err)
	}
	return out.Success(ExportResult{Store: st.Name(), Out: opts.Out, Rows: rows})
}

// findStore looks a store up by table name, ignoring case.
func findStore(stores *tracestore.Stores, name string) (*tracestore.Store, error) {
	for _, st := range stores.All() {
		if strings.EqualFold(st.Name(), name) {
			return st, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", tracestore.ErrUnknownStore, name)
}
