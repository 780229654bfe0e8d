package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tracer/internal/tracestore"
)

// TableSchema is the DDL of one table.
type TableSchema struct {
	Table      string `json:"table"`
	RecordSize int    `json:"record_size"`
	DDL        string `json:"ddl"`
}

// SchemaResult lists every table the query bridge exposes.
type SchemaResult []TableSchema

func (r SchemaResult) WriteText(w io.Writer) error {
	for _, s := range r {
		if _, err := fmt.Fprintf(w, "-- %s (%d bytes per record)\n%s;\n", s.Table, s.RecordSize, s.DDL); err != nil {
			return err
		}
	}
	return nil
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the DDL of every store table",
		Long: `Print the CREATE TABLE statement of every store. The same statement is
written into each store file's header and checked when a session loads.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.formatter(cmd).Success(schemas())
		},
	}
	return cmd
}

func schemas() SchemaResult {
	descs := tracestore.Descriptors()
	out := make(SchemaResult, 0, len(descs))
	for _, d := range descs {
		out = append(out, TableSchema{Table: d.Name, RecordSize: d.RecordSize, DDL: d.Schema()})
	}
	return out
}
