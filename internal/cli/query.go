package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/tracer/internal/querybridge/sqlitehost"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Dir string
}

// QueryResult holds the rows of one statement.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (r QueryResult) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(r.Columns, "\t"))
	for _, row := range r.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run SQL against a recorded session",
		Long: `Open the session's SQLite database, load the query bridge into the
connection and run one SQL statement.

The bridge exposes every store as a table (Event, Function, Name,
MetadataInfo) plus the functions ticks_to_us, ticks_to_ms, event_kind,
name_of, elapsed_us and delta_sum.

The default build copies each store into a TEMP table when the bridge
loads, so a query sees a snapshot taken at open time. Build with
-tags sqlite_vtable to read the stores live through virtual tables.

Examples:
  tracer query --dir ./session "SELECT COUNT(*) FROM Event"
  tracer query --dir ./session --format json \
    "SELECT name_of(FullNameHash), elapsed_us(Elapsed) FROM Event GROUP BY 1"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "session directory (required)")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

var driverSeq atomic.Int64

func runQuery(opts *QueryOptions, cmd *cobra.Command, query string) error {
	out := opts.formatter(cmd)

	// Each registration binds its own config, so every run gets a fresh
	// driver name.
	driver := fmt.Sprintf("tracer-bridge-%d", driverSeq.Add(1))
	sqlitehost.Register(driver, opts.cfg(), sqlitehost.WithLogger(opts.log()))

	path := filepath.Join(opts.sessionDir(opts.Dir), sqlitehost.DefaultDatabaseFile)
	out.VerboseLog("opening %s", path)
	db, err := sqlitehost.Open(driver, path)
	if err != nil {
		return out.fail(ExitCommandError, CodeSession, "failed to load query bridge", err)
	}
	defer db.Close()

	result, err := collectRows(cmd.Context(), db, query)
	if err != nil {
		return out.fail(ExitFailure, CodeQuery, "query failed", err)
	}
	return out.Success(result)
}

func collectRows(ctx context.Context, db *sql.DB, query string) (QueryResult, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return QueryResult{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return QueryResult{}, err
	}
	result := QueryResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return QueryResult{}, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	return result, rows.Err()
}
