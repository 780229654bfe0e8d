package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tracer/internal/tracecontext"
	"github.com/roach88/tracer/internal/tracestore"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Dir string
}

// StoreInfo is what MetadataInfo recorded for one store when its session
// closed, next to what was found on load.
type StoreInfo struct {
	Store          string `json:"store"`
	RecordSize     uint32 `json:"record_size"`
	Records        uint64 `json:"records"`
	Allocations    uint64 `json:"allocations"`
	Segments       uint32 `json:"segments"`
	SegmentSize    uint32 `json:"segment_size"`
	FirstTimestamp int64  `json:"first_timestamp"`
	LastTimestamp  int64  `json:"last_timestamp"`
	Loaded         int    `json:"loaded"`
}

// InfoResult describes a session.
type InfoResult struct {
	SessionID string      `json:"session_id"`
	Start     time.Time   `json:"start"`
	PID       int         `json:"pid"`
	Hostname  string      `json:"hostname"`
	Stores    []StoreInfo `json:"stores"`
}

func (r InfoResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Session %s\n  started: %s\n  pid: %d\n  host: %s\n\n",
		r.SessionID, r.Start.Format(time.RFC3339), r.PID, r.Hostname)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STORE\tRECORDS\tLOADED\tSEGMENTS\tRECORD SIZE\tFIRST\tLAST")
	for _, s := range r.Stores {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Store, s.Records, s.Loaded, s.Segments, s.RecordSize, s.FirstTimestamp, s.LastTimestamp)
	}
	return tw.Flush()
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show per-store metadata of a session",
		Long: `Load a session readonly and print the MetadataInfo recorded for each
store when the session closed.

Examples:
  tracer info --dir ./session
  tracer info --dir ./session --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "session directory (required)")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func runInfo(opts *InfoOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	cfg := opts.cfg()

	tc, err := openReadonly(opts.RootOptions, opts.Dir)
	if err != nil {
		return out.fail(ExitCommandError, CodeSession, "failed to load session", err)
	}
	defer tc.Close(cfg.Bridge.LoadTimeout)

	stores := tc.Stores()
	last, err := stores.LastInfo()
	if err != nil {
		return out.fail(ExitFailure, CodeSession, "failed to read metadata", err)
	}

	sess := tc.Session()
	result := InfoResult{
		SessionID: sess.ID.String(),
		Start:     sess.Start,
		PID:       sess.PID,
		Hostname:  sess.Hostname,
	}
	for _, id := range stores.SortedIDs() {
		if id == tracestore.StoreMetadataInfo {
			continue
		}
		st, _ := stores.Get(id)
		rec := last[id]
		result.Stores = append(result.Stores, StoreInfo{
			Store:          st.Name(),
			RecordSize:     rec.RecordSize,
			Records:        rec.NumberOfRecords,
			Allocations:    rec.NumberOfAllocations,
			Segments:       rec.SegmentCount,
			SegmentSize:    rec.SegmentSize,
			FirstTimestamp: rec.FirstTimestamp,
			LastTimestamp:  rec.LastTimestamp,
			Loaded:         st.Len(),
		})
	}
	return out.Success(result)
}

// openReadonly loads every store of dir for scanning.
func openReadonly(opts *RootOptions, dir string) (*tracecontext.Context, error) {
	cfg := opts.cfg()
	params := tracecontext.ParamsFromConfig(opts.sessionDir(dir), cfg, tracestore.Readonly)
	params.Logger = opts.log()
	return tracecontext.Open(params, cfg.Bridge.LoadTimeout)
}
