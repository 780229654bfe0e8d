package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/tracer/internal/capture"
	"github.com/roach88/tracer/internal/tracecontext"
	"github.com/roach88/tracer/internal/tracestore"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Dir         string
	Input       string // JSON-lines signals; "" or "-" reads stdin
	MetricsAddr string
}

// SignalLine is one line of record input.
type SignalLine struct {
	Kind      string `json:"kind"`
	Path      string `json:"path,omitempty"`
	Module    string `json:"module,omitempty"`
	Class     string `json:"class,omitempty"`
	Name      string `json:"name,omitempty"`
	FirstLine uint16 `json:"first_line,omitempty"`
	Lines     uint16 `json:"lines,omitempty"`
	CodeLines uint16 `json:"code_lines,omitempty"`
	Line      uint32 `json:"line,omitempty"`
	Depth     uint32 `json:"depth,omitempty"`
	Thread    uint32 `json:"thread,omitempty"`
	CFunction bool   `json:"c_function,omitempty"`
}

// Signal converts the line into a capture signal. Lines without any name
// carry no identity.
func (l SignalLine) Signal() (capture.Signal, error) {
	kind, err := tracestore.ParseEventKind(l.Kind)
	if err != nil {
		return capture.Signal{}, err
	}
	sig := capture.Signal{
		Kind:       kind,
		LineNumber: l.Line,
		Depth:      l.Depth,
		ThreadID:   l.Thread,
		CFunction:  l.CFunction,
	}
	if l.Path != "" || l.Module != "" || l.Class != "" || l.Name != "" {
		sig.Identity = capture.NewIdentity(l.Path, l.Module, l.Class, l.Name, l.FirstLine, l.Lines, l.CodeLines)
	}
	return sig, nil
}

// RecordResult summarizes a recording.
type RecordResult struct {
	SessionID string `json:"session_id"`
	Dir       string `json:"dir"`
	Signals   int    `json:"signals"`
	Dropped   uint64 `json:"dropped"`
	Disabled  string `json:"disabled"`
}

func (r RecordResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Recorded %d signals into %s (session %s)\n  dropped: %d\n  disabled counters: %s\n",
		r.Signals, r.Dir, r.SessionID, r.Dropped, r.Disabled)
	return err
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture signals into a new session",
		Long: `Create a write-mode session and capture JSON-lines signals until the
input ends or the process receives SIGINT or SIGTERM.

Each input line is one signal:
  {"kind":"call","module":"pkg","name":"run","first_line":10,"depth":1,"thread":1}
  {"kind":"line","line":12,"thread":1}

Examples:
  tracer record --dir ./session < signals.jsonl
  tracer record --dir ./session --input signals.jsonl --metrics-addr :9090`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "session directory to create; a bare name goes under paths.base_directory (required)")
	_ = cmd.MarkFlagRequired("dir")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "JSON-lines signal file (default stdin)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runRecord(opts *RecordOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	cfg := opts.cfg()
	logger := opts.log()

	input, err := openInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		return out.fail(ExitCommandError, CodeCapture, "failed to open input", err)
	}
	defer input.Close()

	dir := opts.sessionDir(opts.Dir)
	params := tracecontext.ParamsFromConfig(dir, cfg, 0)
	params.Logger = logger
	tc, err := tracecontext.Open(params, cfg.Bridge.LoadTimeout)
	if err != nil {
		return out.fail(ExitCommandError, CodeSession, "failed to create session", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	capOpts := []capture.Option{capture.WithMetrics(capture.NewMetrics(reg)), capture.WithLogger(logger)}
	if sampler, err := capture.NewProcSampler(); err == nil {
		capOpts = append(capOpts, capture.WithSampler(sampler))
	} else {
		logger.Warn("resource counters unavailable", slog.Any("error", err))
	}
	capturer, err := capture.New(tc, cfg.Tracing, cfg.Stores.NameCacheSize, capOpts...)
	if err != nil {
		_ = tc.Close(cfg.Bridge.LoadTimeout)
		return out.fail(ExitCommandError, CodeCapture, "failed to start capture", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		g     run.Group
		count int
	)
	{
		g.Add(func() error {
			n, err := captureLines(ctx, capturer, input, logger)
			count = n
			return err
		}, func(error) {
			cancel()
			input.Close()
		})
	}
	if opts.MetricsAddr != "" {
		ln, err := net.Listen("tcp", opts.MetricsAddr)
		if err != nil {
			_ = tc.Close(cfg.Bridge.LoadTimeout)
			return out.fail(ExitCommandError, CodeCapture, "failed to listen for metrics", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Handler: mux}
		logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
		g.Add(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			srv.Close()
		})
	}
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	runErr := g.Run()
	var sigErr *run.SignalError
	if errors.As(runErr, &sigErr) {
		logger.Info("stopping on signal", slog.String("signal", sigErr.Signal.String()))
		runErr = nil
	}

	result := RecordResult{
		SessionID: tc.Session().ID.String(),
		Dir:       dir,
		Signals:   count,
		Dropped:   capturer.Dropped(),
		Disabled:  (capture.CategoriesFrom(cfg.Tracing) &^ capturer.Enabled()).String(),
	}
	if err := tc.Close(cfg.Bridge.LoadTimeout); err != nil {
		return out.fail(ExitFailure, CodeSession, "failed to close session", err)
	}
	if runErr != nil {
		return out.fail(ExitFailure, CodeCapture, "capture failed", runErr)
	}
	if err := out.Success(result); err != nil {
		return err
	}
	if result.Dropped > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d events dropped", result.Dropped))
	}
	return nil
}

// captureLines feeds every line of r to c until EOF or ctx ends. A dropped
// event is counted by the capturer and does not stop the recording.
func captureLines(ctx context.Context, c *capture.Capturer, r io.Reader, logger *slog.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	count := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if ctx.Err() != nil {
			return count, nil
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line SignalLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return count, fmt.Errorf("line %d: %w", lineNo, err)
		}
		sig, err := line.Signal()
		if err != nil {
			return count, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, err := c.Capture(sig); err != nil {
			if errors.Is(err, capture.ErrEventDropped) {
				logger.Debug("event dropped", slog.Int("line", lineNo))
				continue
			}
			return count, fmt.Errorf("line %d: %w", lineNo, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return count, err
	}
	return count, nil
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		if rc, ok := stdin.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}
