package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/tracer/internal/capture"
	"github.com/roach88/tracer/internal/config"
	"github.com/roach88/tracer/internal/testutil"
	"github.com/roach88/tracer/internal/tracecontext"
	"github.com/roach88/tracer/internal/tracestore"
)

// DefaultGeometry is used when a scenario sets none.
var DefaultGeometry = tracestore.Geometry{SegmentSize: 4096, MaxSegments: 8}

const openTimeout = 5 * time.Second

// Harness holds the session a scenario is replayed into.
type Harness struct {
	tc       *tracecontext.Context
	capturer *capture.Capturer
	clock    *testutil.DeterministicClock
	sampler  *testutil.ScriptedSampler
	ids      map[string]*capture.Identity
	logger   *slog.Logger

	// configured is the set of categories the scenario samples.
	configured capture.Category
}

// Run replays scenario into a fresh in-memory session rooted at dir and
// evaluates its assertions. dir receives only the session description;
// the stores live in memory.
func Run(scenario *Scenario, dir string) (*Result, error) {
	h, err := newHarness(scenario, dir)
	if err != nil {
		return nil, err
	}
	defer h.tc.Close(openTimeout)

	result := NewResult()
	for i, sig := range scenario.Signals {
		if err := h.capture(sig); err != nil {
			if errors.Is(err, capture.ErrEventDropped) {
				result.Dropped++
				continue
			}
			return nil, fmt.Errorf("signals[%d]: %w", i, err)
		}
	}

	if err := h.collect(result); err != nil {
		return nil, err
	}
	for _, a := range scenario.Assertions {
		h.evaluate(a, result)
	}
	return result, nil
}

func newHarness(s *Scenario, dir string) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	geometry := DefaultGeometry
	if s.Geometry != nil {
		geometry = tracestore.Geometry{SegmentSize: s.Geometry.SegmentSize, MaxSegments: s.Geometry.MaxSegments}
	}

	clock := testutil.NewDeterministicClock()
	tc, err := tracecontext.Open(tracecontext.Params{
		Dir:      dir,
		Geometry: geometry,
		Ticks:    clock,
		Backing:  tracestore.NewMemoryFS().Open,
		Logger:   logger,
	}, openTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	sampler := testutil.NewScriptedSampler()
	for _, f := range s.Failures {
		sampler.FailOn(f.Category, f.Call)
	}

	var tracing config.TracingConfig
	for _, c := range s.Counters {
		switch c {
		case testutil.Memory:
			tracing.Memory = true
		case testutil.IO:
			tracing.IoCounters = true
		case testutil.Handles:
			tracing.HandleCount = true
		}
	}
	capturer, err := capture.New(tc, tracing, 0, capture.WithSampler(sampler), capture.WithLogger(logger))
	if err != nil {
		tc.Close(openTimeout)
		return nil, err
	}

	ids := make(map[string]*capture.Identity, len(s.Functions))
	for key, f := range s.Functions {
		ids[key] = capture.NewIdentity(f.Path, f.Module, f.Class, f.Name, f.FirstLine, f.Lines, f.CodeLines)
	}

	return &Harness{
		tc:         tc,
		capturer:   capturer,
		clock:      clock,
		sampler:    sampler,
		ids:        ids,
		logger:     logger,
		configured: capture.CategoriesFrom(tracing),
	}, nil
}

func (h *Harness) capture(spec SignalSpec) error {
	kind, err := tracestore.ParseEventKind(spec.Kind)
	if err != nil {
		return err
	}
	if spec.At != nil {
		h.clock.Set(*spec.At)
	}
	_, err = h.capturer.Capture(capture.Signal{
		Kind:       kind,
		Identity:   h.ids[spec.Function],
		LineNumber: spec.Line,
		Depth:      spec.Depth,
		ThreadID:   spec.Thread,
		CFunction:  spec.CFunction,
	})
	return err
}

// collect reads the stores back into result.
func (h *Harness) collect(result *Result) error {
	stores := h.tc.Stores()

	names, err := stores.Get(tracestore.StoreName)
	if err != nil {
		return err
	}
	fullNames := make(map[uint32]string)
	err = names.Scan(func(_ tracestore.Address, rec []byte) error {
		r := tracestore.UnmarshalNameRecord(rec)
		result.Names = append(result.Names, NameView{Kind: r.Kind, Text: r.Text})
		if r.Kind == tracestore.NameFullName {
			fullNames[r.Hash] = r.Text
		}
		return nil
	})
	if err != nil {
		return err
	}

	events, err := stores.Get(tracestore.StoreEvent)
	if err != nil {
		return err
	}
	err = events.Scan(func(_ tracestore.Address, rec []byte) error {
		r := tracestore.UnmarshalEventRecord(rec)
		result.Records = append(result.Records, RecordView{
			Timestamp:   r.Timestamp,
			Elapsed:     r.Elapsed,
			Kind:        r.Traits.Kind(),
			LineOrDepth: r.Traits.LineOrDepth(),
			ReverseJump: r.Traits.IsReverseJump(),
			CFunction:   r.Traits.IsCFunction(),
			Thread:      r.ThreadID,
			Function:    fullNames[r.FullNameHash],
			Deltas:      r.Deltas,
		})
		return nil
	})
	if err != nil {
		return err
	}

	result.Disabled = categoryNames(h.configured &^ h.capturer.Enabled())
	return nil
}

func categoryOf(name string) capture.Category {
	switch name {
	case testutil.Memory:
		return capture.CategoryMemory
	case testutil.IO:
		return capture.CategoryIO
	case testutil.Handles:
		return capture.CategoryHandles
	}
	return 0
}

func categoryNames(c capture.Category) []string {
	var out []string
	for _, name := range []string{testutil.Memory, testutil.IO, testutil.Handles} {
		if c&categoryOf(name) != 0 {
			out = append(out, name)
		}
	}
	return out
}
