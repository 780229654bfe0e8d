package querybridge

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tracer/internal/capability"
	"github.com/roach88/tracer/internal/config"
	"github.com/roach88/tracer/internal/tracecontext"
	"github.com/roach88/tracer/internal/tracestore"
)

var testGeometry = tracestore.Geometry{SegmentSize: 4096, MaxSegments: 8}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Tracing.ClockFrequency = 1_000_000
	cfg.Bridge.LoadTimeout = 2 * time.Second
	return cfg
}

// fakeHost records registrations and fails the named ones.
type fakeHost struct {
	filename string

	tables    []*Table
	overloads []string
	functions []Function

	failModule   string
	failOverload string
	failCreate   string
}

var errHost = errors.New("host refused")

func newFakeHost(dir string) *fakeHost {
	return &fakeHost{filename: filepath.Join(dir, "trace.sqlite")}
}

func (h *fakeHost) DbFilename() (string, error) { return h.filename, nil }

func (h *fakeHost) CreateModule(t *Table) error {
	if t.Name == h.failModule {
		return errHost
	}
	h.tables = append(h.tables, t)
	return nil
}

func (h *fakeHost) OverloadFunction(name string, nargs int) error {
	if name == h.failOverload {
		return errHost
	}
	h.overloads = append(h.overloads, name)
	return nil
}

func (h *fakeHost) CreateFunction(fn Function) error {
	if fn.Name == h.failCreate {
		return errHost
	}
	h.functions = append(h.functions, fn)
	return nil
}

func (h *fakeHost) function(name string) (Function, bool) {
	for _, fn := range h.functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return Function{}, false
}

// trackingLoader resolves the default capabilities and remembers the
// allocator it hands out.
type trackingLoader struct {
	*capability.Registry
	alloc *capability.Allocator
}

func newTrackingLoader() *trackingLoader {
	l := &trackingLoader{Registry: capability.DefaultRegistry()}
	l.Register(capability.ModuleHeap, capability.SymbolNewAllocator, func(limit int64) *capability.Allocator {
		l.alloc = capability.NewAllocator(limit)
		return l.alloc
	})
	return l
}

// writeSession records a small session into fs under dir.
func writeSession(t *testing.T, fs *tracestore.MemoryFS, dir string) {
	t.Helper()
	tc, err := tracecontext.Open(tracecontext.Params{
		Dir:      dir,
		Geometry: testGeometry,
		Backing:  fs.Open,
		Logger:   discard(),
	}, time.Second)
	require.NoError(t, err)

	ev, err := tc.Stores().Get(tracestore.StoreEvent)
	require.NoError(t, err)
	events := []tracestore.EventRecord{
		{Timestamp: 100, Elapsed: 150, Traits: tracestore.NewEventTraits(tracestore.KindCall, 1), FullNameHash: 7},
		{Timestamp: 250, Elapsed: 150, Traits: tracestore.NewEventTraits(tracestore.KindLine, 5), FullNameHash: 7},
		{Timestamp: 400, Traits: tracestore.NewEventTraits(tracestore.KindReturn, 1), FullNameHash: 7},
	}
	for _, e := range events {
		var b [tracestore.EventRecordSize]byte
		e.MarshalTo(b[:])
		_, err := ev.Append(b[:], e.Timestamp)
		require.NoError(t, err)
	}

	names, err := tc.Stores().Get(tracestore.StoreName)
	require.NoError(t, err)
	nr := tracestore.NameRecord{Hash: 7, Kind: tracestore.NameFullName, Text: "pkg.worker.run"}
	var b [tracestore.NameRecordSize]byte
	nr.MarshalTo(b[:])
	_, err = names.Append(b[:], 0)
	require.NoError(t, err)

	require.NoError(t, tc.Close(time.Second))
}

// writeMismatchedSession records a session whose MetadataInfo store carries
// a foreign schema.
func writeMismatchedSession(t *testing.T, fs *tracestore.MemoryFS, dir string) {
	t.Helper()
	descs := tracestore.Descriptors()
	meta := &descs[len(descs)-1]
	meta.Columns = meta.Columns[:2]

	stores, err := tracestore.InitializeStores(make([]byte, tracestore.SizeOfStores(descs).Bytes),
		dir, descs, testGeometry, 0, tracestore.WithBacking(fs.Open), tracestore.WithLogger(discard()))
	require.NoError(t, err)
	for _, st := range stores.All() {
		require.NoError(t, st.Create())
	}
	require.NoError(t, stores.Close())
}

// gatedFS blocks every Open until gate is closed.
type gatedFS struct {
	*tracestore.MemoryFS
	gate chan struct{}
}

func (g *gatedFS) Open(path string, readonly bool) (tracestore.Backing, error) {
	<-g.gate
	return g.MemoryFS.Open(path, readonly)
}
