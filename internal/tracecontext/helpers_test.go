package tracecontext

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tracer/internal/testutil"
	"github.com/roach88/tracer/internal/tracestore"
)

var testGeometry = tracestore.Geometry{SegmentSize: 4096, MaxSegments: 8}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	dir     string
	session *Session
	stores  *tracestore.Stores
	general *Pool
	cancel  *Pool
	clock   *testutil.DeterministicClock
}

func newFixture(t *testing.T, dir string, open tracestore.BackingFactory, flags tracestore.Flags) *fixture {
	t.Helper()
	sess, err := InitializeSession(make([]byte, SizeOfSession(dir).Bytes), dir, flags)
	require.NoError(t, err)

	descs := tracestore.Descriptors()
	stores, err := tracestore.InitializeStores(make([]byte, tracestore.SizeOfStores(descs).Bytes),
		dir, descs, testGeometry, flags,
		tracestore.WithBacking(open), tracestore.WithLogger(discard()))
	require.NoError(t, err)

	return &fixture{
		dir:     dir,
		session: sess,
		stores:  stores,
		general: NewGeneralPool(WithPoolLogger(discard())),
		cancel:  NewCancellationPool(WithPoolLogger(discard())),
		clock:   testutil.NewDeterministicClock(),
	}
}

func (f *fixture) initialize(t *testing.T) *Context {
	t.Helper()
	n := len(f.stores.All())
	c, err := Initialize(make([]byte, SizeOfContext(n).Bytes), f.session, f.stores, f.general, f.cancel,
		WithClock(NewClockWithSource(1_000_000, f.clock)), WithLogger(discard()))
	require.NoError(t, err)
	return c
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
