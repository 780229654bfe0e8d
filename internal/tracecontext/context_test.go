package tracecontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tracer/internal/tracestore"
)

func TestSizeOfContext_Idempotent(t *testing.T) {
	assert.Equal(t, SizeOfContext(4), SizeOfContext(4))
	assert.Greater(t, SizeOfContext(5).Bytes, SizeOfContext(4).Bytes)
}

func TestInitialize_BufferTooSmall(t *testing.T) {
	f := newFixture(t, t.TempDir(), tracestore.NewMemoryFS().Open, 0)
	defer f.general.Close()
	defer f.cancel.Close()

	_, err := Initialize(make([]byte, 8), f.session, f.stores, f.general, f.cancel)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestInitialize_WriteModeCreatesStores(t *testing.T) {
	fs := tracestore.NewMemoryFS()
	f := newFixture(t, t.TempDir(), fs.Open, 0)
	c := f.initialize(t)
	defer c.Close(time.Second)

	require.NoError(t, c.Wait(context.Background()))
	assert.True(t, c.Ready())
	assert.True(t, c.isLoaded())

	for _, st := range f.stores.All() {
		assert.True(t, fs.Exists(st.Path()), st.Name())
	}
	require.NoError(t, c.BeginAppend())
	c.EndAppend()
}

func TestInitialize_ReadonlyLoadFailureIsReported(t *testing.T) {
	f := newFixture(t, t.TempDir(), tracestore.NewMemoryFS().Open, tracestore.Readonly)
	c := f.initialize(t)
	defer c.Close(time.Second)

	err := c.Wait(context.Background())
	require.Error(t, err)
	assert.False(t, c.Ready())
	assert.ErrorIs(t, c.BeginAppend(), ErrNotReady)
	assert.NotZero(t, c.state()&stateFailed)
}

func TestContext_CancelWaitsForInflightAppends(t *testing.T) {
	f := newFixture(t, t.TempDir(), tracestore.NewMemoryFS().Open, 0)
	c := f.initialize(t)
	defer c.Close(time.Second)
	require.NoError(t, c.Wait(context.Background()))

	require.NoError(t, c.BeginAppend())

	cancelled := make(chan struct{})
	go func() {
		c.Cancel()
		close(cancelled)
	}()

	assert.Eventually(t, c.Cancelled, time.Second, time.Millisecond)
	select {
	case <-cancelled:
		t.Fatal("Cancel returned while an append was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	c.EndAppend()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not return after the append ended")
	}

	assert.ErrorIs(t, c.BeginAppend(), ErrCancelled)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
}

func TestContext_CloseReleasesEverything(t *testing.T) {
	f := newFixture(t, t.TempDir(), tracestore.NewMemoryFS().Open, 0)
	c := f.initialize(t)
	require.NoError(t, c.Wait(context.Background()))

	require.NoError(t, c.Close(time.Second))
	require.NoError(t, c.Close(time.Second))

	ev, err := f.stores.Get(tracestore.StoreEvent)
	require.NoError(t, err)
	_, _, err = ev.AllocateRecords(1, tracestore.EventRecordSize, 0)
	assert.ErrorIs(t, err, tracestore.ErrNotOpen)
	assert.ErrorIs(t, f.general.Submit(func() {}), ErrPoolClosed)
	assert.ErrorIs(t, f.cancel.Submit(func() {}), ErrPoolClosed)
}

func TestContext_CloseSkipsReleaseWhileLoading(t *testing.T) {
	gated := &gatedFS{MemoryFS: tracestore.NewMemoryFS(), gate: make(chan struct{})}
	f := newFixture(t, t.TempDir(), gated.Open, 0)
	f.general.Close()
	f.general = NewPool("general", 8, 8, WithPoolLogger(discard()))
	c := f.initialize(t)

	err := c.Close(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrLoadTimeout)
	assert.NoError(t, f.general.Submit(func() {}), "pools stay up while loading is in progress")

	close(gated.gate)
	require.NoError(t, c.Wait(context.Background()))
	require.NoError(t, f.stores.Close())
	f.general.Close()
	f.cancel.Close()
}

func TestContext_StoresBoundToGeneralPool(t *testing.T) {
	fs := tracestore.NewMemoryFS()
	f := newFixture(t, t.TempDir(), fs.Open, 0)
	c := f.initialize(t)
	defer c.Close(time.Second)
	require.NoError(t, c.Wait(context.Background()))

	assert.Equal(t, int64(0), c.Clock().Now())
	assert.Same(t, f.session, c.Session())
	assert.Same(t, f.stores, c.Stores())
}
