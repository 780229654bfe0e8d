package tracecontext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tracer/internal/config"
	"github.com/roach88/tracer/internal/tracestore"
)

func TestOpen_WriteThenReadonly(t *testing.T) {
	fs := tracestore.NewMemoryFS()
	dir := t.TempDir()

	w, err := Open(Params{Dir: dir, Geometry: testGeometry, Backing: fs.Open, Logger: discard()}, time.Second)
	require.NoError(t, err)
	require.True(t, w.Ready())

	ev, err := w.Stores().Get(tracestore.StoreEvent)
	require.NoError(t, err)
	var rec [tracestore.EventRecordSize]byte
	_, err = ev.Append(rec[:], 5)
	require.NoError(t, err)
	id := w.Session().ID
	require.NoError(t, w.Close(time.Second))

	r, err := Open(Params{Dir: dir, Flags: tracestore.Readonly, Backing: fs.Open, Logger: discard()}, time.Second)
	require.NoError(t, err)
	defer r.Close(time.Second)

	assert.Equal(t, id, r.Session().ID)
	infos, err := r.Stores().LastInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), infos[tracestore.StoreEvent].NumberOfRecords)
}

func TestOpen_ReadonlyMissingStoresFails(t *testing.T) {
	_, err := Open(Params{
		Dir:     t.TempDir(),
		Flags:   tracestore.Readonly,
		Backing: tracestore.NewMemoryFS().Open,
		Logger:  discard(),
	}, time.Second)
	assert.Error(t, err)
}

func TestParamsFromConfig(t *testing.T) {
	cfg := config.Default()
	p := ParamsFromConfig("/d", cfg, tracestore.Readonly)

	assert.Equal(t, "/d", p.Dir)
	assert.Equal(t, cfg.Stores.SegmentSize, p.Geometry.SegmentSize)
	assert.Equal(t, cfg.Stores.PremapThreshold, p.Geometry.PremapThreshold)
	assert.Equal(t, cfg.Tracing.ClockFrequency, p.ClockFrequency)
	assert.Equal(t, tracestore.Readonly, p.Flags)
}
