package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tracer/internal/tracestore"
)

func newEventStore(t *testing.T, n int) *tracestore.Store {
	t.Helper()
	fs := tracestore.NewMemoryFS()
	dir := t.TempDir()
	geometry := tracestore.Geometry{SegmentSize: 4096, MaxSegments: 64}

	w := tracestore.NewStore(tracestore.EventDescriptor, dir, geometry, false, tracestore.WithBacking(fs.Open))
	require.NoError(t, w.Create())
	for i := range n {
		r := tracestore.EventRecord{
			Timestamp: int64(100 * (i + 1)),
			Traits:    tracestore.NewEventTraits(tracestore.KindCall, uint32(i)),
		}
		var b [tracestore.EventRecordSize]byte
		r.MarshalTo(b[:])
		_, err := w.Append(b[:], r.Timestamp)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r := tracestore.NewStore(tracestore.EventDescriptor, dir, geometry, true, tracestore.WithBacking(fs.Open))
	require.NoError(t, r.Load())
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSchema_MatchesColumns(t *testing.T) {
	s := Schema(tracestore.EventDescriptor)
	require.Equal(t, len(tracestore.EventDescriptor.Columns), s.NumFields())
	assert.Equal(t, "Timestamp", s.Field(0).Name)

	idx := s.FieldIndices("Kind")
	require.Len(t, idx, 1)
	assert.Equal(t, "utf8", s.Field(idx[0]).Type.Name())

	v, ok := s.Metadata().GetValue("store")
	require.True(t, ok)
	assert.Equal(t, "Event", v)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	st := newEventStore(t, 25)
	path := filepath.Join(t.TempDir(), "out", "events.parquet")

	opts := DefaultOptions()
	opts.RowGroupSize = 10
	n, err := WriteFile(path, st, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	reader, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, int64(25), reader.NumRows())
	assert.Equal(t, 3, reader.NumRowGroups())

	ar, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, nil)
	require.NoError(t, err)
	table, err := ar.ReadTable(context.Background())
	require.NoError(t, err)
	defer table.Release()

	ts := table.Column(0).Data().Chunk(0).(*array.Int64)
	assert.Equal(t, int64(100), ts.Value(0))
	assert.Equal(t, int64(1000), ts.Value(9))
}

func TestWriteFile_EmptyStore(t *testing.T) {
	st := newEventStore(t, 0)
	path := filepath.Join(t.TempDir(), "empty.parquet")

	n, err := WriteFile(path, st, DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, n)

	reader, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer reader.Close()
	assert.Zero(t, reader.NumRows())
}
