package tracestore

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemFile_ReadWriteGaps(t *testing.T) {
	f := &memFile{}
	_, err := f.WriteAt([]byte("abc"), 10)
	require.NoError(t, err)

	size, _ := f.Size()
	assert.Equal(t, int64(13), size)

	buf := make([]byte, 13)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, append(make([]byte, 10), "abc"...), buf)

	_, err = f.ReadAt(make([]byte, 4), 11)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemFile_MapIsStableAndShared(t *testing.T) {
	f := &memFile{}
	require.NoError(t, f.Truncate(8192))

	a, err := f.Map(4096, 4096, true)
	require.NoError(t, err)
	a[0] = 'x'

	b, err := f.Map(4096, 4096, false)
	require.NoError(t, err)
	assert.Same(t, &a[0], &b[0])

	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, byte('x'), buf[0])

	_, err = f.Map(6000, 100, true)
	assert.Error(t, err, "overlapping map")
	_, err = f.Map(8192, 4096, true)
	assert.Error(t, err, "map past end")
}

func TestOpenFile_StoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewStore(EventDescriptor, dir, testGeometry, false, WithLogger(discard()))
	require.NoError(t, w.Create())
	for i := 0; i < 30; i++ {
		appendEvent(t, w, eventAt(int64(i), KindReturn, 2))
	}
	require.NoError(t, w.Close())
	assert.FileExists(t, filepath.Join(dir, "Event.dat"))

	r := NewStore(EventDescriptor, dir, Geometry{}, true, WithLogger(discard()))
	require.NoError(t, r.Load())
	defer r.Close()

	assert.Equal(t, 30, r.Len())
	last, ok := r.Prev()
	require.True(t, ok)
	assert.Equal(t, int64(29), UnmarshalEventRecord(last).Timestamp)
}
