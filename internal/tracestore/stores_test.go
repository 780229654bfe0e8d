package tracestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initStores(t *testing.T, fs *MemoryFS, flags Flags) *Stores {
	t.Helper()
	size := SizeOfStores(Descriptors())
	s, err := InitializeStores(make([]byte, size.Bytes), "/session", Descriptors(), testGeometry, flags,
		WithBacking(fs.Open), WithLogger(discard()))
	require.NoError(t, err)
	return s
}

func TestSizeOfStores_Idempotent(t *testing.T) {
	first := SizeOfStores(Descriptors())
	second := SizeOfStores(Descriptors())

	assert.Equal(t, first, second)
	assert.Equal(t, storesHeaderSize+4*InfoRecordSize, first.Bytes)
	assert.Less(t, SizeOfStores(Descriptors()[:1]).Bytes, first.Bytes)
}

func TestInitializeStores_BufferTooSmall(t *testing.T) {
	size := SizeOfStores(Descriptors())
	_, err := InitializeStores(make([]byte, size.Bytes-1), "/session", Descriptors(), testGeometry, 0)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestInitializeStores_LiveInfoLivesInBuffer(t *testing.T) {
	fs := NewMemoryFS()
	size := SizeOfStores(Descriptors())
	buf := make([]byte, size.Bytes)
	s, err := InitializeStores(buf, "/session", Descriptors(), testGeometry, 0, WithBacking(fs.Open), WithLogger(discard()))
	require.NoError(t, err)

	ev, err := s.Get(StoreEvent)
	require.NoError(t, err)
	require.NoError(t, ev.Create())
	defer s.Close()
	appendEvent(t, ev, eventAt(77, KindCall, 0))

	info := UnmarshalInfoRecord(buf[storesHeaderSize:])
	assert.Equal(t, StoreEvent, info.StoreID)
	assert.Equal(t, uint64(1), info.NumberOfRecords)
	assert.Equal(t, int64(77), info.LastTimestamp)
}

func TestStores_GetUnknown(t *testing.T) {
	s := initStores(t, NewMemoryFS(), 0)
	_, err := s.Get(StoreID(99))
	assert.ErrorIs(t, err, ErrUnknownStore)
}

func TestStores_CloseRecordsMetadata(t *testing.T) {
	fs := NewMemoryFS()
	w := initStores(t, fs, 0)
	for _, st := range w.All() {
		require.NoError(t, st.Create())
	}
	ev, _ := w.Get(StoreEvent)
	for i := 0; i < 3; i++ {
		appendEvent(t, ev, eventAt(int64(100+i), KindCall, 0))
	}
	require.NoError(t, w.Close())

	r := initStores(t, fs, Readonly)
	for _, st := range r.All() {
		require.NoError(t, st.Load())
	}
	defer r.Close()

	infos, err := r.LastInfo()
	require.NoError(t, err)
	require.Len(t, infos, 3, "one record per data store")

	assert.Equal(t, uint64(3), infos[StoreEvent].NumberOfRecords)
	assert.Equal(t, int64(100), infos[StoreEvent].FirstTimestamp)
	assert.Equal(t, int64(102), infos[StoreEvent].LastTimestamp)
	assert.Equal(t, uint64(0), infos[StoreName].NumberOfRecords)
	assert.Equal(t, MetadataInfoSchema, r.Metadata().DiskSchema())
}

func TestStores_ReadonlyCloseWritesNothing(t *testing.T) {
	fs := NewMemoryFS()
	w := initStores(t, fs, 0)
	for _, st := range w.All() {
		require.NoError(t, st.Create())
	}
	require.NoError(t, w.Close())

	for round := 0; round < 2; round++ {
		r := initStores(t, fs, Readonly)
		for _, st := range r.All() {
			require.NoError(t, st.Load())
		}
		assert.Equal(t, 3, r.Metadata().Len())
		require.NoError(t, r.Close())
	}
}

func TestStores_SortedIDs(t *testing.T) {
	s := initStores(t, NewMemoryFS(), 0)
	assert.Equal(t, []StoreID{StoreEvent, StoreFunction, StoreName, StoreMetadataInfo}, s.SortedIDs())
}
