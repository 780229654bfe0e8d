package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Default(t *testing.T) {
	caps, err := Resolve(DefaultRegistry())
	require.NoError(t, err)
	require.NotNil(t, caps.NewAllocator)
	require.NotNil(t, caps.Parse)
}

func TestResolve_MissingSymbol(t *testing.T) {
	r := DefaultRegistry()
	r.Remove(ModuleStringTable, SymbolParse)

	_, err := Resolve(r)
	require.Error(t, err)
	assert.EqualError(t, err, "failed to resolve StringTable!Parse")

	var rerr *ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ModuleStringTable, rerr.Module)
}

func TestResolve_StopsAtFirstMissing(t *testing.T) {
	_, err := Resolve(NewRegistry())
	assert.EqualError(t, err, "failed to resolve Heap!NewAllocator")
}

func TestResolve_WrongType(t *testing.T) {
	r := DefaultRegistry()
	r.Register(ModuleHeap, SymbolNewAllocator, func() {})

	_, err := Resolve(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve Heap!NewAllocator: unexpected type")
}

func TestAllocator_Limit(t *testing.T) {
	a := NewAllocator(100)

	b, err := a.Alloc(60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), a.InUse())

	_, err = a.Alloc(41)
	assert.ErrorIs(t, err, ErrNoMem)

	a.Free(b)
	assert.Zero(t, a.InUse())
	assert.Equal(t, int64(60), a.Peak())

	_, err = a.Alloc(100)
	assert.NoError(t, err)
}

func TestAllocator_Unlimited(t *testing.T) {
	a := NewAllocator(0)
	_, err := a.Alloc(1 << 20)
	assert.NoError(t, err)

	_, err = a.Alloc(0)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	st, err := Parse("ticks_to_us;ticks_to_ms; event_kind", ';')
	require.NoError(t, err)

	assert.Equal(t, 3, st.Len())
	assert.Equal(t, "event_kind", st.At(2))
	i, ok := st.Index("ticks_to_ms")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, []string{"ticks_to_us", "ticks_to_ms", "event_kind"}, st.Values())
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse("a;;b", ';')
	assert.Error(t, err)
	_, err = Parse("a;b;a", ';')
	assert.Error(t, err)

	st, err := Parse("", ';')
	require.NoError(t, err)
	assert.Zero(t, st.Len())
}
