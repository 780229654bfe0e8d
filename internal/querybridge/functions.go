package querybridge

import (
	"fmt"
	"sync"

	"github.com/roach88/tracer/internal/capability"
	"github.com/roach88/tracer/internal/tracecontext"
	"github.com/roach88/tracer/internal/tracestore"
)

// declaredFunctions lists every registered function in registration order.
const declaredFunctions = "ticks_to_us;ticks_to_ms;event_kind;name_of;elapsed_us;delta_sum"

const functionSeparator = ';'

// functionSet builds the definitions named in declaredFunctions.
type functionSet struct {
	clock *tracecontext.Clock
	names func() map[uint32]string
}

func newFunctionSet(clock *tracecontext.Clock, stores *tracestore.Stores) *functionSet {
	return &functionSet{
		clock: clock,
		names: sync.OnceValue(func() map[uint32]string { return nameIndex(stores) }),
	}
}

func (fs *functionSet) definitions() map[string]Function {
	return map[string]Function{
		"ticks_to_us": {NArgs: 1, Kind: Scalar, Pure: true, Impl: fs.ticksToMicroseconds},
		"ticks_to_ms": {NArgs: 1, Kind: Scalar, Pure: true, Impl: fs.ticksToMilliseconds},
		"event_kind":  {NArgs: 1, Kind: Scalar, Pure: true, Impl: eventKind},
		"name_of":     {NArgs: 1, Kind: Scalar, Pure: true, Impl: fs.nameOf},
		"elapsed_us":  {NArgs: 1, Kind: Aggregate, Pure: true, Impl: fs.newElapsedSum},
		"delta_sum":   {NArgs: 1, Kind: Aggregate, Pure: true, Impl: newDeltaSum},
	}
}

// declare parses the declaration list and pairs each name with its
// definition.
func (fs *functionSet) declare(caps *capability.Capabilities) ([]Function, error) {
	table, err := caps.Parse(declaredFunctions, functionSeparator)
	if err != nil {
		return nil, err
	}
	defs := fs.definitions()
	out := make([]Function, 0, table.Len())
	for _, name := range table.Values() {
		fn, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("function %q declared but not defined", name)
		}
		fn.Name = name
		out = append(out, fn)
	}
	return out, nil
}

func (fs *functionSet) ticksToMicroseconds(ticks int64) float64 {
	return fs.clock.Microseconds(ticks)
}

func (fs *functionSet) ticksToMilliseconds(ticks int64) float64 {
	return fs.clock.Milliseconds(ticks)
}

func eventKind(traits int64) string {
	return tracestore.EventTraits(uint32(traits)).Kind().String()
}

func (fs *functionSet) nameOf(hash int64) string {
	return fs.names()[uint32(hash)]
}

// nameIndex maps every hash in the Name store to its text. The first
// record for a hash wins.
func nameIndex(stores *tracestore.Stores) map[uint32]string {
	names := make(map[uint32]string)
	st, err := stores.Get(tracestore.StoreName)
	if err != nil {
		return names
	}
	_ = st.Scan(func(_ tracestore.Address, rec []byte) error {
		r := tracestore.UnmarshalNameRecord(rec)
		if _, ok := names[r.Hash]; !ok {
			names[r.Hash] = r.Text
		}
		return nil
	})
	return names
}

type elapsedSum struct {
	clock *tracecontext.Clock
	ticks int64
}

func (fs *functionSet) newElapsedSum() *elapsedSum {
	return &elapsedSum{clock: fs.clock}
}

func (a *elapsedSum) Step(elapsed int64) { a.ticks += elapsed }
func (a *elapsedSum) Done() float64      { return a.clock.Microseconds(a.ticks) }

type deltaSum struct {
	sum int64
}

func newDeltaSum() *deltaSum { return &deltaSum{} }

func (a *deltaSum) Step(delta int64) { a.sum += delta }
func (a *deltaSum) Done() int64      { return a.sum }
