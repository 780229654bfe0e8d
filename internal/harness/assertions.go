package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/tracer/internal/tracestore"
)

// evaluate checks a against the live stores and records failures in
// result.
func (h *Harness) evaluate(a Assertion, result *Result) {
	switch a.Type {
	case AssertRecordCount:
		st, err := h.store(a.Store)
		if err != nil {
			result.AddError("record_count: %v", err)
			return
		}
		if got := st.Len(); got != a.Count {
			result.AddError("record_count: store %s has %d records, expected %d", st.Name(), got, a.Count)
		}

	case AssertField:
		h.evaluateField(a, result)

	case AssertDropped:
		if result.Dropped != a.Count {
			result.AddError("dropped: %d signals dropped, expected %d", result.Dropped, a.Count)
		}

	case AssertDisabled:
		want := slices.Clone(a.Categories)
		slices.Sort(want)
		got := slices.Clone(result.Disabled)
		slices.Sort(got)
		if !slices.Equal(got, want) {
			result.AddError("disabled: categories %v disabled, expected %v", got, want)
		}

	default:
		result.AddError("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) evaluateField(a Assertion, result *Result) {
	st, err := h.store(a.Store)
	if err != nil {
		result.AddError("field: %v", err)
		return
	}

	col, ok := column(st.Descriptor(), a.Field)
	if !ok {
		result.AddError("field: store %s has no column %s", st.Name(), a.Field)
		return
	}

	rec, err := recordAt(st, a.Record)
	if err != nil {
		result.AddError("field: %v", err)
		return
	}

	got := col.Value(rec)
	want, err := normalize(a.Expect)
	if err != nil {
		result.AddError("field: %s: %v", a.Field, err)
		return
	}
	if got != want {
		result.AddError("field: %s[%d].%s = %v, expected %v", st.Name(), a.Record, a.Field, got, want)
	}
}

func (h *Harness) store(name string) (*tracestore.Store, error) {
	if name == "" {
		name = tracestore.StoreEvent.String()
	}
	for _, st := range h.tc.Stores().All() {
		if st.Name() == name {
			return st, nil
		}
	}
	return nil, fmt.Errorf("no store named %q", name)
}

func column(d tracestore.Descriptor, name string) (tracestore.Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return tracestore.Column{}, false
}

func recordAt(st *tracestore.Store, index int) ([]byte, error) {
	var (
		out []byte
		i   int
	)
	err := st.Scan(func(_ tracestore.Address, rec []byte) error {
		if i == index {
			out = rec
		}
		i++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("store %s has no record %d (len %d)", st.Name(), index, i)
	}
	return out, nil
}

// normalize converts a YAML scalar to the type column values use.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return x, nil
	default:
		return nil, fmt.Errorf("unsupported expected value %v (%T)", v, v)
	}
}
