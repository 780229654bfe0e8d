package capability

import (
	"fmt"
	"strings"
)

// StringTable is an ordered, immutable set of short strings.
type StringTable struct {
	values []string
	index  map[string]int
}

// Parse splits s on sep into a table. Empty entries and duplicates are
// rejected.
func Parse(s string, sep byte) (*StringTable, error) {
	t := &StringTable{index: make(map[string]int)}
	if s == "" {
		return t, nil
	}
	for i, v := range strings.Split(s, string(sep)) {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, fmt.Errorf("string table: empty entry at %d", i)
		}
		if _, dup := t.index[v]; dup {
			return nil, fmt.Errorf("string table: duplicate entry %q", v)
		}
		t.index[v] = len(t.values)
		t.values = append(t.values, v)
	}
	return t, nil
}

// Len returns the number of entries.
func (t *StringTable) Len() int { return len(t.values) }

// At returns entry i.
func (t *StringTable) At(i int) string { return t.values[i] }

// Index returns the position of v.
func (t *StringTable) Index(v string) (int, bool) {
	i, ok := t.index[v]
	return i, ok
}

// Values returns a copy of the entries in order.
func (t *StringTable) Values() []string {
	return append([]string(nil), t.values...)
}
