package querybridge

import (
	"github.com/roach88/tracer/internal/tracestore"
)

// Host is the query engine a Db is loaded into.
type Host interface {
	// DbFilename returns the path of the host's main database file, or ""
	// for an in-memory database.
	DbFilename() (string, error)

	// CreateModule registers t as a table named t.Name.
	CreateModule(t *Table) error

	// OverloadFunction declares a function name and argument count.
	OverloadFunction(name string, nargs int) error

	// CreateFunction installs a declared function's callbacks.
	CreateFunction(fn Function) error
}

// Table exposes one readonly store as rows of its descriptor's columns.
type Table struct {
	Name    string
	Schema  string
	Columns []tracestore.Column

	store *tracestore.Store
}

func newTable(st *tracestore.Store) *Table {
	d := st.Descriptor()
	return &Table{Name: d.Name, Schema: d.Schema(), Columns: d.Columns, store: st}
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.store.Len() }

// Scan calls fn with every row in address order. row is reused between
// calls.
func (t *Table) Scan(fn func(rowid int64, row []any) error) error {
	row := make([]any, len(t.Columns))
	var rowid int64
	return t.store.Scan(func(_ tracestore.Address, rec []byte) error {
		for i, c := range t.Columns {
			row[i] = c.Value(rec)
		}
		rowid++
		return fn(rowid, row)
	})
}

// Open returns a cursor positioned before the first row.
func (t *Table) Open() *Cursor {
	return &Cursor{table: t}
}

// Cursor iterates a table. Rowids start at 1.
type Cursor struct {
	table *Table
	recs  [][]byte
	pos   int
}

// Rewind snapshots the table and moves to the first row.
func (c *Cursor) Rewind() error {
	c.recs = c.recs[:0]
	c.pos = 0
	return c.table.store.Scan(func(_ tracestore.Address, rec []byte) error {
		c.recs = append(c.recs, rec)
		return nil
	})
}

func (c *Cursor) Next()        { c.pos++ }
func (c *Cursor) EOF() bool    { return c.pos >= len(c.recs) }
func (c *Cursor) Rowid() int64 { return int64(c.pos + 1) }

// Value returns column col of the current row.
func (c *Cursor) Value(col int) any {
	return c.table.Columns[col].Value(c.recs[c.pos])
}

// FunctionKind distinguishes scalar from aggregate functions.
type FunctionKind int

const (
	Scalar FunctionKind = iota
	Aggregate
)

// Function describes one SQL function.
//
// For Scalar functions Impl is a Go func taking NArgs arguments. For
// Aggregate functions Impl is a constructor returning a pointer to a type
// with Step and Done methods.
type Function struct {
	Name  string
	NArgs int
	Kind  FunctionKind
	Pure  bool
	Impl  any
}
