//go:build sqlite_vtable

package sqlitehost

import (
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tracer/internal/querybridge"
)

// CreateModule registers a module for t and creates a virtual table named
// t.Name over it.
func (h *Host) CreateModule(t *querybridge.Table) error {
	module := "tracer_" + t.Name
	if err := h.conn.CreateModule(module, &storeModule{table: t}); err != nil {
		return fmt.Errorf("create module %s: %w", module, err)
	}
	if _, err := h.conn.Exec(fmt.Sprintf("CREATE VIRTUAL TABLE temp.%s USING %s", t.Name, module), nil); err != nil {
		return fmt.Errorf("create virtual table %s: %w", t.Name, err)
	}
	return nil
}

type storeModule struct {
	table *querybridge.Table
}

func (m *storeModule) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	return m.Connect(c, args)
}

func (m *storeModule) Connect(c *sqlite3.SQLiteConn, _ []string) (sqlite3.VTab, error) {
	if err := c.DeclareVTab(m.table.Schema); err != nil {
		return nil, err
	}
	return &storeTable{table: m.table}, nil
}

func (m *storeModule) DestroyModule() {}

type storeTable struct {
	table *querybridge.Table
}

// BestIndex reports a full scan; stores have no secondary order.
func (v *storeTable) BestIndex(cst []sqlite3.InfoConstraint, _ []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	n := float64(v.table.Len())
	return &sqlite3.IndexResult{
		Used:          make([]bool, len(cst)),
		EstimatedCost: n,
		EstimatedRows: n,
	}, nil
}

func (v *storeTable) Disconnect() error { return nil }
func (v *storeTable) Destroy() error    { return nil }

func (v *storeTable) Open() (sqlite3.VTabCursor, error) {
	return &storeCursor{cur: v.table.Open()}, nil
}

type storeCursor struct {
	cur *querybridge.Cursor
}

func (c *storeCursor) Filter(int, string, []any) error { return c.cur.Rewind() }
func (c *storeCursor) Next() error                     { c.cur.Next(); return nil }
func (c *storeCursor) EOF() bool                       { return c.cur.EOF() }
func (c *storeCursor) Rowid() (int64, error)           { return c.cur.Rowid(), nil }
func (c *storeCursor) Close() error                    { return nil }

func (c *storeCursor) Column(ctx *sqlite3.SQLiteContext, col int) error {
	switch v := c.cur.Value(col).(type) {
	case int64:
		ctx.ResultInt64(v)
	case string:
		ctx.ResultText(v)
	default:
		ctx.ResultNull()
	}
	return nil
}
