package sqlitehost

import (
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tracer/internal/querybridge"
)

// Host adapts one SQLite connection to querybridge.Host.
type Host struct {
	conn     *sqlite3.SQLiteConn
	declared map[string]int
}

// NewHost wraps conn.
func NewHost(conn *sqlite3.SQLiteConn) *Host {
	return &Host{conn: conn, declared: make(map[string]int)}
}

func (h *Host) DbFilename() (string, error) {
	return h.conn.GetFilename("main"), nil
}

// OverloadFunction reserves name for a function of nargs arguments.
// CreateFunction refuses names that were not declared this way.
func (h *Host) OverloadFunction(name string, nargs int) error {
	if n, ok := h.declared[name]; ok && n != nargs {
		return fmt.Errorf("function %s already declared with %d arguments", name, n)
	}
	h.declared[name] = nargs
	return nil
}

func (h *Host) CreateFunction(fn querybridge.Function) error {
	n, ok := h.declared[fn.Name]
	if !ok {
		return fmt.Errorf("function %s was not declared", fn.Name)
	}
	if n != fn.NArgs {
		return fmt.Errorf("function %s declared with %d arguments, created with %d", fn.Name, n, fn.NArgs)
	}

	switch fn.Kind {
	case querybridge.Aggregate:
		return h.conn.RegisterAggregator(fn.Name, fn.Impl, fn.Pure)
	default:
		return h.conn.RegisterFunc(fn.Name, fn.Impl, fn.Pure)
	}
}
