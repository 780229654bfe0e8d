//go:build !sqlite_vtable

package sqlitehost

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/roach88/tracer/internal/querybridge"
)

// CreateModule copies t into a TEMP table of the same name.
func (h *Host) CreateModule(t *querybridge.Table) error {
	ddl := strings.Replace(t.Schema, "CREATE TABLE ", "CREATE TEMP TABLE ", 1)
	if _, err := h.conn.Exec(ddl, nil); err != nil {
		return fmt.Errorf("create temp table %s: %w", t.Name, err)
	}

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	stmt, err := h.conn.Prepare(fmt.Sprintf("INSERT INTO temp.%s VALUES (%s)", t.Name, marks))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", t.Name, err)
	}
	defer stmt.Close()

	if _, err := h.conn.Exec("BEGIN", nil); err != nil {
		return err
	}
	args := make([]driver.Value, len(t.Columns))
	err = t.Scan(func(_ int64, row []any) error {
		for i, v := range row {
			args[i] = v
		}
		_, err := stmt.Exec(args)
		return err
	})
	if err != nil {
		_, _ = h.conn.Exec("ROLLBACK", nil)
		return fmt.Errorf("populate %s: %w", t.Name, err)
	}
	_, err = h.conn.Exec("COMMIT", nil)
	return err
}
