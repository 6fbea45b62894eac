// Package report holds the tabular data model and the streaming assembler
// that turns fetched tables into downloadable CSV output.
package report

import "fmt"

// Table is an ordered set of columns with rows of matching arity.
type Table struct {
	Columns []string
	Rows    [][]any
}

// NewTable creates an empty table with the given column order.
func NewTable(columns []string) *Table {
	return &Table{Columns: columns}
}

// Append adds one row. Rows shorter than the column set are padded with
// empty strings so arity always matches.
func (t *Table) Append(row []any) {
	for len(row) < len(t.Columns) {
		row = append(row, "")
	}
	t.Rows = append(t.Rows, row[:len(t.Columns)])
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of a column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ColumnStrings returns every value of one column, stringified.
// Unknown column yields an empty slice.
func (t *Table) ColumnStrings(name string) []string {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	out := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		out = append(out, Stringify(row[idx]))
	}
	return out
}

// release drops the backing rows so the memory can be reclaimed while the
// Table header stays usable.
func (t *Table) release() {
	if t != nil {
		t.Rows = nil
	}
}

// Stringify renders a cell value the way it appears in CSV output.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// resolveColumns maps requested column names onto source indexes, keeping
// request order and collecting the names that do not exist.
func resolveColumns(have, want []string) (keep []int, missing []string) {
	pos := make(map[string]int, len(have))
	for i, c := range have {
		pos[c] = i
	}
	for _, c := range want {
		if idx, ok := pos[c]; ok {
			keep = append(keep, idx)
		} else {
			missing = append(missing, c)
		}
	}
	return keep, missing
}

func pick(cols []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = cols[j]
	}
	return out
}
