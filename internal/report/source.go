package report

import "io"

// Source is a pull-based sequence of rows sharing one column set. Next
// returns io.EOF when the sequence ends. Close releases backing resources
// and must be safe to call more than once and at any point of iteration.
type Source interface {
	Columns() []string
	Next() ([]any, error)
	Close()
}

// tableSource iterates a materialized table and releases it on Close.
type tableSource struct {
	table *Table
	pos   int
}

// NewTableSource wraps a materialized table as a single-pass Source.
func NewTableSource(t *Table) Source {
	if t == nil {
		t = NewTable(nil)
	}
	return &tableSource{table: t}
}

func (s *tableSource) Columns() []string { return s.table.Columns }

func (s *tableSource) Next() ([]any, error) {
	if s.pos >= len(s.table.Rows) {
		return nil, io.EOF
	}
	row := s.table.Rows[s.pos]
	s.pos++
	return row, nil
}

func (s *tableSource) Close() { s.table.release() }

// joinSource streams an inner join: the left side is materialized into a
// hash map, the right side is consumed row by row. Memory stays bounded by
// the left table plus one right row.
type joinSource struct {
	left    *Table
	right   Source
	cols    []string
	byKey   map[string][][]any
	rk      int
	keep    []int
	pending [][]any
	closed  bool
}

// NewJoinSource builds a streaming inner join of left and right on the key
// column. Output columns are the left columns followed by the right
// columns minus the key. Closing the source releases the left table and
// closes the right source.
func NewJoinSource(left *Table, right Source, key string) Source {
	lk := left.ColumnIndex(key)
	rcols := right.Columns()
	rk := -1
	for i, c := range rcols {
		if c == key {
			rk = i
			break
		}
	}
	if lk < 0 || rk < 0 {
		right.Close()
		left.release()
		return NewTableSource(nil)
	}

	cols := append([]string{}, left.Columns...)
	keep := make([]int, 0, len(rcols))
	for i, c := range rcols {
		if i == rk {
			continue
		}
		cols = append(cols, c)
		keep = append(keep, i)
	}

	byKey := make(map[string][][]any, len(left.Rows))
	for _, row := range left.Rows {
		k := Stringify(row[lk])
		byKey[k] = append(byKey[k], row)
	}

	return &joinSource{
		left:  left,
		right: right,
		cols:  cols,
		byKey: byKey,
		rk:    rk,
		keep:  keep,
	}
}

func (s *joinSource) Columns() []string { return s.cols }

func (s *joinSource) Next() ([]any, error) {
	for {
		if len(s.pending) > 0 {
			row := s.pending[0]
			s.pending = s.pending[1:]
			return row, nil
		}
		rrow, err := s.right.Next()
		if err != nil {
			return nil, err
		}
		for _, lrow := range s.byKey[Stringify(rrow[s.rk])] {
			joined := make([]any, 0, len(s.cols))
			joined = append(joined, lrow...)
			for _, i := range s.keep {
				joined = append(joined, rrow[i])
			}
			s.pending = append(s.pending, joined)
		}
	}
}

func (s *joinSource) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.right.Close()
	s.left.release()
	s.byKey = nil
	s.pending = nil
}

// peekedSource replays one already-read row before delegating to the
// underlying source. Used to probe a lazy source for emptiness without
// losing its first row.
type peekedSource struct {
	src  Source
	row  []any
	done bool
}

// NewPeekedSource returns a Source that yields row first, then the rest of
// src.
func NewPeekedSource(src Source, row []any) Source {
	return &peekedSource{src: src, row: row}
}

func (s *peekedSource) Columns() []string { return s.src.Columns() }

func (s *peekedSource) Next() ([]any, error) {
	if !s.done {
		s.done = true
		return s.row, nil
	}
	return s.src.Next()
}

func (s *peekedSource) Close() { s.src.Close() }
