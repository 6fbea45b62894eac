package report

import (
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Stream is a finite, single-pass sequence of CSV lines: one header line,
// then one line per row. It owns its source exclusively; Close releases
// the backing data and runs any extra finalizers exactly once, whether the
// consumer drained the stream or abandoned it.
type Stream struct {
	src      Source
	cols     []string // output order; indexes into source rows
	keep     []int
	masks    map[string]func(string) string
	log      *zap.Logger
	header   bool
	closed   bool
	rows     int64
	onClose  []func()
}

// Assemble builds the output stream for a source. The requested column
// list restricts and orders the output; unknown columns are dropped with a
// warning and a nil request keeps the source order. Mask rules, when
// given, are applied to matching output columns at most once per row.
func Assemble(src Source, columns []string, masks []MaskRule, log *zap.Logger, onClose ...func()) *Stream {
	srcCols := src.Columns()
	var keep []int
	var outCols []string
	if len(columns) == 0 {
		keep = make([]int, len(srcCols))
		for i := range srcCols {
			keep[i] = i
		}
		outCols = append([]string{}, srcCols...)
	} else {
		var missing []string
		keep, missing = resolveColumns(srcCols, columns)
		if len(missing) > 0 && log != nil {
			log.Warn("missing columns skipped", zap.Strings("columns", missing))
		}
		outCols = pick(srcCols, keep)
	}

	var maskFns map[string]func(string) string
	for _, rule := range masks {
		for _, c := range outCols {
			if c == rule.Field {
				if maskFns == nil {
					maskFns = make(map[string]func(string) string)
				}
				maskFns[rule.Field] = rule.Apply
			}
		}
	}

	return &Stream{
		src:     src,
		cols:    outCols,
		keep:    keep,
		masks:   maskFns,
		log:     log,
		onClose: onClose,
	}
}

// Columns returns the output header in order.
func (s *Stream) Columns() []string { return s.cols }

// Rows returns how many data lines have been produced so far.
func (s *Stream) Rows() int64 { return s.rows }

// Next produces the next output line, terminated with a newline. The
// second return is false once the stream is exhausted or closed; the
// stream closes itself when the source ends so backing memory is released
// even if the consumer never calls Close.
func (s *Stream) Next() (string, bool) {
	if s.closed {
		return "", false
	}
	if !s.header {
		s.header = true
		return strings.Join(s.cols, ",") + "\n", true
	}
	row, err := s.src.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) && s.log != nil {
			s.log.Error("report stream aborted", zap.Error(err))
		}
		s.Close()
		return "", false
	}

	fields := make([]string, len(s.keep))
	for i, idx := range s.keep {
		v := Stringify(row[idx])
		if fn, ok := s.masks[s.cols[i]]; ok {
			v = fn(v)
		}
		fields[i] = v
	}
	s.rows++
	return strings.Join(fields, ",") + "\n", true
}

// Close releases the source and runs finalizers. Safe to call repeatedly.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.src.Close()
	for _, fn := range s.onClose {
		fn()
	}
}
