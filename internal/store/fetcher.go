package store

import (
	"context"
	"io"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"orgpulse.org/internal/report"
)

// Querier is the slice of a pgx connection the fetcher needs. Satisfied
// by *pgxpool.Conn and by pgxmock in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Fetcher runs parameterized, filtered selects over one borrowed
// connection. Filter values travel as placeholders; only table and column
// identifiers are interpolated, and those are quote-sanitized. Execution
// failures are logged and surface as empty results so callers treat
// "failed" and "missing" alike. Close returns the connection and is
// idempotent.
type Fetcher struct {
	q       Querier
	release func()
	chunk   int
	log     *zap.Logger
	closed  bool
}

func newFetcher(q Querier, release func(), chunk int, log *zap.Logger) *Fetcher {
	return &Fetcher{q: q, release: release, chunk: chunk, log: log}
}

// NewFetcher wraps an existing connection without pool bookkeeping.
// Intended for tests.
func NewFetcher(q Querier, chunk int, log *zap.Logger) *Fetcher {
	if chunk <= 0 {
		chunk = 1000
	}
	return newFetcher(q, nil, chunk, log)
}

// FetchTable materializes the filtered selection, accumulating batches of
// at most the pool chunk size per read. Any failure yields an empty table.
func (f *Fetcher) FetchTable(ctx context.Context, table string, filters []Filter, columns []string) *report.Table {
	src := f.FetchSource(ctx, table, filters, columns)
	defer src.Close()

	out := report.NewTable(src.Columns())
	for {
		row, err := src.Next()
		if err != nil {
			break
		}
		out.Append(row)
	}
	f.log.Info("rows fetched", zap.String("table", table), zap.Int("rows", out.Len()))
	return out
}

// FetchSource streams the filtered selection lazily: rows are pulled from
// the wire in chunk-sized batches, so memory is bounded by the chunk size
// rather than the result size. The source must be closed; closing it does
// not return the fetcher's connection.
func (f *Fetcher) FetchSource(ctx context.Context, table string, filters []Filter, columns []string) report.Source {
	builder := sq.Select(sanitizeColumns(columns)...).
		From(sanitizeIdent(table)).
		PlaceholderFormat(sq.Dollar)
	for _, fl := range filters {
		fl.Field = sanitizeIdent(fl.Field)
		builder = builder.Where(fl.predicate())
	}

	sqlText, args, err := builder.ToSql()
	if err != nil {
		f.log.Error("build query", zap.String("table", table), zap.Error(err))
		return report.NewTableSource(nil)
	}
	rows, err := f.q.Query(ctx, sqlText, args...)
	if err != nil {
		f.log.Error("execute query", zap.String("table", table), zap.Error(err))
		return report.NewTableSource(nil)
	}

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}
	return &rowsSource{rows: rows, cols: cols, chunk: f.chunk, log: f.log}
}

// Close releases the borrowed connection. Safe to call more than once.
func (f *Fetcher) Close() {
	if f.closed {
		return
	}
	f.closed = true
	if f.release != nil {
		f.release()
	}
}

// rowsSource adapts pgx rows to report.Source, buffering one chunk of
// rows at a time.
type rowsSource struct {
	rows   pgx.Rows
	cols   []string
	chunk  int
	buf    [][]any
	pos    int
	done   bool
	closed bool
	log    *zap.Logger
}

func (s *rowsSource) Columns() []string { return s.cols }

func (s *rowsSource) Next() ([]any, error) {
	if s.pos >= len(s.buf) {
		if !s.refill() {
			return nil, io.EOF
		}
	}
	row := s.buf[s.pos]
	s.pos++
	return row, nil
}

func (s *rowsSource) refill() bool {
	if s.done || s.closed {
		return false
	}
	s.buf = s.buf[:0]
	s.pos = 0
	for len(s.buf) < s.chunk && s.rows.Next() {
		vals, err := s.rows.Values()
		if err != nil {
			s.log.Error("read row", zap.Error(err))
			break
		}
		s.buf = append(s.buf, vals)
	}
	if len(s.buf) < s.chunk {
		s.done = true
		s.rows.Close()
		if err := s.rows.Err(); err != nil {
			s.log.Error("row stream failed", zap.Error(err))
		}
	}
	return len(s.buf) > 0
}

func (s *rowsSource) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.buf = nil
	s.rows.Close()
}

// sanitizeIdent double-quotes an identifier, escaping embedded quotes, so
// a caller-supplied column name can never splice SQL.
func sanitizeIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sanitizeColumns(columns []string) []string {
	if len(columns) == 0 {
		return []string{"*"}
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = sanitizeIdent(c)
	}
	return out
}
