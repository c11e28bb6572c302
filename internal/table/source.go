package table

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrSourceClosed is returned by Next after Close.
var ErrSourceClosed = errors.New("table: source closed")

// Record is one raw row. A positional record carries Values in column order;
// a keyed record carries Fields by name. Exactly one of the two is set.
type Record struct {
	Values []Value
	Fields map[string]Value
}

// Positional builds a record whose cells line up with the source columns.
func Positional(vals ...Value) Record { return Record{Values: vals} }

// Keyed builds a record for schemaless sources.
func Keyed(fields map[string]Value) Record {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Record{Fields: fields}
}

// Source is the capability every connector exposes to the normalizer.
//
// Columns returns the declared column order, or nil when the source has no
// schema and headers must be discovered from the records themselves.
// Next returns io.EOF once the stream is exhausted.
type Source interface {
	Columns() []string
	Next(ctx context.Context) (Record, error)
	Close() error
}

// ── SliceSource ────────────────────────────────────────────

// SliceSource serves records from memory. File readers that parse the whole
// document up front use it, and so do tests.
type SliceSource struct {
	Cols    []string
	Records []Record

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewSliceSource builds an in-memory source. Pass nil cols for a schemaless one.
func NewSliceSource(cols []string, records []Record) *SliceSource {
	return &SliceSource{Cols: cols, Records: records}
}

func (s *SliceSource) Columns() []string { return s.Cols }

func (s *SliceSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrSourceClosed
	}
	if s.pos >= len(s.Records) {
		return Record{}, io.EOF
	}
	rec := s.Records[s.pos]
	s.pos++
	return rec, nil
}

func (s *SliceSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
