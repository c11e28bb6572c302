package table

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Table is the canonical normalized form every source is converted into.
// Every row has exactly len(Headers) cells.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Column returns the index of a header, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Head returns a copy of the table limited to the first n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{Headers: t.Headers, Rows: t.Rows[:n:n]}
}

// Stats are the counts gathered while normalizing one source.
type Stats struct {
	Rows        int `json:"rows"`
	Unsupported int `json:"unsupported"`
	// Dropped counts field occurrences that had no header slot, either
	// because the field was absent from the first schemaless record or
	// because a positional record was wider than the header set.
	Dropped int `json:"dropped"`
}

// KeyValueColumns is the fixed header set for key-value stores.
var KeyValueColumns = []string{"Key", "Type", "Value", "Detail"}

// SyntheticColumns returns Column1..ColumnN.
func SyntheticColumns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = "Column" + strconv.Itoa(i+1)
	}
	return cols
}

// ── Normalize ──────────────────────────────────────────────

// Normalize drains src into a Table.
//
// Declared columns are used verbatim (duplicates get a numeric suffix).
// Without declared columns, the first record fixes the header set: sorted
// field names for keyed records, Column1..N for positional ones. The header
// set never grows afterwards; fields first seen in later records are counted
// in Stats.Dropped and left out.
//
// Normalize fails only when the source fails or ctx is done. No partial
// table is returned in that case.
func Normalize(ctx context.Context, src Source) (*Table, Stats, error) {
	var stats Stats

	t := &Table{Headers: []string{}, Rows: [][]string{}}
	cols := src.Columns()
	frozen := cols != nil
	if frozen {
		t.Headers = uniqueHeaders(cols)
	}

	var index map[string]int
	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read row %d: %w", stats.Rows+1, err)
		}

		if !frozen {
			t.Headers = discoverHeaders(rec)
			frozen = true
		}

		row := make([]string, len(t.Headers))
		if rec.Fields != nil {
			if index == nil {
				index = make(map[string]int, len(t.Headers))
				for i, h := range t.Headers {
					index[h] = i
				}
			}
			for k, v := range rec.Fields {
				i, ok := index[k]
				if !ok {
					stats.Dropped++
					continue
				}
				row[i] = stats.cell(v)
			}
		} else {
			for i, v := range rec.Values {
				if i >= len(row) {
					stats.Dropped++
					continue
				}
				row[i] = stats.cell(v)
			}
		}

		t.Rows = append(t.Rows, row)
		stats.Rows++
	}

	return t, stats, nil
}

func (s *Stats) cell(v Value) string {
	s.Unsupported += countUnsupported(v)
	return Cell(v)
}

func discoverHeaders(rec Record) []string {
	if rec.Fields == nil {
		return SyntheticColumns(len(rec.Values))
	}
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// uniqueHeaders copies cols, renaming repeats to name_2, name_3, ...
func uniqueHeaders(cols []string) []string {
	out := make([]string, len(cols))
	used := make(map[string]bool, len(cols))
	for i, c := range cols {
		name := c
		for n := 2; used[name]; n++ {
			name = c + "_" + strconv.Itoa(n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}
