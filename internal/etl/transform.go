package etl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"extractor/internal/table"
)

// ── Transformer ────────────────────────────────────────────
// Transformers reshape the canonical table between normalization and the
// destinations. Each one returns a new table; the input is never modified.

// TransformConfig is a declarative transform definition (stored as JSON).
type TransformConfig struct {
	Type   string         `json:"type"` // "filter" | "rename" | "select" | "dedupe" | "sort" | "limit"
	Config map[string]any `json:"config"`
}

// Transformer rewrites a table.
type Transformer interface {
	Apply(t *table.Table) (*table.Table, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(*table.Table) (*table.Table, error)

func (f TransformerFunc) Apply(t *table.Table) (*table.Table, error) { return f(t) }

// ── Built-in Transforms ────────────────────────────────────

// filterOps are the operators FilterTransform understands.
var filterOps = map[string]bool{
	"eq": true, "neq": true, "gt": true, "lt": true,
	"contains": true, "empty": true, "not_empty": true,
}

// FilterTransform keeps rows whose cell in Field matches Value.
type FilterTransform struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains" | "empty" | "not_empty"
	Value string
}

func (f *FilterTransform) Apply(t *table.Table) (*table.Table, error) {
	if !filterOps[f.Op] {
		return nil, fmt.Errorf("filter: unknown op %q", f.Op)
	}
	col := t.Column(f.Field)
	if col < 0 {
		return nil, fmt.Errorf("filter: unknown column %q", f.Field)
	}
	out := &table.Table{Headers: t.Headers, Rows: make([][]string, 0, len(t.Rows))}
	for _, row := range t.Rows {
		if f.match(row[col]) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func (f *FilterTransform) match(cell string) bool {
	switch f.Op {
	case "eq":
		return cell == f.Value
	case "neq":
		return cell != f.Value
	case "contains":
		return strings.Contains(cell, f.Value)
	case "empty":
		return cell == ""
	case "not_empty":
		return cell != ""
	case "gt":
		return compareCells(cell, f.Value) > 0
	case "lt":
		return compareCells(cell, f.Value) < 0
	default:
		return false
	}
}

// RenameTransform renames columns. A rename onto a name that is already
// taken is an error.
type RenameTransform struct {
	Mapping map[string]string // oldName → newName
}

func (r *RenameTransform) Apply(t *table.Table) (*table.Table, error) {
	headers := make([]string, len(t.Headers))
	copy(headers, t.Headers)
	taken := make(map[string]bool, len(headers))
	for _, h := range headers {
		taken[h] = true
	}
	for i, h := range headers {
		to, ok := r.Mapping[h]
		if !ok || to == "" || to == h {
			continue
		}
		if taken[to] {
			return nil, fmt.Errorf("rename: %q → %q collides with an existing column", h, to)
		}
		delete(taken, h)
		taken[to] = true
		headers[i] = to
	}
	return &table.Table{Headers: headers, Rows: t.Rows}, nil
}

// SelectTransform keeps only the named columns, in the given order.
type SelectTransform struct {
	Fields []string
}

func (s *SelectTransform) Apply(t *table.Table) (*table.Table, error) {
	if dup := firstDuplicate(s.Fields); dup != "" {
		return nil, fmt.Errorf("select: column %q listed twice", dup)
	}
	idx := make([]int, 0, len(s.Fields))
	headers := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		i := t.Column(f)
		if i < 0 {
			return nil, fmt.Errorf("select: unknown column %q", f)
		}
		idx = append(idx, i)
		headers = append(headers, f)
	}
	out := &table.Table{Headers: headers, Rows: make([][]string, len(t.Rows))}
	for r, row := range t.Rows {
		picked := make([]string, len(idx))
		for j, i := range idx {
			picked[j] = row[i]
		}
		out.Rows[r] = picked
	}
	return out, nil
}

// DedupeTransform drops rows whose Key cell was already seen.
type DedupeTransform struct {
	Key string
}

func (d *DedupeTransform) Apply(t *table.Table) (*table.Table, error) {
	col := t.Column(d.Key)
	if col < 0 {
		return nil, fmt.Errorf("dedupe: unknown column %q", d.Key)
	}
	seen := make(map[string]bool, len(t.Rows))
	out := &table.Table{Headers: t.Headers, Rows: make([][]string, 0, len(t.Rows))}
	for _, row := range t.Rows {
		if seen[row[col]] {
			continue
		}
		seen[row[col]] = true
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// SortTransform orders rows by one column. Numeric cells compare as numbers.
type SortTransform struct {
	Field     string
	Direction string // "asc" | "desc"
}

func (s *SortTransform) Apply(t *table.Table) (*table.Table, error) {
	col := t.Column(s.Field)
	if col < 0 {
		return nil, fmt.Errorf("sort: unknown column %q", s.Field)
	}
	rows := make([][]string, len(t.Rows))
	copy(rows, t.Rows)
	dir := 1
	if s.Direction == "desc" {
		dir = -1
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return compareCells(rows[i][col], rows[j][col])*dir < 0
	})
	return &table.Table{Headers: t.Headers, Rows: rows}, nil
}

// LimitTransform caps the number of rows.
type LimitTransform struct {
	Count int
}

func (l *LimitTransform) Apply(t *table.Table) (*table.Table, error) {
	return t.Head(l.Count), nil
}

func compareCells(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func firstDuplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}

// ── Building ───────────────────────────────────────────────

// BuildTransformers converts declarative TransformConfig into Transformers.
func BuildTransformers(configs []TransformConfig) ([]Transformer, error) {
	var ts []Transformer
	for i, tc := range configs {
		cfg := SourceConfig(tc.Config)
		switch tc.Type {
		case "filter":
			if err := cfg.Require("field", "op"); err != nil {
				return nil, fmt.Errorf("transform %d (filter): %w", i, err)
			}
			if op := cfg.String("op"); !filterOps[op] {
				return nil, fmt.Errorf("transform %d (filter): unknown op %q", i, op)
			}
			ts = append(ts, &FilterTransform{Field: cfg.String("field"), Op: cfg.String("op"), Value: cfg.String("value")})

		case "rename":
			mapping, ok := tc.Config["mapping"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("transform %d (rename): mapping is required", i)
			}
			m := make(map[string]string, len(mapping))
			for k, v := range mapping {
				m[k] = fmt.Sprint(v)
			}
			ts = append(ts, &RenameTransform{Mapping: m})

		case "select":
			fields, ok := tc.Config["fields"].([]any)
			if !ok || len(fields) == 0 {
				return nil, fmt.Errorf("transform %d (select): fields is required", i)
			}
			ff := make([]string, len(fields))
			for j, f := range fields {
				ff[j] = fmt.Sprint(f)
			}
			if dup := firstDuplicate(ff); dup != "" {
				return nil, fmt.Errorf("transform %d (select): field %q listed twice", i, dup)
			}
			ts = append(ts, &SelectTransform{Fields: ff})

		case "dedupe":
			if err := cfg.Require("key"); err != nil {
				return nil, fmt.Errorf("transform %d (dedupe): %w", i, err)
			}
			ts = append(ts, &DedupeTransform{Key: cfg.String("key")})

		case "sort":
			if err := cfg.Require("field"); err != nil {
				return nil, fmt.Errorf("transform %d (sort): %w", i, err)
			}
			ts = append(ts, &SortTransform{Field: cfg.String("field"), Direction: cfg.String("direction")})

		case "limit":
			n, err := strconv.Atoi(cfg.String("count"))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("transform %d (limit): count must be a non-negative integer", i)
			}
			ts = append(ts, &LimitTransform{Count: n})

		default:
			return nil, fmt.Errorf("transform %d: unknown type %q", i, tc.Type)
		}
	}
	return ts, nil
}

// ApplyTransformers runs a chain of transformers on a table.
func ApplyTransformers(t *table.Table, ts []Transformer) (*table.Table, error) {
	for _, tr := range ts {
		next, err := tr.Apply(t)
		if err != nil {
			return nil, err
		}
		t = next
	}
	return t, nil
}
