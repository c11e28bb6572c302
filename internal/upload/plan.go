package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"extractor/internal/table"
)

var (
	// ErrNoHeaders means the table has rows but nothing to map them by.
	ErrNoHeaders = errors.New("table has rows but no headers")
	// ErrNoMappedColumns means the field map covers none of the headers.
	ErrNoMappedColumns = errors.New("field map does not cover any table column")
)

// FieldMap maps a canonical column name to a remote field id.
type FieldMap map[string]string

// ParseFieldMap decodes a JSON object of column → field id.
func ParseFieldMap(raw string) (FieldMap, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FieldMap{}, nil
	}
	var fm FieldMap
	if err := json.Unmarshal([]byte(raw), &fm); err != nil {
		return nil, fmt.Errorf("parse field map: %w", err)
	}
	for col, id := range fm {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("parse field map: column %q has an empty field id", col)
		}
	}
	return fm, nil
}

// ── Batches ────────────────────────────────────────────────

// Batch is the half-open row range [Start, End) of one request.
type Batch struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int { return b.End - b.Start }

// Partition splits n rows into contiguous batches of at most size rows.
// The last batch may be shorter; no batch is empty.
func Partition(n, size int) []Batch {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([]Batch, 0, (n+size-1)/size)
	for i := 0; i*size < n; i++ {
		end := (i + 1) * size
		if end > n {
			end = n
		}
		batches = append(batches, Batch{Index: i, Start: i * size, End: end})
	}
	return batches
}

// ── Plan ───────────────────────────────────────────────────

// Column is one header that will be sent, with its remote field id.
type Column struct {
	Header  string `json:"header"`
	Index   int    `json:"index"`
	FieldID string `json:"fieldId"`
}

// Plan is the preflight result: which columns go out and what was skipped.
type Plan struct {
	Columns  []Column `json:"columns"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewPlan validates the table against the field map before any network call.
// An empty table yields an empty plan and no error.
func NewPlan(t *table.Table, fm FieldMap) (*Plan, error) {
	p := &Plan{}
	if t == nil || len(t.Rows) == 0 {
		return p, nil
	}
	if len(t.Headers) == 0 {
		return nil, ErrNoHeaders
	}

	used := make(map[string]bool, len(fm))
	for i, h := range t.Headers {
		id := fm[h]
		if id == "" {
			p.Warnings = append(p.Warnings, fmt.Sprintf("column %q has no field mapping and will not be uploaded", h))
			continue
		}
		used[h] = true
		p.Columns = append(p.Columns, Column{Header: h, Index: i, FieldID: id})
	}
	if len(p.Columns) == 0 {
		return nil, fmt.Errorf("%w (headers: %s)", ErrNoMappedColumns, strings.Join(t.Headers, ", "))
	}
	for col := range fm {
		if !used[col] {
			log.Printf("upload: field map entry %q matches no column", col)
		}
	}
	return p, nil
}

// Records shapes rows into remote records keyed by field id.
func (p *Plan) Records(rows [][]string) []map[string]string {
	out := make([]map[string]string, len(rows))
	for r, row := range rows {
		rec := make(map[string]string, len(p.Columns))
		for _, c := range p.Columns {
			if c.Index < len(row) {
				rec[c.FieldID] = row[c.Index]
			} else {
				rec[c.FieldID] = ""
			}
		}
		out[r] = rec
	}
	return out
}
