package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"extractor/internal/etl"
	"extractor/internal/table"
)

// ── CSV File Source ─────────────────────────────────────────
// Streams records from a local CSV file. Cells are kept verbatim.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the CSV file", Env: "CSV_FILE_PATH"},
			{Key: "delimiter", Label: "Delimiter", Type: "string", Default: ",", Help: "Column delimiter (default: comma)"},
			{Key: "hasHeader", Label: "Has Header", Type: "select", Options: []string{"true", "false"}, Default: "true", Help: "Whether the first row contains column names"},
		},
	}
}

func (s *csvFileSource) Open(ctx context.Context, cfg etl.SourceConfig) (table.Source, error) {
	if err := cfg.Require("filePath"); err != nil {
		return nil, err
	}
	f, err := os.Open(cfg.String("filePath"))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := csv.NewReader(f)
	if delim := []rune(cfg.String("delimiter")); len(delim) > 0 {
		reader.Comma = delim[0]
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	src := &csvSource{f: f, r: reader}
	if cfg.Bool("hasHeader", true) {
		header, err := reader.Read()
		switch {
		case errors.Is(err, io.EOF):
			src.cols = []string{}
			src.eof = true
		case err != nil:
			f.Close()
			return nil, fmt.Errorf("parse csv header: %w", err)
		default:
			if len(header) > 0 {
				header[0] = trimBOM(header[0])
			}
			src.cols = header
		}
	}
	return src, nil
}

type csvSource struct {
	mu     sync.Mutex
	f      *os.File
	r      *csv.Reader
	cols   []string // nil without a header row
	line   int
	eof    bool
	closed bool
}

func (s *csvSource) Columns() []string { return s.cols }

func (s *csvSource) Next(ctx context.Context) (table.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return table.Record{}, table.ErrSourceClosed
	}
	if s.eof {
		return table.Record{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return table.Record{}, err
	}
	row, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		s.eof = true
		return table.Record{}, io.EOF
	}
	if err != nil {
		return table.Record{}, fmt.Errorf("parse csv: %w", err)
	}
	s.line++
	if s.line == 1 && s.cols == nil && len(row) > 0 {
		row[0] = trimBOM(row[0])
	}

	vals := make([]table.Value, len(row))
	for i, cell := range row {
		vals[i] = table.Text(cell)
	}
	return table.Positional(vals...), nil
}

func (s *csvSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

func trimBOM(s string) string { return strings.TrimPrefix(s, "\ufeff") }
