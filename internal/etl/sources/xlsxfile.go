package sources

import (
	"context"
	"fmt"
	"io"
	"sync"

	"extractor/internal/etl"
	"extractor/internal/table"

	"github.com/xuri/excelize/v2"
)

// ── XLSX File Source ────────────────────────────────────────
// Streams rows of one worksheet. Cells arrive as their formatted text.

type xlsxFileSource struct{}

func init() { etl.RegisterSource(&xlsxFileSource{}) }

func (s *xlsxFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "xlsx_file",
		Label: "Excel Workbook",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the .xlsx file", Env: "XLSX_FILE_PATH"},
			{Key: "sheet", Label: "Sheet", Type: "string", Help: "Worksheet name (default: first sheet)"},
			{Key: "hasHeader", Label: "Has Header", Type: "select", Options: []string{"true", "false"}, Default: "true"},
		},
	}
}

func (s *xlsxFileSource) Open(ctx context.Context, cfg etl.SourceConfig) (table.Source, error) {
	if err := cfg.Require("filePath"); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(cfg.String("filePath"))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sheet := cfg.String("sheet")
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open sheet %q: %w", sheet, err)
	}

	src := &xlsxSource{f: f, rows: rows}
	if cfg.Bool("hasHeader", true) {
		header, ok, err := src.readRow()
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		if !ok {
			header = []string{}
		}
		src.cols = header
	}
	return src, nil
}

type xlsxSource struct {
	mu     sync.Mutex
	f      *excelize.File
	rows   *excelize.Rows
	cols   []string
	closed bool
}

func (s *xlsxSource) Columns() []string { return s.cols }

func (s *xlsxSource) readRow() ([]string, bool, error) {
	if !s.rows.Next() {
		return nil, false, s.rows.Error()
	}
	cells, err := s.rows.Columns()
	if err != nil {
		return nil, false, err
	}
	return cells, true, nil
}

func (s *xlsxSource) Next(ctx context.Context) (table.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return table.Record{}, table.ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return table.Record{}, err
	}
	cells, ok, err := s.readRow()
	if err != nil {
		return table.Record{}, fmt.Errorf("read row: %w", err)
	}
	if !ok {
		return table.Record{}, io.EOF
	}
	vals := make([]table.Value, len(cells))
	for i, c := range cells {
		vals[i] = table.Text(c)
	}
	return table.Positional(vals...), nil
}

func (s *xlsxSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.rows.Close()
	return s.f.Close()
}
