// Package export writes canonical tables to files: header row first, then
// one row per record, every cell written as its canonical string.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"extractor/internal/table"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet XLSX output is written to.
const SheetName = "Sheet1"

// Write picks the format from the file extension (.csv or .xlsx).
func Write(path string, t *table.Table) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return WriteCSV(path, t)
	case ".xlsx":
		return WriteXLSX(path, t)
	default:
		return fmt.Errorf("unsupported output format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// WriteCSV writes t as RFC 4180 CSV.
func WriteCSV(path string, t *table.Table) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		f.Close()
		return fmt.Errorf("write csv rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv: %w", err)
	}
	return nil
}

// WriteXLSX writes t to the first worksheet with a streaming writer.
func WriteXLSX(path string, t *table.Table) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("open sheet: %w", err)
	}

	if err := writeXLSXRow(sw, 1, t.Headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := writeXLSXRow(sw, i+2, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	return nil
}

func writeXLSXRow(sw *excelize.StreamWriter, rowNum int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(cells))
	for i, c := range cells {
		vals[i] = c
	}
	return sw.SetRow(cell, vals)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
