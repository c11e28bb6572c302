package sources

import (
	"context"
	"fmt"
	"os"

	"extractor/internal/etl"
	"extractor/internal/table"
)

// ── JSON File Source ────────────────────────────────────────
// Reads records from a local JSON file. Records are schemaless.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the JSON file", Env: "JSON_FILE_PATH"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Dot-separated path to the array (e.g., 'data.items'). Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Open(ctx context.Context, cfg etl.SourceConfig) (table.Source, error) {
	if err := cfg.Require("filePath"); err != nil {
		return nil, err
	}
	f, err := os.Open(cfg.String("filePath"))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	defer f.Close()

	raw, err := decodeJSON(f)
	if err != nil {
		return nil, err
	}
	raw, err = navigatePath(raw, cfg.String("dataPath"))
	if err != nil {
		return nil, err
	}
	records, err := jsonRecords(raw)
	if err != nil {
		return nil, err
	}
	return table.NewSliceSource(nil, records), nil
}
