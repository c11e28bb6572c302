package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"extractor/internal/etl"
)

// parseParams turns repeated key=value flags into a source config. Values
// are kept verbatim; sources parse JSON-valued settings such as headers
// themselves.
func parseParams(params []string) (etl.SourceConfig, error) {
	cfg := etl.SourceConfig{}
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", p)
		}
		cfg[key] = value
	}
	return cfg, nil
}

func parseTransforms(raw string) ([]etl.TransformConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ts []etl.TransformConfig
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return nil, fmt.Errorf("parse transforms: %w", err)
	}
	return ts, nil
}
