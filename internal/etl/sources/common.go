// Package sources registers the built-in extraction sources with the etl
// registry. Import it for side effects.
package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"extractor/internal/table"
)

// decodeJSON parses a document keeping numbers as json.Number, so integers
// wider than a float64 mantissa survive.
func decodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return raw, nil
}

func decodeJSONBytes(b []byte) (any, error) {
	return decodeJSON(bytes.NewReader(b))
}

// navigatePath walks a dot-separated path into nested objects. Numeric
// segments index into arrays.
func navigatePath(obj any, path string) (any, error) {
	if path == "" {
		return obj, nil
	}
	current := obj
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("invalid data path: %q not found", part)
			}
			current = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("invalid data path: index %q out of range", part)
			}
			current = v[i]
		default:
			return nil, fmt.Errorf("invalid data path: %q is not an object", part)
		}
	}
	return current, nil
}

// jsonRecords converts a JSON value into records: objects become keyed
// records, nested arrays positional ones. A single object is one record.
func jsonRecords(raw any) ([]table.Record, error) {
	switch v := raw.(type) {
	case []any:
		records := make([]table.Record, 0, len(v))
		for _, item := range v {
			records = append(records, jsonRecord(item))
		}
		return records, nil
	case map[string]any:
		return []table.Record{jsonRecord(v)}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a JSON array or object, got %T", raw)
	}
}

func jsonRecord(item any) table.Record {
	switch v := item.(type) {
	case map[string]any:
		fields := make(map[string]table.Value, len(v))
		for k, fv := range v {
			fields[k] = table.FromJSON(fv)
		}
		return table.Keyed(fields)
	case []any:
		vals := make([]table.Value, len(v))
		for i, x := range v {
			vals[i] = table.FromJSON(x)
		}
		return table.Positional(vals...)
	default:
		return table.Positional(table.FromJSON(v))
	}
}
