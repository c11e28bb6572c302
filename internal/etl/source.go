package etl

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"extractor/internal/dbclient"
	"extractor/internal/table"
)

// ── Source ──────────────────────────────────────────────────
// A Source opens a cursor over an external system.
// Implementations live in etl/sources/, one file per source type.

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// String returns the value for key as a trimmed string.
func (c SourceConfig) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool parses key as a boolean, returning def when unset or unparseable.
func (c SourceConfig) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Require returns an error naming the first missing key.
func (c SourceConfig) Require(keys ...string) error {
	for _, k := range keys {
		if c.String(k) == "" {
			return fmt.Errorf("%s is required", k)
		}
	}
	return nil
}

// ConfigField describes a single configuration input for a source.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // "string" | "select" | "textarea" | "password" | "file"
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"` // for "select" type
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
	Env      string   `json:"env,omitempty"` // environment fallback
}

// SourceSpec describes a source type: its label and config fields.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Source is the interface every data source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Open validates cfg and returns a cursor. The caller closes it.
	Open(ctx context.Context, cfg SourceConfig) (table.Source, error)
}

// ConnectorProvider hands out connectors for saved connections.
type ConnectorProvider interface {
	Connector(ctx context.Context, connID string) (dbclient.Connector, error)
}

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type.
// Called from init() in each source implementation file.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources, sorted by type.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// ApplyEnvDefaults fills unset config keys from the environment variables the
// source spec names. lookup is usually os.LookupEnv.
func ApplyEnvDefaults(spec SourceSpec, cfg SourceConfig, lookup func(string) (string, bool)) SourceConfig {
	out := make(SourceConfig, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	for _, f := range spec.ConfigFields {
		if f.Env == "" || out.String(f.Key) != "" {
			continue
		}
		if v, ok := lookup(f.Env); ok && v != "" {
			out[f.Key] = v
		}
	}
	return out
}
