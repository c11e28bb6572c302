package sources

import (
	"context"
	"fmt"
	"sync"

	"extractor/internal/etl"
	"extractor/internal/table"
)

// ── Database Source ────────────────────────────────────────
// Reads a query result from a saved connection. Connectors come from a
// provider injected at startup.

var (
	providerMu sync.RWMutex
	provider   etl.ConnectorProvider
)

// SetConnectorProvider is called by the service layer at startup.
func SetConnectorProvider(p etl.ConnectorProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	provider = p
}

func connectorProvider() etl.ConnectorProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider
}

type databaseSource struct{}

func init() { etl.RegisterSource(&databaseSource{}) }

func (s *databaseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Saved Connection",
		ConfigFields: []etl.ConfigField{
			{Key: "connectionId", Label: "Connection", Type: "string", Required: true, Help: "ID of a saved connection"},
			{Key: "query", Label: "Query", Type: "textarea", Required: true, Help: "SQL, MongoDB query JSON, Redis key pattern or Elasticsearch query JSON"},
		},
	}
}

func (s *databaseSource) Open(ctx context.Context, cfg etl.SourceConfig) (table.Source, error) {
	if err := cfg.Require("connectionId", "query"); err != nil {
		return nil, err
	}
	p := connectorProvider()
	if p == nil {
		return nil, fmt.Errorf("database provider not initialized")
	}
	conn, err := p.Connector(ctx, cfg.String("connectionId"))
	if err != nil {
		return nil, err
	}
	src, err := conn.Query(ctx, cfg.String("query"))
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return src, nil
}
