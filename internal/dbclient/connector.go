// Package dbclient connects to external databases and exposes query results
// as table.Source cursors.
package dbclient

import (
	"context"
	"fmt"
	"time"

	"extractor/internal/domain"
	"extractor/internal/table"
)

// DefaultQueryTimeout bounds a query from open to cursor close.
const DefaultQueryTimeout = 30 * time.Second

// SchemaInfo contains the database schema for discovery.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table/collection/index.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a column/field.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Connector abstracts interaction with an external database.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Query runs a read query and returns a cursor over its results.
	// The caller must Close the source.
	Query(ctx context.Context, query string) (table.Source, error)

	// Introspect returns the database schema.
	Introspect(ctx context.Context) (*SchemaInfo, error)

	// Close releases the connection pool.
	Close() error
}

// Options tunes a connector.
type Options struct {
	QueryTimeout time.Duration
}

// Option configures Options.
type Option func(*Options)

// WithQueryTimeout overrides DefaultQueryTimeout. Non-positive values are ignored.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.QueryTimeout = d
		}
	}
}

func buildOptions(opts []Option) Options {
	o := Options{QueryTimeout: DefaultQueryTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewConnector creates a Connector for the given database connection.
// The password must be provided separately (from SecretStore).
func NewConnector(conn *domain.DatabaseConnection, password string, opts ...Option) (Connector, error) {
	o := buildOptions(opts)
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn, o)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", buildMySQLDSN(conn, password), o)
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", buildPostgresDSN(conn, password), o)
	case domain.DatabaseDriverMSSQL:
		return newSQLConnector("sqlserver", buildMSSQLDSN(conn, password), o)
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password, o)
	case domain.DatabaseDriverRedis:
		return newRedisConnector(conn, password, o)
	case domain.DatabaseDriverElasticsearch:
		return newElasticConnector(conn, password, o)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
