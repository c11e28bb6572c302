package domain

import (
	"fmt"
	"time"
)

// DatabaseDriver represents the type of source engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL         DatabaseDriver = "mysql"
	DatabaseDriverPostgres      DatabaseDriver = "postgres"
	DatabaseDriverSQLite        DatabaseDriver = "sqlite"
	DatabaseDriverMSSQL         DatabaseDriver = "mssql"
	DatabaseDriverMongoDB       DatabaseDriver = "mongodb"
	DatabaseDriverRedis         DatabaseDriver = "redis"
	DatabaseDriverElasticsearch DatabaseDriver = "elasticsearch"
)

// Drivers lists every supported driver in display order.
var Drivers = []DatabaseDriver{
	DatabaseDriverPostgres,
	DatabaseDriverMySQL,
	DatabaseDriverSQLite,
	DatabaseDriverMSSQL,
	DatabaseDriverMongoDB,
	DatabaseDriverRedis,
	DatabaseDriverElasticsearch,
}

// ParseDriver validates a driver name. Common aliases are accepted.
func ParseDriver(s string) (DatabaseDriver, error) {
	switch s {
	case "postgresql", "pg":
		return DatabaseDriverPostgres, nil
	case "sqlserver":
		return DatabaseDriverMSSQL, nil
	case "mongo":
		return DatabaseDriverMongoDB, nil
	case "elastic", "es":
		return DatabaseDriverElasticsearch, nil
	}
	for _, d := range Drivers {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unsupported driver: %q", s)
}

// IsSQL reports whether the driver speaks database/sql.
func (d DatabaseDriver) IsSQL() bool {
	switch d {
	case DatabaseDriverMySQL, DatabaseDriverPostgres, DatabaseDriverSQLite, DatabaseDriverMSSQL:
		return true
	}
	return false
}

// DatabaseConnection holds the metadata for connecting to a source engine.
// The password is stored separately in the SecretStore.
type DatabaseConnection struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Driver    DatabaseDriver `json:"driver"`
	Host      string         `json:"host"`     // hostname, full URI, or file path (sqlite)
	Port      int            `json:"port"`     // 0 = driver default
	Database  string         `json:"database"` // db name, redis db index, or es index
	Username  string         `json:"username"`
	SSLMode   string         `json:"sslMode"`
	ExtraJSON string         `json:"extraJson"` // driver-specific options
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// DatabaseConnectionStore manages CRUD operations for saved connections.
type DatabaseConnectionStore interface {
	CreateConnection(c *DatabaseConnection) error
	GetConnection(id string) (*DatabaseConnection, error)
	ListConnections() ([]DatabaseConnection, error)
	UpdateConnection(c *DatabaseConnection) error
	DeleteConnection(id string) error
}
