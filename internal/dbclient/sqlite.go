package dbclient

import (
	"extractor/internal/domain"

	_ "modernc.org/sqlite"
)

// newSQLiteConnector opens an external SQLite file read-only.
func newSQLiteConnector(conn *domain.DatabaseConnection, o Options) (*sqlConnector, error) {
	dsn := "file:" + conn.Host + "?mode=ro&_pragma=busy_timeout(5000)"
	return newSQLConnector("sqlite", dsn, o)
}
