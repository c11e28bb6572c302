package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"extractor/internal/table"

	"github.com/google/uuid"
)

// sqlConnector is the shared implementation for MySQL, Postgres, SQLite and SQL Server.
type sqlConnector struct {
	driverName string
	db         *sql.DB
	opts       Options
}

// newSQLConnector creates a generic SQL connector.
func newSQLConnector(driverName, dsn string, o Options) (*sqlConnector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlConnector{driverName: driverName, db: db, opts: o}, nil
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// Query opens a cursor. The query timeout stays armed until the source is closed.
func (c *sqlConnector) Query(ctx context.Context, query string) (table.Source, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, fmt.Errorf("columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		cancel()
		return nil, fmt.Errorf("column types: %w", err)
	}

	kinds := make([]columnKind, len(types))
	for i, ct := range types {
		kinds[i] = classifyColumn(ct.DatabaseTypeName())
	}
	return &sqlSource{rows: rows, cols: cols, kinds: kinds, cancel: cancel}, nil
}

// columnKind tells the decoder how to read driver values that arrive as []byte.
type columnKind uint8

const (
	columnText columnKind = iota
	columnDecimal
	columnBinary
	columnUUID
	columnGUID // SQL Server UNIQUEIDENTIFIER
)

func classifyColumn(dbType string) columnKind {
	switch strings.ToUpper(dbType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return columnDecimal
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BYTEA", "BINARY", "VARBINARY", "IMAGE":
		return columnBinary
	case "UUID":
		return columnUUID
	case "UNIQUEIDENTIFIER":
		return columnGUID
	default:
		return columnText
	}
}

// decodeColumn converts one scanned driver value into a table.Value.
func decodeColumn(kind columnKind, v any) table.Value {
	b, ok := v.([]byte)
	if !ok {
		return table.FromSQL(v)
	}
	switch kind {
	case columnDecimal:
		return table.Decimal(string(b))
	case columnBinary:
		return table.Binary(append([]byte(nil), b...))
	case columnUUID:
		if id, err := uuid.ParseBytes(b); err == nil {
			return table.UUID(id)
		}
		if id, err := uuid.FromBytes(b); err == nil {
			return table.UUID(id)
		}
	case columnGUID:
		if id, err := mssqlUniqueIdentifier(b); err == nil {
			return table.UUID(id)
		}
	}
	return table.FromSQL(v)
}

// sqlSource streams *sql.Rows as positional records.
type sqlSource struct {
	mu     sync.Mutex
	rows   *sql.Rows
	cols   []string
	kinds  []columnKind
	cancel context.CancelFunc
	closed bool
}

func (s *sqlSource) Columns() []string { return s.cols }

func (s *sqlSource) Next(ctx context.Context) (table.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return table.Record{}, table.ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return table.Record{}, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return table.Record{}, fmt.Errorf("iterate: %w", err)
		}
		return table.Record{}, io.EOF
	}

	raw := make([]any, len(s.cols))
	ptrs := make([]any, len(s.cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return table.Record{}, fmt.Errorf("scan row: %w", err)
	}

	vals := make([]table.Value, len(raw))
	for i, v := range raw {
		vals[i] = decodeColumn(s.kinds[i], v)
	}
	return table.Positional(vals...), nil
}

func (s *sqlSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.rows.Close()
	s.cancel()
	return err
}

func (c *sqlConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch c.driverName {
	case "sqlite":
		return c.introspectSQLite(ctx)
	default:
		return c.introspectInfoSchema(ctx)
	}
}

// tablesQuery lists user tables for each INFORMATION_SCHEMA dialect.
func (c *sqlConnector) tablesQuery() string {
	switch c.driverName {
	case "mysql":
		return `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = DATABASE() ORDER BY TABLE_NAME`
	case "postgres":
		return `SELECT table_name FROM information_schema.tables
		 WHERE table_schema = current_schema() ORDER BY table_name`
	default:
		return `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`
	}
}

// placeholder returns the driver's positional parameter marker.
func (c *sqlConnector) placeholder(n int) string {
	switch c.driverName {
	case "postgres":
		return fmt.Sprintf("$%d", n)
	case "sqlserver":
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// introspectInfoSchema works for MySQL, Postgres and SQL Server via INFORMATION_SCHEMA.
func (c *sqlConnector) introspectInfoSchema(ctx context.Context) (*SchemaInfo, error) {
	rows, err := c.db.QueryContext(ctx, c.tablesQuery())
	if err != nil {
		// Fallback: try without schema filter
		rows, err = c.db.QueryContext(ctx,
			`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES ORDER BY TABLE_NAME`)
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
	}
	tableNames, err := scanNames(rows)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	colsQuery := fmt.Sprintf(`SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_NAME = %s ORDER BY ORDINAL_POSITION`, c.placeholder(1))

	schema := &SchemaInfo{}
	for _, tbl := range tableNames {
		colRows, err := c.db.QueryContext(ctx, colsQuery, tbl)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: tbl})
			continue
		}

		var cols []ColumnInfo
		for colRows.Next() {
			var ci ColumnInfo
			if err := colRows.Scan(&ci.Name, &ci.Type); err != nil {
				continue
			}
			cols = append(cols, ci)
		}
		colRows.Close()

		schema.Tables = append(schema.Tables, TableInfo{Name: tbl, Columns: cols})
	}

	return schema, nil
}

// introspectSQLite uses sqlite_master + PRAGMA table_info.
func (c *sqlConnector) introspectSQLite(ctx context.Context) (*SchemaInfo, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	tableNames, err := scanNames(rows)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	schema := &SchemaInfo{}
	for _, tbl := range tableNames {
		pragmaRows, err := c.db.QueryContext(ctx,
			fmt.Sprintf("PRAGMA table_info('%s')", strings.ReplaceAll(tbl, "'", "''")))
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: tbl})
			continue
		}

		var cols []ColumnInfo
		for pragmaRows.Next() {
			var cid int
			var name, colType string
			var notNull, pk int
			var dfltValue sql.NullString
			if err := pragmaRows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
				continue
			}
			cols = append(cols, ColumnInfo{Name: name, Type: colType})
		}
		pragmaRows.Close()

		schema.Tables = append(schema.Tables, TableInfo{Name: tbl, Columns: cols})
	}

	return schema, nil
}

func scanNames(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (c *sqlConnector) Close() error {
	return c.db.Close()
}
