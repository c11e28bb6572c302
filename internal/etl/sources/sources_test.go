package sources_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"extractor/internal/dbclient"
	"extractor/internal/domain"
	"extractor/internal/etl"
	"extractor/internal/etl/sources"
	"extractor/internal/export"
	"extractor/internal/table"

	"github.com/google/go-cmp/cmp"
)

func extract(t *testing.T, typ string, cfg etl.SourceConfig) (*table.Table, table.Stats) {
	t.Helper()
	tbl, stats, err := (&etl.Engine{}).Extract(context.Background(), typ, cfg)
	if err != nil {
		t.Fatalf("Extract(%s): %v", typ, err)
	}
	return tbl, stats
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ─────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────

func TestBuiltinSourcesRegistered(t *testing.T) {
	for _, typ := range []string{
		"csv_file", "json_file", "xlsx_file", "http", "database",
		"postgres", "mysql", "sqlite", "mssql", "mongodb", "redis", "elasticsearch",
	} {
		if _, err := etl.GetSource(typ); err != nil {
			t.Errorf("source %q not registered: %v", typ, err)
		}
	}
}

func TestEngineSources_EnvFallback(t *testing.T) {
	src, err := etl.GetSource("postgres")
	if err != nil {
		t.Fatal(err)
	}
	env := map[string]string{"POSTGRES_URL": "postgres://u:p@h/db", "POSTGRES_QUERY": "select 1"}
	cfg := etl.ApplyEnvDefaults(src.Spec(), nil, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.String("url") != env["POSTGRES_URL"] || cfg.String("query") != env["POSTGRES_QUERY"] {
		t.Errorf("cfg = %v", cfg)
	}
}

func TestEngineSources_RequiredFields(t *testing.T) {
	_, _, err := (&etl.Engine{}).Extract(context.Background(), "mongodb", etl.SourceConfig{"url": "mongodb://localhost"})
	if err == nil || !strings.Contains(err.Error(), "database is required") {
		t.Errorf("err = %v", err)
	}
}

// ─────────────────────────────────────────────────────────────
// CSV
// ─────────────────────────────────────────────────────────────

func TestCSVFile_HeaderKeptVerbatim(t *testing.T) {
	path := writeFile(t, "in.csv", "\ufeffid,name,name\n1,ada,x\n2,\"b,ob\",y\n")
	tbl, stats := extract(t, "csv_file", etl.SourceConfig{"filePath": path})

	want := &table.Table{
		Headers: []string{"id", "name", "name_2"},
		Rows:    [][]string{{"1", "ada", "x"}, {"2", "b,ob", "y"}},
	}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Errorf("table (-want +got):\n%s", diff)
	}
	if stats.Rows != 2 {
		t.Errorf("rows = %d", stats.Rows)
	}
}

func TestCSVFile_NoHeader(t *testing.T) {
	path := writeFile(t, "in.csv", "a;b\nc;d\n")
	tbl, _ := extract(t, "csv_file", etl.SourceConfig{"filePath": path, "delimiter": ";", "hasHeader": "false"})

	want := &table.Table{
		Headers: []string{"Column1", "Column2"},
		Rows:    [][]string{{"a", "b"}, {"c", "d"}},
	}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Errorf("table (-want +got):\n%s", diff)
	}
}

func TestCSVFile_Empty(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	tbl, stats := extract(t, "csv_file", etl.SourceConfig{"filePath": path})
	if tbl.Len() != 0 || stats.Rows != 0 {
		t.Errorf("expected empty table, got %+v", tbl)
	}
}

func TestCSVFile_Missing(t *testing.T) {
	_, _, err := (&etl.Engine{}).Extract(context.Background(), "csv_file",
		etl.SourceConfig{"filePath": filepath.Join(t.TempDir(), "nope.csv")})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// ─────────────────────────────────────────────────────────────
// JSON
// ─────────────────────────────────────────────────────────────

func TestJSONFile_DataPath(t *testing.T) {
	path := writeFile(t, "in.json", `{"data":{"items":[
		{"id": 9007199254740993, "tags": ["a","b"], "ok": true},
		{"id": 2, "price": 1.5, "ok": null}
	]}}`)
	tbl, stats := extract(t, "json_file", etl.SourceConfig{"filePath": path, "dataPath": "data.items"})

	want := &table.Table{
		Headers: []string{"id", "ok", "tags"},
		Rows: [][]string{
			{"9007199254740993", "true", `["a", "b"]`},
			{"2", "", ""},
		},
	}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Errorf("table (-want +got):\n%s", diff)
	}
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1 (price)", stats.Dropped)
	}
}

func TestJSONFile_BadPath(t *testing.T) {
	path := writeFile(t, "in.json", `{"data":[]}`)
	_, _, err := (&etl.Engine{}).Extract(context.Background(), "json_file",
		etl.SourceConfig{"filePath": path, "dataPath": "rows"})
	if err == nil || !strings.Contains(err.Error(), "invalid data path") {
		t.Errorf("err = %v", err)
	}
}

func TestJSONFile_Scalar(t *testing.T) {
	path := writeFile(t, "in.json", `42`)
	if _, _, err := (&etl.Engine{}).Extract(context.Background(), "json_file", etl.SourceConfig{"filePath": path}); err == nil {
		t.Fatal("expected error for scalar document")
	}
}

// ─────────────────────────────────────────────────────────────
// XLSX
// ─────────────────────────────────────────────────────────────

func TestXLSXFile_RoundTrip(t *testing.T) {
	in := &table.Table{
		Headers: []string{"sku", "qty"},
		Rows:    [][]string{{"A-1", "3"}, {"B-2", ""}, {"C-3", "7"}},
	}
	path := filepath.Join(t.TempDir(), "in.xlsx")
	if err := export.WriteXLSX(path, in); err != nil {
		t.Fatal(err)
	}

	tbl, _ := extract(t, "xlsx_file", etl.SourceConfig{"filePath": path})
	if diff := cmp.Diff(in.Headers, tbl.Headers); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
	if tbl.Len() != 3 || tbl.Rows[0][0] != "A-1" || tbl.Rows[2][1] != "7" {
		t.Errorf("rows = %v", tbl.Rows)
	}
}

func TestXLSXFile_UnknownSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.xlsx")
	if err := export.WriteXLSX(path, &table.Table{Headers: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	_, _, err := (&etl.Engine{}).Extract(context.Background(), "xlsx_file",
		etl.SourceConfig{"filePath": path, "sheet": "Nope"})
	if err == nil {
		t.Fatal("expected error for unknown sheet")
	}
}

// ─────────────────────────────────────────────────────────────
// HTTP
// ─────────────────────────────────────────────────────────────

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{"rows":[{"a":1,"b":"x"},{"a":2,"b":{"n":1}}]}}`)
	}))
	defer srv.Close()

	tbl, _ := extract(t, "http", etl.SourceConfig{
		"url":      srv.URL,
		"headers":  `{"X-Api-Key":"k"}`,
		"dataPath": "result.rows",
	})
	want := &table.Table{
		Headers: []string{"a", "b"},
		Rows:    [][]string{{"1", "x"}, {"2", `{"n": 1}`}},
	}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Errorf("table (-want +got):\n%s", diff)
	}
}

func TestHTTPSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := (&etl.Engine{}).Extract(context.Background(), "http", etl.SourceConfig{"url": srv.URL})
	if err == nil || !strings.Contains(err.Error(), "http 404") {
		t.Errorf("err = %v", err)
	}
}

func TestHTTPSource_BadHeaders(t *testing.T) {
	_, _, err := (&etl.Engine{}).Extract(context.Background(), "http",
		etl.SourceConfig{"url": "http://127.0.0.1:1", "headers": "not json"})
	if err == nil || !strings.Contains(err.Error(), "headers") {
		t.Errorf("err = %v", err)
	}
}

// ─────────────────────────────────────────────────────────────
// Databases
// ─────────────────────────────────────────────────────────────

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, s := range []string{
		`CREATE TABLE orders (id INTEGER, customer TEXT, total REAL)`,
		`INSERT INTO orders VALUES (1, 'acme', 12.5), (2, 'globex', NULL)`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	return path
}

func TestSQLiteEngineSource(t *testing.T) {
	path := seedSQLite(t)
	tbl, _ := extract(t, "sqlite", etl.SourceConfig{
		"url":   "sqlite://" + path,
		"query": "SELECT id, customer, total FROM orders ORDER BY id",
	})
	want := &table.Table{
		Headers: []string{"id", "customer", "total"},
		Rows:    [][]string{{"1", "acme", "12.5"}, {"2", "globex", ""}},
	}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Errorf("table (-want +got):\n%s", diff)
	}
}

type fakeProvider struct {
	conns map[string]*domain.DatabaseConnection
}

func (p *fakeProvider) Connector(ctx context.Context, id string) (dbclient.Connector, error) {
	c, ok := p.conns[id]
	if !ok {
		return nil, errors.New("connection not found")
	}
	return dbclient.NewConnector(c, "")
}

func TestDatabaseSource(t *testing.T) {
	path := seedSQLite(t)
	sources.SetConnectorProvider(&fakeProvider{conns: map[string]*domain.DatabaseConnection{
		"c1": {ID: "c1", Driver: domain.DatabaseDriverSQLite, Host: path},
	}})
	defer sources.SetConnectorProvider(nil)

	tbl, _ := extract(t, "database", etl.SourceConfig{
		"connectionId": "c1",
		"query":        "SELECT customer FROM orders WHERE id = 1",
	})
	if diff := cmp.Diff([][]string{{"acme"}}, tbl.Rows); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}

	_, _, err := (&etl.Engine{}).Extract(context.Background(), "database",
		etl.SourceConfig{"connectionId": "missing", "query": "select 1"})
	if err == nil {
		t.Error("expected error for unknown connection")
	}
}

func TestDatabaseSource_NoProvider(t *testing.T) {
	sources.SetConnectorProvider(nil)
	_, _, err := (&etl.Engine{}).Extract(context.Background(), "database",
		etl.SourceConfig{"connectionId": "c1", "query": "select 1"})
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("err = %v", err)
	}
}
