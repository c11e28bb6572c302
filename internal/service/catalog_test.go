package service_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"extractor/internal/secret"
	"extractor/internal/service"
	"extractor/internal/storage"
	"extractor/internal/upload"

	_ "modernc.org/sqlite"
)

func memSecrets() *secret.EnvStore {
	return secret.NewEnvStoreWithLookup(func(string) (string, bool) { return "", false })
}

// ─────────────────────────────────────────────────────────────
// ConnectionService
// ─────────────────────────────────────────────────────────────

func seedSQLiteFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE t (id INTEGER, label TEXT)`); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConnectionService(t *testing.T) {
	db, err := storage.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	secrets := memSecrets()
	svc := service.NewConnectionService(storage.NewDBConnectionStore(db), secrets)
	defer svc.Close()
	ctx := context.Background()

	if _, err := svc.CreateConnection(service.CreateDBConnInput{Name: "x", Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}

	conn, err := svc.CreateConnection(service.CreateDBConnInput{
		Name:     "local",
		Driver:   "sqlite",
		Host:     seedSQLiteFile(t),
		Password: "unused",
	})
	if err != nil {
		t.Fatal(err)
	}
	if pw, _ := secrets.Get("db:" + conn.ID); string(pw) != "unused" {
		t.Errorf("password not stored under db:<id>: %q", pw)
	}

	if err := svc.TestConnection(ctx, conn.ID); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	schema, err := svc.Introspect(ctx, conn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(schema.Tables) != 1 || schema.Tables[0].Name != "t" || len(schema.Tables[0].Columns) != 2 {
		t.Errorf("schema = %+v", schema)
	}

	a, _ := svc.Connector(ctx, conn.ID)
	b, _ := svc.Connector(ctx, conn.ID)
	if a != b {
		t.Error("connector should be cached per connection id")
	}

	if err := svc.DeleteConnection(conn.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Connector(ctx, conn.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if pw, _ := secrets.Get("db:" + conn.ID); pw != nil {
		t.Error("password not deleted with the connection")
	}
}

// ─────────────────────────────────────────────────────────────
// TargetService
// ─────────────────────────────────────────────────────────────

func TestTargetService(t *testing.T) {
	db, err := storage.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	secrets := memSecrets()
	defaults := upload.Config{RetryMax: 2, BatchSize: 500}
	svc := service.NewTargetService(storage.NewTargetStore(db), secrets, defaults)
	ctx := context.Background()

	_, err = svc.CreateTarget(service.CreateTargetInput{Name: "bad", BaseURL: "https://x", DatasheetID: "sheet1", Token: "t"})
	if !errors.Is(err, upload.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
	_, err = svc.CreateTarget(service.CreateTargetInput{Name: "notoken", BaseURL: "https://x", DatasheetID: "dst1"})
	if !errors.Is(err, upload.ErrInvalidConfig) {
		t.Errorf("missing token: err = %v", err)
	}

	tg, err := svc.CreateTarget(service.CreateTargetInput{
		Name:        "sales",
		BaseURL:     "https://sheets.example",
		DatasheetID: "dstSales",
		Token:       "secret-token",
		FieldMap:    map[string]string{"name": "fld1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	saved, _ := svc.GetTarget(tg.ID)
	if saved.FieldMapJSON != `{"name":"fld1"}` {
		t.Errorf("FieldMapJSON = %q", saved.FieldMapJSON)
	}

	resolved, err := svc.ResolveTarget(ctx, tg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Config.Token != "secret-token" || resolved.Config.RetryMax != 2 || resolved.Config.BatchSize != 500 {
		t.Errorf("config = %+v", resolved.Config)
	}
	if resolved.FieldMap["name"] != "fld1" {
		t.Errorf("field map = %v", resolved.FieldMap)
	}

	// An update without a token keeps the stored one.
	if err := svc.UpdateTarget(tg.ID, service.CreateTargetInput{
		Name:        "sales",
		BaseURL:     "https://sheets.example",
		DatasheetID: "dstSales",
		BatchSize:   50,
	}); err != nil {
		t.Fatal(err)
	}
	resolved, _ = svc.ResolveTarget(ctx, tg.ID)
	if resolved.Config.Token != "secret-token" || resolved.Config.BatchSize != 50 {
		t.Errorf("after update: %+v", resolved.Config)
	}

	if err := svc.DeleteTarget(tg.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveTarget(ctx, tg.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if tok, _ := secrets.Get("target:" + tg.ID); tok != nil {
		t.Error("token not deleted with the target")
	}
}
