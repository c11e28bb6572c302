package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"extractor/internal/etl"
	_ "extractor/internal/etl/sources"
	"extractor/internal/secret"
	"extractor/internal/service"
	"extractor/internal/storage"
	"extractor/internal/table"
	"extractor/internal/upload"
)

// ─────────────────────────────────────────────────────────────
// ETLService unit tests
// ─────────────────────────────────────────────────────────────

func TestETLService_NewETLService(t *testing.T) {
	// NewETLService should return non-nil value with no store (nil-safe check)
	emitter := &service.MockEmitter{}
	svc := service.NewETLService(nil, nil, emitter)
	if svc == nil {
		t.Fatal("expected non-nil ETLService")
	}
}

func TestETLService_WaitRunning_Immediate(t *testing.T) {
	// With no running jobs, WaitRunning should return immediately
	emitter := &service.MockEmitter{}
	svc := service.NewETLService(nil, nil, emitter)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		svc.WaitRunning(ctx)
		close(done)
	}()

	select {
	case <-done:
		// expected: no jobs running
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitRunning hung with no running jobs")
	}
}

func TestETLService_Stop_Idempotent(t *testing.T) {
	// Stop with nothing started should not panic
	emitter := &service.MockEmitter{}
	svc := service.NewETLService(nil, nil, emitter)
	svc.Stop()
	svc.Stop() // second call should also be safe
}

// ─────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────

type fixture struct {
	db      *storage.DB
	etl     *service.ETLService
	targets *service.TargetService
	emitter *service.MockEmitter
	up      *recordingUploader
}

// recordingUploader delivers in memory. With reject set, the remote refuses
// every batch.
type recordingUploader struct {
	calls  int
	cfg    upload.Config
	reject bool
}

func (u *recordingUploader) Deliver(ctx context.Context, t *table.Table, fm upload.FieldMap) (*upload.Summary, error) {
	u.calls++
	s := &upload.Summary{TotalRows: t.Len(), TotalBatches: 1}
	if u.reject {
		s.Batches = []upload.BatchResult{{Index: 0, Rows: t.Len(), Status: upload.BatchSoftFailed}}
		return s, nil
	}
	s.Delivered = t.Len()
	s.Batches = []upload.BatchResult{{Index: 0, Rows: t.Len(), Delivered: t.Len(), Status: upload.BatchDelivered}}
	return s, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "extractor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	secrets := secret.NewEnvStoreWithLookup(func(string) (string, bool) { return "", false })
	f := &fixture{
		db:      db,
		targets: service.NewTargetService(storage.NewTargetStore(db), secrets, upload.Config{}),
		emitter: &service.MockEmitter{},
		up:      &recordingUploader{},
	}
	f.etl = service.NewETLService(storage.NewETLStore(db), f.targets, f.emitter)
	f.etl.LookupEnv = func(string) (string, bool) { return "", false }
	f.etl.SetUploaderFactory(func(cfg upload.Config, job string) (etl.Uploader, error) {
		f.up.cfg = cfg
		return f.up, nil
	})
	t.Cleanup(f.etl.Stop)
	return f
}

func writeCSV(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (f *fixture) createTarget(t *testing.T) string {
	t.Helper()
	tg, err := f.targets.CreateTarget(service.CreateTargetInput{
		Name:        "sales",
		BaseURL:     "https://sheets.example",
		DatasheetID: "dstSales",
		Token:       "tok",
		FieldMap:    map[string]string{"name": "fldName"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return tg.ID
}

// ─────────────────────────────────────────────────────────────
// Jobs
// ─────────────────────────────────────────────────────────────

func TestETLService_CreateJobValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []service.CreateETLJobInput{
		{Name: "", SourceType: "csv_file"},
		{Name: "x", SourceType: "nope"},
		{Name: "x", SourceType: "csv_file", OutputPath: "out.parquet"},
		{Name: "x", SourceType: "csv_file", TriggerType: "schedule", TriggerConfig: "not cron"},
		{Name: "x", SourceType: "csv_file", TriggerType: "file_watch"},
		{Name: "x", SourceType: "csv_file", TriggerType: "webhook"},
		{Name: "x", SourceType: "csv_file", Transforms: []etl.TransformConfig{{Type: "bogus"}}},
	}
	for i, in := range cases {
		if _, err := f.etl.CreateJob(ctx, in); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, in)
		}
	}

	job, err := f.etl.CreateJob(ctx, service.CreateETLJobInput{Name: "ok", SourceType: "csv_file", TriggerType: "schedule", TriggerConfig: "*/5 * * * *", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.TriggerType != "schedule" {
		t.Errorf("job = %+v", job)
	}
}

func TestETLService_RunJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	csvPath := writeCSV(t, dir, "name,qty\nada,1\nbob,2\n")
	outPath := filepath.Join(dir, "out", "copy.xlsx")

	job, err := f.etl.CreateJob(ctx, service.CreateETLJobInput{
		Name:         "copy",
		SourceType:   "csv_file",
		SourceConfig: map[string]any{"filePath": csvPath},
		OutputPath:   outPath,
		TargetID:     f.createTarget(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.etl.RunJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if res.Status != etl.StatusSuccess || res.RowsRead != 2 || res.RowsDelivered != 2 {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("output file not written: %v", err)
	}
	if f.up.cfg.Token != "tok" || f.up.cfg.DatasheetID != "dstSales" {
		t.Errorf("uploader config = %+v", f.up.cfg)
	}

	saved, _ := f.etl.GetJob(job.ID)
	if saved.LastStatus != etl.StatusSuccess {
		t.Errorf("LastStatus = %q", saved.LastStatus)
	}

	events := f.emitter.Snapshot()
	if len(events) != 1 || events[0].Event != service.EventJobCompleted {
		t.Fatalf("events = %+v", events)
	}

	page, err := f.etl.ListHistory(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Entries[0].Target != "sales" || page.Entries[0].RowsDelivered != 2 || page.Entries[0].OutputPath != outPath {
		t.Errorf("history = %+v", page)
	}
}

func TestETLService_RunJobAllBatchesRejected(t *testing.T) {
	f := newFixture(t)
	f.up.reject = true
	ctx := context.Background()
	csvPath := writeCSV(t, t.TempDir(), "name\nada\n")

	job, err := f.etl.CreateJob(ctx, service.CreateETLJobInput{
		Name:         "rejected",
		SourceType:   "csv_file",
		SourceConfig: map[string]any{"filePath": csvPath},
		TargetID:     f.createTarget(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.etl.RunJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	// Every batch soft-failed: an error status, but no Go error.
	if res.Status != etl.StatusError || res.RowsRead != 1 || res.RowsDelivered != 0 {
		t.Errorf("result = %+v", res)
	}
	logs, _ := f.etl.ListRunLogs(job.ID)
	if len(logs) != 1 || logs[0].FailedBatches != 1 {
		t.Errorf("run logs = %+v", logs)
	}
}

func TestETLService_RunJobMissingTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.etl.CreateJob(ctx, service.CreateETLJobInput{
		Name:         "orphan",
		SourceType:   "csv_file",
		SourceConfig: map[string]any{"filePath": writeCSV(t, t.TempDir(), "a\n1\n")},
		TargetID:     "gone",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.etl.RunJob(ctx, job.ID)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if res.Status != etl.StatusError {
		t.Errorf("status = %q", res.Status)
	}
	if n, _ := storage.NewETLStore(f.db).CountHistory(); n != 1 {
		t.Errorf("failed run not recorded, history = %d", n)
	}
}

func TestETLService_RunAdhoc(t *testing.T) {
	f := newFixture(t)
	csvPath := writeCSV(t, t.TempDir(), "name\nada\nbob\ncy\n")

	res, err := f.etl.RunAdhoc(context.Background(), service.AdhocRun{
		SourceType: "csv_file",
		SourceCfg:  etl.SourceConfig{"filePath": csvPath},
		Transforms: []etl.TransformConfig{{Type: "limit", Config: map[string]any{"count": "2"}}},
		Target:     &etl.Target{Name: "inline", FieldMap: upload.FieldMap{"name": "fld"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsRead != 3 || res.RowsDelivered != 2 {
		t.Errorf("result = %+v", res)
	}

	page, _ := f.etl.ListHistory(10, 0)
	if page.Total != 1 || page.Entries[0].JobID != "" || page.Entries[0].Target != "inline" {
		t.Errorf("history = %+v", page)
	}
	if len(f.emitter.Snapshot()) != 0 {
		t.Error("ad-hoc runs should not emit job events")
	}
}

func TestETLService_RunAdhocEnvFallback(t *testing.T) {
	f := newFixture(t)
	csvPath := writeCSV(t, t.TempDir(), "a\n1\n")
	f.etl.LookupEnv = func(k string) (string, bool) {
		if k == "CSV_FILE_PATH" {
			return csvPath, true
		}
		return "", false
	}
	res, err := f.etl.RunAdhoc(context.Background(), service.AdhocRun{SourceType: "csv_file"})
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsRead != 1 {
		t.Errorf("RowsRead = %d", res.RowsRead)
	}
}

func TestETLService_PreviewSource(t *testing.T) {
	f := newFixture(t)
	csvPath := writeCSV(t, t.TempDir(), "a\n1\n2\n3\n")
	res, err := f.etl.PreviewSource(context.Background(), "csv_file", `{"filePath":"`+filepath.ToSlash(csvPath)+`"}`, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Table.Len() != 2 || res.Stats.Rows != 3 {
		t.Errorf("preview = %+v", res)
	}

	if _, err := f.etl.PreviewSource(context.Background(), "csv_file", "{", 2); err == nil || !strings.Contains(err.Error(), "parse source config") {
		t.Errorf("err = %v", err)
	}
}

func TestETLService_FileWatchTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	csvPath := writeCSV(t, dir, "a\n1\n")

	job, err := f.etl.CreateJob(ctx, service.CreateETLJobInput{
		Name:          "watched",
		SourceType:    "csv_file",
		SourceConfig:  map[string]any{"filePath": csvPath},
		TriggerType:   "file_watch",
		TriggerConfig: csvPath,
		Enabled:       true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(csvPath, []byte("a\n1\n2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if logs, _ := f.etl.ListRunLogs(job.ID); len(logs) > 0 {
			if logs[0].RowsRead != 2 {
				t.Errorf("RowsRead = %d, want 2", logs[0].RowsRead)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("file change did not trigger a run")
}
