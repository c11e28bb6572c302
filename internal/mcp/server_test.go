package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "extractor/internal/etl/sources"
	"extractor/internal/service"
	"extractor/internal/storage"

	"github.com/google/go-cmp/cmp"
	"github.com/mark3labs/mcp-go/mcp"
)

func newTestServer(t *testing.T) (*Server, *storage.DB) {
	t.Helper()
	db, err := storage.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	etlSvc := service.NewETLService(storage.NewETLStore(db), nil, &service.MockEmitter{})
	return New(Deps{Emitter: &service.MockEmitter{}, ETL: etlSvc}), db
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Content[0])
	}
	return tc.Text
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ─────────────────────────────────────────────────────────────
// Tools
// ─────────────────────────────────────────────────────────────

func TestPreviewSource(t *testing.T) {
	s, _ := newTestServer(t)
	path := writeCSV(t, "name,age\nada,36\nalan,41\ngrace,85\n")

	res, err := s.handlePreviewSource(context.Background(), call(map[string]any{
		"sourceType":       "csv_file",
		"sourceConfigJSON": map[string]any{"filePath": path},
		"maxRows":          float64(2),
	}))
	if err != nil {
		t.Fatal(err)
	}
	var got service.PreviewResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"name", "age"}, got.Table.Headers); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
	if len(got.Table.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(got.Table.Rows))
	}
}

func TestPreviewSource_MissingArgs(t *testing.T) {
	s, _ := newTestServer(t)
	if _, err := s.handlePreviewSource(context.Background(), call(map[string]any{"sourceType": "csv_file"})); err == nil {
		t.Error("expected error without sourceConfigJSON")
	}
}

func TestExtractTable_WritesHistory(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	path := writeCSV(t, "name\nada\nalan\n")
	out := filepath.Join(t.TempDir(), "out.csv")

	res, err := s.handleExtractTable(ctx, call(map[string]any{
		"sourceType":       "csv_file",
		"sourceConfigJSON": `{"filePath":"` + path + `"}`,
		"outputPath":       out,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(t, res), `"status": "success"`) {
		t.Errorf("result = %s", resultText(t, res))
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output not written: %v", err)
	}

	res, err = s.handleListHistory(ctx, call(map[string]any{"limit": float64(5)}))
	if err != nil {
		t.Fatal(err)
	}
	var page service.HistoryPage
	if err := json.Unmarshal([]byte(resultText(t, res)), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Entries[0].RowsRead != 2 || page.Entries[0].JobID != "" {
		t.Errorf("history = %+v", page)
	}
}

func TestUploadTable_Rejected(t *testing.T) {
	s, _ := newTestServer(t)
	s.approval.SetTimeout(10 * time.Millisecond)

	res, err := s.handleUploadTable(context.Background(), call(map[string]any{
		"sourceType":       "csv_file",
		"sourceConfigJSON": `{"filePath":"unused.csv"}`,
		"targetId":         "t1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res); got != "Action rejected by user" {
		t.Errorf("result = %q", got)
	}
	page, _ := s.etl.ListHistory(10, 0)
	if page.Total != 0 {
		t.Errorf("rejected upload left %d history entries", page.Total)
	}
}

func TestUploadTable_UnresolvableTargetIsRecorded(t *testing.T) {
	s, _ := newTestServer(t)
	s.approval.SetAutoApprove(true)
	path := writeCSV(t, "name\nada\n")

	res, err := s.handleUploadTable(context.Background(), call(map[string]any{
		"sourceType":       "csv_file",
		"sourceConfigJSON": map[string]any{"filePath": path},
		"targetId":         "missing",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(t, res), `"status": "error"`) {
		t.Errorf("result = %s", resultText(t, res))
	}
	page, _ := s.etl.ListHistory(10, 0)
	if page.Total != 1 || page.Entries[0].Status != "error" {
		t.Errorf("history = %+v", page)
	}
}

func TestCreateAndListJobs(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	path := writeCSV(t, "a\n1\n")

	_, err := s.handleCreateJob(ctx, call(map[string]any{
		"name":             "nightly",
		"sourceType":       "csv_file",
		"sourceConfigJSON": map[string]any{"filePath": path},
		"transformsJSON":   []any{map[string]any{"type": "limit", "config": map[string]any{"count": "1"}}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.handleCreateJob(ctx, call(map[string]any{
		"name":             "broken",
		"sourceType":       "csv_file",
		"sourceConfigJSON": `{}`,
		"triggerType":      "schedule",
		"triggerConfig":    "every day",
	})); err == nil {
		t.Error("expected error for a bad cron expression")
	}

	res, err := s.handleListJobs(ctx, call(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(t, res), `"name": "nightly"`) {
		t.Errorf("jobs = %s", resultText(t, res))
	}
}

func TestRunJob_ManualWithoutTargetSkipsApproval(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	path := writeCSV(t, "a\n1\n2\n")

	job, err := s.etl.CreateJob(ctx, service.CreateETLJobInput{
		Name:         "local",
		SourceType:   "csv_file",
		SourceConfig: map[string]any{"filePath": path},
		Enabled:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.handleRunJob(ctx, call(map[string]any{"jobId": job.ID}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(t, res), `"rowsRead": 2`) {
		t.Errorf("result = %s", resultText(t, res))
	}
}

// ─────────────────────────────────────────────────────────────
// Approval queue
// ─────────────────────────────────────────────────────────────

func TestApproval_AutoApprove(t *testing.T) {
	q := NewApprovalQueue(&service.MockEmitter{})
	q.SetAutoApprove(true)
	ok, err := q.Request(context.Background(), "run_job", "run")
	if !ok || err != nil {
		t.Errorf("Request = %v, %v", ok, err)
	}
}

func TestApproval_InProcess(t *testing.T) {
	em := &service.MockEmitter{}
	q := NewApprovalQueue(em)

	done := make(chan bool, 1)
	go func() {
		ok, _ := q.Request(context.Background(), "run_job", "run")
		done <- ok
	}()

	// Wait for the request to register.
	var id string
	for i := 0; i < 100 && id == ""; i++ {
		if p := q.Pending(); len(p) == 1 {
			id = p[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("request never became pending")
	}
	q.Approve(id)

	select {
	case ok := <-done:
		if !ok {
			t.Error("expected approval")
		}
	case <-time.After(time.Second):
		t.Fatal("Request did not return")
	}
	if events := em.Snapshot(); len(events) == 0 || events[0].Event != "mcp:approval-required" {
		t.Errorf("events = %+v", events)
	}
}

func TestApproval_Timeout(t *testing.T) {
	q := NewApprovalQueue(&service.MockEmitter{})
	q.SetTimeout(20 * time.Millisecond)
	ok, err := q.Request(context.Background(), "run_job", "run")
	if ok || err == nil {
		t.Errorf("Request = %v, %v; want timeout", ok, err)
	}
}

func TestApproval_Store(t *testing.T) {
	db, err := storage.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := storage.NewApprovalStore(db)

	q := NewApprovalQueue(&service.MockEmitter{})
	q.SetStore(store)
	q.poll = 5 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := q.Request(context.Background(), "run_job", "run")
		done <- err
	}()

	var pending []storage.Approval
	for i := 0; i < 100 && len(pending) == 0; i++ {
		pending, _ = store.ListPending()
		time.Sleep(5 * time.Millisecond)
	}
	if len(pending) != 1 {
		t.Fatal("approval never stored")
	}
	if err := store.Resolve(pending[0].ID, false); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "rejected") {
			t.Errorf("err = %v, want rejection", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Request did not return")
	}
	if left, _ := store.ListPending(); len(left) != 0 {
		t.Errorf("approval not cleaned up: %+v", left)
	}
}

func TestJobIDFromURI(t *testing.T) {
	tests := map[string]string{
		"extractor://job/abc-123/runs": "abc-123",
		"extractor://job//runs":        "",
		"extractor://job/a/b/runs":     "",
		"extractor://jobs":             "",
	}
	for uri, want := range tests {
		if got := jobIDFromURI(uri); got != want {
			t.Errorf("jobIDFromURI(%q) = %q, want %q", uri, got, want)
		}
	}
}
