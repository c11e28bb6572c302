package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"extractor/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewBackend(t *testing.T) {
	if _, err := NewBackend("extractor", ""); err == nil {
		t.Fatal("expected error without a gateway URL")
	}
	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatal(err)
	}
	if b.jobName != "extractor" {
		t.Errorf("jobName = %q, want extractor", b.jobName)
	}
}

func TestIncCounter_RoutesByName(t *testing.T) {
	b, err := NewBackend("extractor", "http://pushgateway:9091")
	if err != nil {
		t.Fatal(err)
	}

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"job": "csv_file", "step": "extract", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 7, metrics.Labels{"job": "csv_file", "kind": metrics.RowsDelivered})
	b.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"job": "csv_file", "status": "delivered"})
	b.IncCounter("unknown_metric", 99, metrics.Labels{"job": "csv_file"})

	if got := testutil.ToFloat64(b.steps.WithLabelValues("csv_file", "extract", "success")); got != 2 {
		t.Errorf("steps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.rows.WithLabelValues("csv_file", metrics.RowsDelivered)); got != 7 {
		t.Errorf("rows = %v, want 7", got)
	}
	if got := testutil.ToFloat64(b.batches.WithLabelValues("csv_file", "delivered")); got != 1 {
		t.Errorf("batches = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(b.batches); n != 1 {
		t.Errorf("batch series = %d, want 1", n)
	}
}

func TestObserveDuration_IgnoresOtherNames(t *testing.T) {
	b, err := NewBackend("extractor", "http://pushgateway:9091")
	if err != nil {
		t.Fatal(err)
	}
	b.ObserveDuration("other_metric", 1, metrics.Labels{"job": "x"})
	if n := testutil.CollectAndCount(b.duration); n != 0 {
		t.Errorf("duration series = %d, want 0", n)
	}
	b.ObserveDuration(metrics.StepDuration, 0.5, metrics.Labels{"job": "x", "step": "upload", "status": "success"})
	if n := testutil.CollectAndCount(b.duration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestFlush_PushesToGateway(t *testing.T) {
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		method, path, body = r.Method, r.URL.Path, string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := NewBackend("extractor", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"job": "http", "kind": metrics.RowsExtracted})

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodPut {
		t.Errorf("method = %s, want PUT", method)
	}
	if !strings.HasSuffix(path, "/job/extractor") {
		t.Errorf("path = %s", path)
	}
	if body == "" {
		t.Error("push body is empty")
	}
}

func TestFlush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("extractor", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(); err == nil {
		t.Fatal("expected push error")
	}
}
