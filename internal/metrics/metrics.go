// Package metrics records run-level counters for extraction and delivery.
//
// Callers use the package functions; a concrete backend is installed once at
// startup with SetBackend. Until then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is implemented by concrete metric systems.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveDuration(name string, seconds float64, labels Labels)
	// Flush pushes buffered metrics, for backends that need it.
	Flush() error
}

// Metric names shared by all backends.
const (
	StepTotal    = "extractor_step_total"
	StepDuration = "extractor_step_duration_seconds"
	RowsTotal    = "extractor_rows_total"
	BatchesTotal = "extractor_batches_total"
)

// Row kinds used with RecordRows.
const (
	RowsExtracted   = "extracted"
	RowsUnsupported = "unsupported_cells"
	RowsDropped     = "dropped_fields"
	RowsDelivered   = "delivered"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)      {}
func (nopBackend) ObserveDuration(string, float64, Labels) {}
func (nopBackend) Flush() error                            { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the installed backend.
func Flush() error { return current().Flush() }

// RecordStep counts one pipeline step and its latency.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveDuration(StepDuration, d.Seconds(), lbls)
}

// RecordRows adds n to the row counter of the given kind.
func RecordRows(job, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordBatch counts one delivered, soft-failed or hard-failed batch.
func RecordBatch(job, status string) {
	current().IncCounter(BatchesTotal, 1, Labels{"job": job, "status": status})
}
