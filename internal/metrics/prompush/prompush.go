// Package prompush is a Prometheus Pushgateway backend for the metrics
// package. A CLI run is short-lived, so metrics are pushed on Flush rather
// than scraped.
package prompush

import (
	"fmt"

	"extractor/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend collects into a private registry and pushes it on Flush.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
	batches  *prometheus.CounterVec
}

// NewBackend builds a backend pushing to gatewayURL under the given job name.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "extractor"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions by step and status.",
		}, []string{"source", "step", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDuration,
			Help:    "Pipeline step latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"source", "step", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Row-level counts by kind (extracted, delivered, ...).",
		}, []string{"source", "kind"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Upload batches by outcome.",
		}, []string{"source", "status"}),
	}

	for _, c := range []prometheus.Collector{b.steps, b.duration, b.rows, b.batches} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}
	return b, nil
}

// The "job" label from the metrics package becomes "source" here; the
// Pushgateway reserves "job" for its grouping key.

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	src := labels["job"]
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(src, labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(src, labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batches.WithLabelValues(src, labels["status"]).Add(delta)
	}
}

func (b *Backend) ObserveDuration(name string, seconds float64, labels metrics.Labels) {
	if name != metrics.StepDuration {
		return
	}
	b.duration.WithLabelValues(labels["job"], labels["step"], labels["status"]).Observe(seconds)
}

// Flush pushes the registry to the gateway, replacing the job's group.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
