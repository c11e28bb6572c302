package etl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"extractor/internal/export"
	"extractor/internal/metrics"
	"extractor/internal/table"
	"extractor/internal/upload"
)

// ── SyncJob ────────────────────────────────────────────────
// Orchestrates: source.Open → table.Normalize → transforms → file / upload.

// Run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial" // some batches were rejected by the remote
	StatusError   = "error"
	StatusRunning = "running"
)

// SyncJob holds the configuration for a saved extraction job.
type SyncJob struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	SourceType    string            `json:"sourceType"`
	SourceCfg     SourceConfig      `json:"sourceConfig"`
	Transforms    []TransformConfig `json:"transforms,omitempty"`
	OutputPath    string            `json:"outputPath,omitempty"` // .csv or .xlsx; empty = no file
	TargetID      string            `json:"targetId,omitempty"`   // saved upload target; empty = no upload
	TriggerType   string            `json:"triggerType"`          // "manual" | "schedule" | "file_watch"
	TriggerConfig string            `json:"triggerConfig"`        // cron expression or watch path
	Enabled       bool              `json:"enabled"`
	LastRunAt     time.Time         `json:"lastRunAt"`
	LastStatus    string            `json:"lastStatus"` // "success" | "partial" | "error" | "running" | ""
	LastError     string            `json:"lastError"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// SyncResult is the outcome of running a sync job. RowsRead and
// RowsDelivered are always reported separately.
type SyncResult struct {
	JobID         string          `json:"jobId"`
	Status        string          `json:"status"`
	RowsRead      int             `json:"rowsRead"`
	RowsDelivered int             `json:"rowsDelivered"`
	Unsupported   int             `json:"unsupported"`
	Dropped       int             `json:"dropped"`
	OutputPath    string          `json:"outputPath,omitempty"`
	Summary       *upload.Summary `json:"summary,omitempty"`
	Duration      time.Duration   `json:"duration"`
	Error         string          `json:"error,omitempty"`
}

// SyncRunLog is a historical record of a run (one upload history entry).
type SyncRunLog struct {
	ID            string    `json:"id"`
	JobID         string    `json:"jobId,omitempty"` // empty for ad-hoc runs
	SourceType    string    `json:"sourceType"`
	Target        string    `json:"target,omitempty"`
	OutputPath    string    `json:"outputPath,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Status        string    `json:"status"`
	RowsRead      int       `json:"rowsRead"`
	RowsDelivered int       `json:"rowsDelivered"`
	TotalBatches  int       `json:"totalBatches"`
	FailedBatches int       `json:"failedBatches"`
	Error         string    `json:"error,omitempty"`
}

// NewRunLog fills a run log from a result.
func NewRunLog(id string, job *SyncJob, target string, started time.Time, res *SyncResult) *SyncRunLog {
	l := &SyncRunLog{
		ID:            id,
		JobID:         job.ID,
		SourceType:    job.SourceType,
		Target:        target,
		OutputPath:    res.OutputPath,
		StartedAt:     started,
		FinishedAt:    started.Add(res.Duration),
		Status:        res.Status,
		RowsRead:      res.RowsRead,
		RowsDelivered: res.RowsDelivered,
		Error:         res.Error,
	}
	if res.Summary != nil {
		l.TotalBatches = res.Summary.TotalBatches
		l.FailedBatches = len(res.Summary.FailedBatches())
	}
	return l
}

// ── Engine ─────────────────────────────────────────────────

// Engine runs sync jobs using the registered sources.
type Engine struct {
	// Targets resolves SyncJob.TargetID. Required only for jobs that upload.
	Targets TargetResolver
	// NewUploader defaults to NewPipelineUploader.
	NewUploader UploaderFactory
	// ExtractTimeout bounds reading the source. Zero means no limit.
	// Delivery is not covered: each upload request has its own timeout,
	// and a long upload only stops when ctx is cancelled.
	ExtractTimeout time.Duration
}

// Extract opens a source and drains it into a canonical table. A failure
// anywhere in extraction yields no table.
func (e *Engine) Extract(ctx context.Context, sourceType string, cfg SourceConfig) (*table.Table, table.Stats, error) {
	start := time.Now()
	source, err := GetSource(sourceType)
	if err != nil {
		return nil, table.Stats{}, err
	}

	src, err := source.Open(ctx, cfg)
	if err != nil {
		metrics.RecordStep(sourceType, "extract", err, time.Since(start))
		return nil, table.Stats{}, fmt.Errorf("open %s: %w", sourceType, err)
	}
	defer src.Close()

	t, stats, err := table.Normalize(ctx, src)
	metrics.RecordStep(sourceType, "extract", err, time.Since(start))
	if err != nil {
		return nil, table.Stats{}, fmt.Errorf("extract %s: %w", sourceType, err)
	}

	log.Printf("etl: extracted %d rows, %d columns from %s (%d unsupported cells, %d dropped fields)",
		stats.Rows, len(t.Headers), sourceType, stats.Unsupported, stats.Dropped)
	metrics.RecordRows(sourceType, metrics.RowsExtracted, stats.Rows)
	metrics.RecordRows(sourceType, metrics.RowsUnsupported, stats.Unsupported)
	metrics.RecordRows(sourceType, metrics.RowsDropped, stats.Dropped)
	return t, stats, nil
}

// RunSync executes a job end-to-end: extract, transform, then the optional
// file sink and the optional upload.
func (e *Engine) RunSync(ctx context.Context, job *SyncJob) (*SyncResult, error) {
	var target *Target
	if job.TargetID != "" {
		if e.Targets == nil {
			return e.fail(job, time.Now(), fmt.Errorf("no target resolver configured"))
		}
		t, err := e.Targets.ResolveTarget(ctx, job.TargetID)
		if err != nil {
			return e.fail(job, time.Now(), fmt.Errorf("resolve target: %w", err))
		}
		target = t
	}
	return e.Run(ctx, job, target)
}

// Run is RunSync with an already-resolved target (nil = no upload).
func (e *Engine) Run(ctx context.Context, job *SyncJob, target *Target) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{JobID: job.ID}

	transformers, err := BuildTransformers(job.Transforms)
	if err != nil {
		return e.fail(job, start, err)
	}

	extractCtx := ctx
	if e.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, e.ExtractTimeout)
		defer cancel()
	}
	t, stats, err := e.Extract(extractCtx, job.SourceType, job.SourceCfg)
	if err != nil {
		return e.fail(job, start, err)
	}
	result.RowsRead = stats.Rows
	result.Unsupported = stats.Unsupported
	result.Dropped = stats.Dropped

	if t, err = ApplyTransformers(t, transformers); err != nil {
		return e.finish(result, start, err)
	}

	if job.OutputPath != "" {
		fileStart := time.Now()
		err := export.Write(job.OutputPath, t)
		metrics.RecordStep(job.SourceType, "export", err, time.Since(fileStart))
		if err != nil {
			return e.finish(result, start, fmt.Errorf("write %s: %w", job.OutputPath, err))
		}
		result.OutputPath = job.OutputPath
		log.Printf("etl: wrote %d rows to %s", t.Len(), job.OutputPath)
	}

	if target != nil {
		newUploader := e.NewUploader
		if newUploader == nil {
			newUploader = NewPipelineUploader
		}
		up, err := newUploader(target.Config, job.SourceType)
		if err != nil {
			return e.finish(result, start, fmt.Errorf("upload config: %w", err))
		}
		summary, err := up.Deliver(ctx, t, target.FieldMap)
		result.Summary = summary
		if summary != nil {
			result.RowsDelivered = summary.Delivered
		}
		if err != nil {
			return e.finish(result, start, err)
		}
	}

	return e.finish(result, start, nil)
}

func (e *Engine) fail(job *SyncJob, start time.Time, err error) (*SyncResult, error) {
	return e.finish(&SyncResult{JobID: job.ID}, start, err)
}

// finish settles the status. A delivery that rejected some batches is
// partial; one that rejected every batch is an error.
func (e *Engine) finish(r *SyncResult, start time.Time, err error) (*SyncResult, error) {
	r.Duration = time.Since(start)
	switch {
	case err != nil:
		r.Status = StatusError
		r.Error = err.Error()
		var de *upload.DeliveryError
		if errors.As(err, &de) {
			r.RowsDelivered = de.Delivered
		}
		return r, err
	case r.Summary != nil && r.Summary.AllFailed():
		r.Status = StatusError
		r.Error = fmt.Sprintf("remote rejected all %d batches", r.Summary.TotalBatches)
		return r, nil
	case r.Summary != nil && !r.Summary.Complete():
		r.Status = StatusPartial
		r.Error = fmt.Sprintf("%d of %d batches rejected", len(r.Summary.FailedBatches()), r.Summary.TotalBatches)
		return r, nil
	default:
		r.Status = StatusSuccess
		return r, nil
	}
}

// Preview extracts and returns the first maxRows rows with the run stats.
func (e *Engine) Preview(ctx context.Context, sourceType string, cfg SourceConfig, maxRows int) (*table.Table, table.Stats, error) {
	t, stats, err := e.Extract(ctx, sourceType, cfg)
	if err != nil {
		return nil, stats, err
	}
	return t.Head(maxRows), stats, nil
}
