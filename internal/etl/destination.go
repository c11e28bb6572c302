package etl

import (
	"context"

	"extractor/internal/table"
	"extractor/internal/upload"
)

// ── Destinations ───────────────────────────────────────────
// A normalized table goes to a file, a remote datasheet, or both.

// Uploader delivers a table to a remote datasheet.
type Uploader interface {
	Deliver(ctx context.Context, t *table.Table, fm upload.FieldMap) (*upload.Summary, error)
}

// UploaderFactory builds an Uploader for resolved settings. job labels metrics.
type UploaderFactory func(cfg upload.Config, job string) (Uploader, error)

// NewPipelineUploader is the default factory: the sequential batch pipeline.
func NewPipelineUploader(cfg upload.Config, job string) (Uploader, error) {
	p, err := upload.New(cfg)
	if err != nil {
		return nil, err
	}
	p.Job = job
	return p, nil
}

// Target is a resolved upload destination.
type Target struct {
	Name     string
	Config   upload.Config
	FieldMap upload.FieldMap
}

// TargetResolver resolves saved targets by id.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, id string) (*Target, error)
}
