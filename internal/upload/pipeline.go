package upload

import (
	"context"
	"fmt"
	"log"
	"time"

	"extractor/internal/metrics"
	"extractor/internal/table"

	"golang.org/x/time/rate"
)

// BatchStatus is the outcome of one batch.
type BatchStatus string

const (
	BatchDelivered  BatchStatus = "delivered"
	BatchSoftFailed BatchStatus = "soft_failed" // remote answered 2xx but rejected the data
	BatchHardFailed BatchStatus = "hard_failed" // transport error or non-2xx; delivery stopped
)

// BatchResult is the per-batch entry of a Summary.
type BatchResult struct {
	Index      int         `json:"index"`
	Rows       int         `json:"rows"`
	Delivered  int         `json:"delivered"`
	Status     BatchStatus `json:"status"`
	HTTPStatus int         `json:"httpStatus,omitempty"`
	Code       int         `json:"code,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Summary accounts for one delivery session.
type Summary struct {
	TotalRows    int           `json:"totalRows"`
	Delivered    int           `json:"delivered"`
	TotalBatches int           `json:"totalBatches"`
	Batches      []BatchResult `json:"batches"`
	Warnings     []string      `json:"warnings,omitempty"`
	Aborted      bool          `json:"aborted"`
}

// Empty reports a session that had nothing to send.
func (s *Summary) Empty() bool { return s.TotalRows == 0 }

// AllFailed reports rows to send but none delivered.
func (s *Summary) AllFailed() bool { return s.TotalRows > 0 && s.Delivered == 0 }

// Complete reports every row delivered.
func (s *Summary) Complete() bool { return s.Delivered == s.TotalRows && !s.Aborted }

// FailedBatches returns the 1-based numbers of batches that were not
// delivered, matching the numbering of log lines and DeliveryError.
func (s *Summary) FailedBatches() []int {
	var nums []int
	for _, b := range s.Batches {
		if b.Status != BatchDelivered {
			nums = append(nums, b.Index+1)
		}
	}
	return nums
}

// DeliveryError is returned when a hard failure stops delivery.
type DeliveryError struct {
	Batch     int // 0-based index; Error reports it 1-based
	Delivered int
	Total     int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("upload aborted at batch %d: %d of %d rows delivered: %v", e.Batch+1, e.Delivered, e.Total, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Poster sends one batch of shaped records. *Client implements it.
type Poster interface {
	PostRecords(ctx context.Context, records []map[string]string) (*Response, error)
}

// Pipeline delivers canonical tables to one datasheet, one batch at a time.
type Pipeline struct {
	cfg    Config
	poster Poster
	// Job labels metrics; usually the source type.
	Job string
}

// New builds a Pipeline over an HTTP Client for cfg.
func New(cfg Config) (*Pipeline, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg.WithDefaults(), poster: client}, nil
}

// NewWithPoster builds a Pipeline over any Poster. cfg is only used for
// batch size and pacing.
func NewWithPoster(cfg Config, p Poster) *Pipeline {
	return &Pipeline{cfg: cfg.WithDefaults(), poster: p}
}

// Deliver sends every row of t. Preflight errors are returned before any
// request. A hard failure returns the partial Summary together with a
// *DeliveryError; soft failures are only recorded in the Summary.
func (p *Pipeline) Deliver(ctx context.Context, t *table.Table, fm FieldMap) (*Summary, error) {
	total := 0
	if t != nil {
		total = len(t.Rows)
	}
	summary := &Summary{TotalRows: total, Batches: []BatchResult{}}

	plan, err := NewPlan(t, fm)
	if err != nil {
		return summary, err
	}
	summary.Warnings = plan.Warnings
	for _, w := range plan.Warnings {
		log.Printf("upload: warning: %s", w)
	}
	if total == 0 {
		log.Printf("upload: table is empty, nothing to send")
		return summary, nil
	}

	batches := Partition(total, p.cfg.BatchSize)
	summary.TotalBatches = len(batches)

	pace := newPacer(p.cfg.Interval)

	log.Printf("upload: sending %d rows in %d batch(es) of up to %d", total, len(batches), p.cfg.BatchSize)
	start := time.Now()

	for _, b := range batches {
		if b.Index > 0 {
			if err := pace.wait(ctx); err != nil {
				return p.abort(summary, b, BatchResult{Index: b.Index, Rows: b.Len(), Message: err.Error()}, err, start)
			}
		}

		res := BatchResult{Index: b.Index, Rows: b.Len()}
		resp, err := p.poster.PostRecords(ctx, plan.Records(t.Rows[b.Start:b.End]))
		pace.mark()
		if err != nil {
			res.Message = err.Error()
			return p.abort(summary, b, res, err, start)
		}

		res.HTTPStatus = resp.StatusCode
		res.Code = resp.Code
		res.Message = resp.Message

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return p.abort(summary, b, res, &HTTPError{StatusCode: resp.StatusCode, Body: resp.Message}, start)
		}

		if !resp.Accepted {
			res.Status = BatchSoftFailed
			summary.Batches = append(summary.Batches, res)
			metrics.RecordBatch(p.Job, string(BatchSoftFailed))
			log.Printf("upload: warning: batch %d/%d (rows %d-%d) rejected: %s",
				b.Index+1, len(batches), b.Start+1, b.End, resp.Message)
			continue
		}

		res.Status = BatchDelivered
		res.Delivered = res.Rows
		summary.Delivered += res.Rows
		summary.Batches = append(summary.Batches, res)
		metrics.RecordBatch(p.Job, string(BatchDelivered))
		log.Printf("upload: batch %d/%d delivered (%d rows)", b.Index+1, len(batches), res.Rows)
	}

	metrics.RecordRows(p.Job, metrics.RowsDelivered, summary.Delivered)
	metrics.RecordStep(p.Job, "upload", nil, time.Since(start))
	log.Printf("upload: done, %d of %d rows delivered", summary.Delivered, total)
	return summary, nil
}

// pacer holds the next request until Interval has passed since the previous
// response.
type pacer struct {
	every rate.Limit
	lim   *rate.Limiter
}

// newPacer returns nil when d <= 0; a nil pacer never waits.
func newPacer(d time.Duration) *pacer {
	if d <= 0 {
		return nil
	}
	return &pacer{every: rate.Every(d)}
}

// mark starts the pause: a fresh limiter with its single token spent.
func (p *pacer) mark() {
	if p == nil {
		return
	}
	p.lim = rate.NewLimiter(p.every, 1)
	p.lim.Allow()
}

func (p *pacer) wait(ctx context.Context) error {
	if p == nil || p.lim == nil {
		return nil
	}
	return p.lim.Wait(ctx)
}

func (p *Pipeline) abort(s *Summary, b Batch, res BatchResult, cause error, start time.Time) (*Summary, error) {
	res.Status = BatchHardFailed
	s.Batches = append(s.Batches, res)
	s.Aborted = true
	metrics.RecordBatch(p.Job, string(BatchHardFailed))
	metrics.RecordRows(p.Job, metrics.RowsDelivered, s.Delivered)
	err := &DeliveryError{Batch: b.Index, Delivered: s.Delivered, Total: s.TotalRows, Err: cause}
	metrics.RecordStep(p.Job, "upload", err, time.Since(start))
	log.Printf("upload: %v", err)
	return s, err
}
