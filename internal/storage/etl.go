package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"extractor/internal/etl"

	"github.com/google/uuid"
)

// ETLStore implements persistence for sync jobs and the upload history.
type ETLStore struct {
	db *DB
}

// NewETLStore creates a new ETLStore.
func NewETLStore(db *DB) *ETLStore {
	return &ETLStore{db: db}
}

// ── SyncJob CRUD ───────────────────────────────────────────

const jobColumns = `id, name, source_type, source_config, transforms, output_path, target_id,
	trigger_type, trigger_config, enabled, last_run_at, last_status, last_error, created_at, updated_at`

func scanJob(sc interface{ Scan(...any) error }) (*etl.SyncJob, error) {
	job := &etl.SyncJob{}
	var srcCfg, transforms string
	var lastRun sql.NullTime
	if err := sc.Scan(
		&job.ID, &job.Name, &job.SourceType, &srcCfg, &transforms, &job.OutputPath, &job.TargetID,
		&job.TriggerType, &job.TriggerConfig, &job.Enabled,
		&lastRun, &job.LastStatus, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		job.LastRunAt = lastRun.Time
	}
	if err := json.Unmarshal([]byte(srcCfg), &job.SourceCfg); err != nil {
		return nil, fmt.Errorf("job %s: source config: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(transforms), &job.Transforms); err != nil {
		return nil, fmt.Errorf("job %s: transforms: %w", job.ID, err)
	}
	return job, nil
}

func marshalJob(job *etl.SyncJob) (srcCfg, transforms string, err error) {
	if job.SourceCfg == nil {
		job.SourceCfg = etl.SourceConfig{}
	}
	b, err := json.Marshal(job.SourceCfg)
	if err != nil {
		return "", "", fmt.Errorf("source config: %w", err)
	}
	t := job.Transforms
	if t == nil {
		t = []etl.TransformConfig{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", "", fmt.Errorf("transforms: %w", err)
	}
	return string(b), string(tb), nil
}

func (s *ETLStore) CreateJob(job *etl.SyncJob) error {
	now := time.Now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.TriggerType == "" {
		job.TriggerType = "manual"
	}

	srcCfg, transforms, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO etl_jobs (id, name, source_type, source_config, transforms, output_path, target_id,
		 trigger_type, trigger_config, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.SourceType, srcCfg, transforms, job.OutputPath, job.TargetID,
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *ETLStore) GetJob(id string) (*etl.SyncJob, error) {
	job, err := scanJob(s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM etl_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("etl job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func (s *ETLStore) UpdateJob(job *etl.SyncJob) error {
	job.UpdatedAt = time.Now()
	srcCfg, transforms, err := marshalJob(job)
	if err != nil {
		return err
	}

	res, err := s.db.conn.Exec(
		`UPDATE etl_jobs SET name=?, source_type=?, source_config=?, transforms=?, output_path=?,
		 target_id=?, trigger_type=?, trigger_config=?, enabled=?, updated_at=? WHERE id=?`,
		job.Name, job.SourceType, srcCfg, transforms, job.OutputPath,
		job.TargetID, job.TriggerType, job.TriggerConfig, job.Enabled,
		job.UpdatedAt, job.ID,
	)
	return affected(res, err, "etl job", job.ID)
}

func (s *ETLStore) UpdateJobStatus(id, status, errMsg string) error {
	now := time.Now()
	_, err := s.db.conn.Exec(
		`UPDATE etl_jobs SET last_run_at=?, last_status=?, last_error=?, updated_at=? WHERE id=?`,
		now, status, errMsg, now, id,
	)
	return err
}

func (s *ETLStore) DeleteJob(id string) error {
	// Delete run logs first.
	if _, err := s.db.conn.Exec(`DELETE FROM etl_run_logs WHERE job_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.conn.Exec(`DELETE FROM etl_jobs WHERE id = ?`, id)
	return err
}

func (s *ETLStore) ListJobs() ([]etl.SyncJob, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM etl_jobs ORDER BY created_at ASC`)
}

// ListEnabledScheduledJobs returns enabled jobs with a schedule or file-watch trigger.
func (s *ETLStore) ListEnabledScheduledJobs() ([]etl.SyncJob, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM etl_jobs
		WHERE enabled = 1 AND trigger_type IN ('schedule', 'file_watch')
		ORDER BY created_at ASC`)
}

func (s *ETLStore) queryJobs(query string, args ...any) ([]etl.SyncJob, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []etl.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ── Run Logs / Upload History ──────────────────────────────

const runLogColumns = `id, job_id, source_type, target, output_path, started_at, finished_at, status,
	rows_read, rows_delivered, total_batches, failed_batches, error`

func (s *ETLStore) CreateRunLog(log *etl.SyncRunLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO etl_run_logs (`+runLogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.JobID, log.SourceType, log.Target, log.OutputPath, log.StartedAt, log.FinishedAt, log.Status,
		log.RowsRead, log.RowsDelivered, log.TotalBatches, log.FailedBatches, log.Error,
	)
	return err
}

// ListRunLogs returns the newest runs of one job.
func (s *ETLStore) ListRunLogs(jobID string, limit int) ([]etl.SyncRunLog, error) {
	return s.queryRunLogs(
		`SELECT `+runLogColumns+` FROM etl_run_logs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
}

// ListHistory returns one page of the upload history across all jobs and
// ad-hoc runs, newest first.
func (s *ETLStore) ListHistory(limit, offset int) ([]etl.SyncRunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryRunLogs(
		`SELECT `+runLogColumns+` FROM etl_run_logs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
}

// CountHistory returns the number of history entries.
func (s *ETLStore) CountHistory() (int, error) {
	var n int
	err := s.db.conn.QueryRow(`SELECT COUNT(*) FROM etl_run_logs`).Scan(&n)
	return n, err
}

func (s *ETLStore) queryRunLogs(query string, args ...any) ([]etl.SyncRunLog, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []etl.SyncRunLog
	for rows.Next() {
		var l etl.SyncRunLog
		if err := rows.Scan(
			&l.ID, &l.JobID, &l.SourceType, &l.Target, &l.OutputPath, &l.StartedAt, &l.FinishedAt, &l.Status,
			&l.RowsRead, &l.RowsDelivered, &l.TotalBatches, &l.FailedBatches, &l.Error,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
