package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"extractor/internal/etl"
	"extractor/internal/storage"
	"extractor/internal/table"
)

// ─────────────────────────────────────────────────────────────
// ETL Service: business logic for sync jobs and upload history
// ─────────────────────────────────────────────────────────────

// DefaultJobTimeout bounds the extraction step of one run of a saved or
// ad-hoc job.
const DefaultJobTimeout = 5 * time.Minute

// adhocPrefix keys ad-hoc runs in the running guard.
const adhocPrefix = "adhoc:"

// EventJobCompleted is emitted after every saved-job run.
const EventJobCompleted = "etl:job-completed"

// ETLService manages sync jobs, scheduling, file watching and the upload
// history.
type ETLService struct {
	store       *storage.ETLStore
	targets     etl.TargetResolver
	emitter     EventEmitter
	runningJobs runningJobsGuard
	engine      *etl.Engine

	// JobTimeout bounds the extraction step of each run. Zero means
	// DefaultJobTimeout. Delivery runs under the per-request upload timeout
	// so a large table is not cut off by this deadline.
	JobTimeout time.Duration
	// LookupEnv supplies config fallbacks for sources. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// watcher / cron lifecycle
	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewETLService creates an ETLService ready for use. targets may be nil when
// no job uploads.
func NewETLService(store *storage.ETLStore, targets etl.TargetResolver, emitter EventEmitter) *ETLService {
	if emitter == nil {
		emitter = LogEmitter{}
	}
	return &ETLService{
		store:     store,
		targets:   targets,
		emitter:   emitter,
		engine:    &etl.Engine{Targets: targets},
		LookupEnv: os.LookupEnv,
	}
}

// SetUploaderFactory replaces the delivery pipeline used by every run.
func (s *ETLService) SetUploaderFactory(f etl.UploaderFactory) {
	s.engine.NewUploader = f
}

func (s *ETLService) jobTimeout() time.Duration {
	if s.JobTimeout > 0 {
		return s.JobTimeout
	}
	return DefaultJobTimeout
}

// ── Job CRUD ───────────────────────────────────────────────

type CreateETLJobInput struct {
	Name          string                `json:"name"`
	SourceType    string                `json:"sourceType"`
	SourceConfig  map[string]any        `json:"sourceConfig"`
	Transforms    []etl.TransformConfig `json:"transforms"`
	OutputPath    string                `json:"outputPath"`
	TargetID      string                `json:"targetId"`
	TriggerType   string                `json:"triggerType"`
	TriggerConfig string                `json:"triggerConfig"`
	Enabled       bool                  `json:"enabled"`
}

func (in *CreateETLJobInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if _, err := etl.GetSource(in.SourceType); err != nil {
		return err
	}
	if _, err := etl.BuildTransformers(in.Transforms); err != nil {
		return err
	}
	if in.OutputPath != "" {
		switch strings.ToLower(filepath.Ext(in.OutputPath)) {
		case ".csv", ".xlsx":
		default:
			return fmt.Errorf("output path %q must end in .csv or .xlsx", in.OutputPath)
		}
	}
	if in.TriggerType == "" {
		in.TriggerType = "manual"
	}
	switch in.TriggerType {
	case "manual":
	case "schedule":
		if _, err := cron.ParseStandard(in.TriggerConfig); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", in.TriggerConfig, err)
		}
	case "file_watch":
		if in.TriggerConfig == "" {
			return fmt.Errorf("file_watch trigger needs a path")
		}
	default:
		return fmt.Errorf("unknown trigger type %q", in.TriggerType)
	}
	return nil
}

func (s *ETLService) CreateJob(ctx context.Context, input CreateETLJobInput) (*etl.SyncJob, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	job := &etl.SyncJob{
		Name:          input.Name,
		SourceType:    input.SourceType,
		SourceCfg:     input.SourceConfig,
		Transforms:    input.Transforms,
		OutputPath:    input.OutputPath,
		TargetID:      input.TargetID,
		TriggerType:   input.TriggerType,
		TriggerConfig: input.TriggerConfig,
		Enabled:       input.Enabled,
	}

	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create etl job: %w", err)
	}
	s.RestartWatchers(ctx)
	return job, nil
}

func (s *ETLService) GetJob(id string) (*etl.SyncJob, error) {
	return s.store.GetJob(id)
}

func (s *ETLService) ListJobs() ([]etl.SyncJob, error) {
	return s.store.ListJobs()
}

func (s *ETLService) UpdateJob(ctx context.Context, id string, input CreateETLJobInput) error {
	if err := input.validate(); err != nil {
		return err
	}
	job, err := s.store.GetJob(id)
	if err != nil {
		return err
	}
	job.Name = input.Name
	job.SourceType = input.SourceType
	job.SourceCfg = input.SourceConfig
	job.Transforms = input.Transforms
	job.OutputPath = input.OutputPath
	job.TargetID = input.TargetID
	job.TriggerType = input.TriggerType
	job.TriggerConfig = input.TriggerConfig
	job.Enabled = input.Enabled

	if err := s.store.UpdateJob(job); err != nil {
		return err
	}
	s.RestartWatchers(ctx)
	return nil
}

func (s *ETLService) DeleteJob(ctx context.Context, id string) error {
	err := s.store.DeleteJob(id)
	if err == nil {
		s.RestartWatchers(ctx)
	}
	return err
}

// ── Run ────────────────────────────────────────────────────

// RunJob executes a saved job synchronously, records it in the history and
// emits EventJobCompleted.
func (s *ETLService) RunJob(ctx context.Context, id string) (*etl.SyncResult, error) {
	// Prevent concurrent execution of the same job.
	if !s.runningJobs.TryLock(id) {
		return nil, fmt.Errorf("job %s is already running", id)
	}
	defer s.runningJobs.Unlock(id)

	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateJobStatus(id, etl.StatusRunning, ""); err != nil {
		log.Printf("etl: mark job %s running: %v", id, err)
	}

	result, runErr := s.run(ctx, job)

	if err := s.store.UpdateJobStatus(id, result.Status, result.Error); err != nil {
		log.Printf("etl: update job %s status: %v", id, err)
	}

	s.emitter.Emit(ctx, EventJobCompleted, map[string]any{
		"jobId":         id,
		"status":        result.Status,
		"rowsRead":      result.RowsRead,
		"rowsDelivered": result.RowsDelivered,
	})
	return result, runErr
}

// AdhocRun describes a one-off extraction that is not saved as a job.
type AdhocRun struct {
	SourceType string
	SourceCfg  etl.SourceConfig
	Transforms []etl.TransformConfig
	OutputPath string
	// TargetID names a saved target; Target supplies one inline. Target wins.
	TargetID string
	Target   *etl.Target
}

// RunAdhoc executes a one-off run and records it in the history.
func (s *ETLService) RunAdhoc(ctx context.Context, req AdhocRun) (*etl.SyncResult, error) {
	key := adhocPrefix + uuid.New().String()
	s.runningJobs.TryLock(key)
	defer s.runningJobs.Unlock(key)

	job := &etl.SyncJob{
		SourceType: req.SourceType,
		SourceCfg:  req.SourceCfg,
		Transforms: req.Transforms,
		OutputPath: req.OutputPath,
		TargetID:   req.TargetID,
	}
	if req.Target != nil {
		job.TargetID = ""
		return s.runWithTarget(ctx, job, req.Target)
	}
	return s.run(ctx, job)
}

func (s *ETLService) run(ctx context.Context, job *etl.SyncJob) (*etl.SyncResult, error) {
	var target *etl.Target
	if job.TargetID != "" {
		if s.targets == nil {
			return s.fail(job, fmt.Errorf("no target resolver configured"))
		}
		t, err := s.targets.ResolveTarget(ctx, job.TargetID)
		if err != nil {
			return s.fail(job, fmt.Errorf("resolve target: %w", err))
		}
		target = t
	}
	return s.runWithTarget(ctx, job, target)
}

func (s *ETLService) runWithTarget(ctx context.Context, job *etl.SyncJob, target *etl.Target) (*etl.SyncResult, error) {
	runJob := *job
	runJob.SourceCfg = s.sourceConfig(job.SourceType, job.SourceCfg)

	engine := *s.engine
	engine.ExtractTimeout = s.jobTimeout()

	start := time.Now()
	result, runErr := engine.Run(ctx, &runJob, target)

	name := ""
	if target != nil {
		name = target.Name
	}
	return s.record(job, name, start, result, runErr)
}

// fail records a run that could not start.
func (s *ETLService) fail(job *etl.SyncJob, err error) (*etl.SyncResult, error) {
	res := &etl.SyncResult{JobID: job.ID, Status: etl.StatusError, Error: err.Error()}
	return s.record(job, job.TargetID, time.Now(), res, err)
}

// record writes the history entry. A failure to write history is logged, not
// returned: the run itself already happened.
func (s *ETLService) record(job *etl.SyncJob, target string, start time.Time, result *etl.SyncResult, runErr error) (*etl.SyncResult, error) {
	entry := etl.NewRunLog(uuid.New().String(), job, target, start, result)
	if s.store != nil {
		if err := s.store.CreateRunLog(entry); err != nil {
			log.Printf("etl: write history for %s: %v", job.SourceType, err)
		}
	}
	log.Printf("etl: %s run finished: status=%s read=%d delivered=%d", job.SourceType, result.Status, result.RowsRead, result.RowsDelivered)
	return result, runErr
}

// sourceConfig fills unset keys from the environment variables the source
// spec names.
func (s *ETLService) sourceConfig(sourceType string, cfg etl.SourceConfig) etl.SourceConfig {
	src, err := etl.GetSource(sourceType)
	if err != nil || s.LookupEnv == nil {
		return cfg
	}
	return etl.ApplyEnvDefaults(src.Spec(), cfg, s.LookupEnv)
}

// ListSources returns the available source descriptors.
func (s *ETLService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListRunLogs returns the last 50 runs of a job.
func (s *ETLService) ListRunLogs(jobID string) ([]etl.SyncRunLog, error) {
	return s.store.ListRunLogs(jobID, 50)
}

// HistoryPage is one page of the upload history.
type HistoryPage struct {
	Entries []etl.SyncRunLog `json:"entries"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListHistory returns one page of the upload history, newest first.
func (s *ETLService) ListHistory(limit, offset int) (*HistoryPage, error) {
	entries, err := s.store.ListHistory(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	total, err := s.store.CountHistory()
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	if entries == nil {
		entries = []etl.SyncRunLog{}
	}
	return &HistoryPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// ── Preview ────────────────────────────────────────────────

// PreviewResult is the response from PreviewSource.
type PreviewResult struct {
	Table *table.Table `json:"table"`
	Stats table.Stats  `json:"stats"`
}

// PreviewSource extracts a source and returns its first maxRows rows.
// cfgJSON is a JSON object of source config.
func (s *ETLService) PreviewSource(ctx context.Context, sourceType string, cfgJSON string, maxRows int) (*PreviewResult, error) {
	cfg := etl.SourceConfig{}
	if strings.TrimSpace(cfgJSON) != "" {
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			return nil, fmt.Errorf("parse source config: %w", err)
		}
	}

	previewCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	t, stats, err := s.engine.Preview(previewCtx, sourceType, s.sourceConfig(sourceType, cfg), maxRows)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Table: t, Stats: stats}, nil
}

// ── Watchers (cron + file_watch) ──────────────────────────

// RestartWatchers tears down the current watcher/cron and rebuilds them from scratch.
func (s *ETLService) RestartWatchers(ctx context.Context) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.stopWatchers()

	if s.store == nil {
		return
	}
	jobs, err := s.store.ListEnabledScheduledJobs()
	if err != nil {
		log.Printf("etl watcher: failed to list jobs: %v", err)
		return
	}

	// ── Cron jobs ──
	c := cron.New()
	scheduled := 0
	for _, j := range jobs {
		if j.TriggerType != "schedule" || j.TriggerConfig == "" {
			continue
		}
		jid := j.ID
		if _, err := c.AddFunc(j.TriggerConfig, func() {
			log.Printf("etl cron: running job %s", jid)
			if _, err := s.RunJob(ctx, jid); err != nil {
				log.Printf("etl cron: job %s failed: %v", jid, err)
			}
		}); err != nil {
			log.Printf("etl cron: invalid expression %q for job %s: %v", j.TriggerConfig, jid, err)
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		c.Start()
		s.cronSched = c
		log.Printf("etl cron: scheduled %d job(s)", scheduled)
	}

	// ── File watchers ──
	pathToJob := make(map[string]string)
	for _, j := range jobs {
		if j.TriggerType != "file_watch" || j.TriggerConfig == "" {
			continue
		}
		absPath, err := filepath.Abs(j.TriggerConfig)
		if err != nil {
			log.Printf("etl watcher: bad path %q: %v", j.TriggerConfig, err)
			continue
		}
		pathToJob[absPath] = j.ID
	}
	if len(pathToJob) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("etl watcher: failed to create watcher: %v", err)
		return
	}
	s.watcher = watcher

	watchedDirs := make(map[string]bool)
	for absPath := range pathToJob {
		dir := filepath.Dir(absPath)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log.Printf("etl watcher: failed to watch dir %q: %v", dir, err)
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel

	go s.watchLoop(ctx, watchCtx, watcher, pathToJob)
	log.Printf("etl watcher: watching %d file(s)", len(pathToJob))
}

// fileDebounce coalesces bursts of write events into one run.
const fileDebounce = 500 * time.Millisecond

func (s *ETLService) watchLoop(runCtx, watchCtx context.Context, watcher *fsnotify.Watcher, pathToJob map[string]string) {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-watchCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			jobID, ok := pathToJob[absPath]
			if !ok {
				continue
			}
			if t, exists := timers[jobID]; exists {
				t.Stop()
			}
			jid := jobID
			timers[jobID] = time.AfterFunc(fileDebounce, func() {
				if watchCtx.Err() != nil {
					return
				}
				log.Printf("etl watcher: file changed %q, running job %s", absPath, jid)
				if _, err := s.RunJob(runCtx, jid); err != nil {
					log.Printf("etl watcher: run failed for job %s: %v", jid, err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("etl watcher: error: %v", err)
		}
	}
}

// RunningJobs returns the ids of saved jobs currently executing.
func (s *ETLService) RunningJobs() []string {
	var ids []string
	for _, id := range s.runningJobs.Running() {
		if !strings.HasPrefix(id, adhocPrefix) {
			ids = append(ids, id)
		}
	}
	return ids
}

// WaitRunning blocks until all running jobs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *ETLService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *ETLService) Stop() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.stopWatchers()
}

func (s *ETLService) stopWatchers() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
