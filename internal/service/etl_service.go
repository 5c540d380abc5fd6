package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"backoffice/internal/etl"
	"backoffice/internal/logging"
)

// ─────────────────────────────────────────────────────────────
// ETL Service — imports into datasets
// ─────────────────────────────────────────────────────────────

// ETLJobStore persists import jobs and their run history.
type ETLJobStore interface {
	CreateJob(job *etl.SyncJob) error
	GetJob(id string) (*etl.SyncJob, error)
	UpdateJob(job *etl.SyncJob) error
	UpdateJobStatus(id, status, errMsg string) error
	DeleteJob(id string) error
	ListJobs() ([]etl.SyncJob, error)
	ListEnabledScheduledJobs() ([]etl.SyncJob, error)
	CreateRunLog(log *etl.SyncRunLog) error
	ListRunLogs(jobID string, limit int) ([]etl.SyncRunLog, error)
}

// DatasetRefresher reloads open grids over a dataset after it changed.
type DatasetRefresher interface {
	RefreshDataset(ctx context.Context, datasetID string) error
}

// ETLOptions tunes job execution. Zero values fall back to defaults.
type ETLOptions struct {
	RunTimeout    time.Duration
	PreviewLimit  int
	WatchDebounce time.Duration
}

// ETLService manages import jobs, scheduling, and file watching.
type ETLService struct {
	store       ETLJobStore
	datasets    etl.DatasetRowStore
	emitter     EventEmitter
	logger      *zap.Logger
	opts        ETLOptions
	runningJobs keyGuard

	mu        sync.Mutex
	refresher DatasetRefresher

	// watcher / cron lifecycle, guarded by mu
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewETLService creates an ETLService ready for use.
func NewETLService(
	store ETLJobStore,
	datasets etl.DatasetRowStore,
	emitter EventEmitter,
	logger *zap.Logger,
	opts ETLOptions,
) *ETLService {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = 10
	}
	if opts.WatchDebounce <= 0 {
		opts.WatchDebounce = 500 * time.Millisecond
	}
	return &ETLService{
		store:    store,
		datasets: datasets,
		emitter:  orNop(emitter),
		logger:   logging.OrNop(logger).Named("etl"),
		opts:     opts,
	}
}

// SetRefresher wires the grid sessions that reload after a successful run.
func (s *ETLService) SetRefresher(r DatasetRefresher) {
	s.mu.Lock()
	s.refresher = r
	s.mu.Unlock()
}

// ── Job CRUD ───────────────────────────────────────────────

type CreateETLJobInput struct {
	Name            string                `json:"name"`
	SourceType      string                `json:"sourceType"`
	SourceConfig    map[string]any        `json:"sourceConfig"`
	Transforms      []etl.TransformConfig `json:"transforms"`
	TargetDatasetID string                `json:"targetDatasetId"`
	SyncMode        string                `json:"syncMode"`
	DedupeKey       string                `json:"dedupeKey"`
	TriggerType     string                `json:"triggerType"`
	TriggerConfig   string                `json:"triggerConfig"`
	Enabled         bool                  `json:"enabled"`
}

func (in CreateETLJobInput) validate() error {
	if _, _, err := etl.OpenSource(in.SourceType, in.SourceConfig); err != nil {
		return err
	}
	if in.TargetDatasetID == "" {
		return fmt.Errorf("target dataset is required")
	}
	switch etl.SyncMode(in.SyncMode) {
	case "", etl.SyncReplace, etl.SyncAppend:
	default:
		return fmt.Errorf("unknown sync mode: %s", in.SyncMode)
	}
	switch in.TriggerType {
	case "", "manual":
	case "schedule":
		if _, err := cron.ParseStandard(in.TriggerConfig); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", in.TriggerConfig, err)
		}
	case "file_watch":
		if in.TriggerConfig == "" {
			return fmt.Errorf("file_watch trigger needs a path")
		}
	default:
		return fmt.Errorf("unknown trigger type: %s", in.TriggerType)
	}
	return nil
}

func (s *ETLService) CreateJob(ctx context.Context, input CreateETLJobInput) (*etl.SyncJob, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if _, err := s.datasets.GetDataset(input.TargetDatasetID); err != nil {
		return nil, fmt.Errorf("target dataset: %w", err)
	}

	job := &etl.SyncJob{
		Name:            input.Name,
		SourceType:      input.SourceType,
		SourceCfg:       input.SourceConfig,
		Transforms:      input.Transforms,
		TargetDatasetID: input.TargetDatasetID,
		SyncMode:        etl.SyncMode(input.SyncMode),
		DedupeKey:       input.DedupeKey,
		TriggerType:     input.TriggerType,
		TriggerConfig:   input.TriggerConfig,
		Enabled:         input.Enabled,
	}
	if job.SyncMode == "" {
		job.SyncMode = etl.SyncReplace
	}
	if job.TriggerType == "" {
		job.TriggerType = "manual"
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
	job.TargetDatasetID = input.TargetDatasetID
	job.SyncMode = etl.SyncMode(input.SyncMode)
	job.DedupeKey = input.DedupeKey
	job.TriggerType = input.TriggerType
	job.TriggerConfig = input.TriggerConfig
	job.Enabled = input.Enabled
	if job.SyncMode == "" {
		job.SyncMode = etl.SyncReplace
	}
	if job.TriggerType == "" {
		job.TriggerType = "manual"
	}

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

// RunJob executes a single import synchronously. On success it emits
// dataset:updated and reloads grids open over the target dataset.
func (s *ETLService) RunJob(ctx context.Context, id string) (*etl.SyncResult, error) {
	release, since, ok := s.runningJobs.Acquire(id)
	if !ok {
		return nil, fmt.Errorf("job %s is already running (started %s)", id, since.Format(time.TimeOnly))
	}
	defer release()

	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("jobId", id), zap.String("source", job.SourceType))
	if err := s.store.UpdateJobStatus(id, "running", ""); err != nil {
		log.Warn("mark job running", zap.Error(err))
	}

	engine := &etl.Engine{Dest: &etl.DatasetWriter{Store: s.datasets}}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	start := time.Now()
	result, runErr := engine.RunSync(runCtx, job)
	if result == nil {
		result = &etl.SyncResult{JobID: id, Status: "error"}
	}

	runLog := &etl.SyncRunLog{
		JobID:       id,
		StartedAt:   start,
		FinishedAt:  time.Now(),
		Status:      result.Status,
		RowsRead:    result.RowsRead,
		RowsWritten: result.RowsWritten,
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		runLog.Error = errMsg
	}
	if err := s.store.CreateRunLog(runLog); err != nil {
		log.Warn("record run log", zap.Error(err))
	}
	if err := s.store.UpdateJobStatus(id, result.Status, errMsg); err != nil {
		log.Warn("update job status", zap.Error(err))
	}

	if runErr != nil {
		log.Error("import failed", zap.Error(runErr))
		return result, runErr
	}

	log.Info("import finished",
		zap.Int("rowsRead", result.RowsRead),
		zap.Int("rowsWritten", result.RowsWritten),
		zap.Duration("took", result.Duration))

	s.emitter.Emit(ctx, EventDatasetUpdated, map[string]string{
		"datasetId": job.TargetDatasetID,
		"jobId":     id,
	})

	s.mu.Lock()
	refresher := s.refresher
	s.mu.Unlock()
	if refresher != nil {
		if err := refresher.RefreshDataset(ctx, job.TargetDatasetID); err != nil {
			log.Warn("refresh grids", zap.Error(err))
		}
	}
	return result, nil
}

// ListSources returns the available source descriptors.
func (s *ETLService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListRunLogs returns the last 50 run logs for a job.
func (s *ETLService) ListRunLogs(jobID string) ([]etl.SyncRunLog, error) {
	return s.store.ListRunLogs(jobID, 50)
}

// ── Preview / Schema Discovery ─────────────────────────────

// PreviewResult is the response from PreviewSource.
type PreviewResult struct {
	Schema  *etl.Schema  `json:"schema"`
	Records []etl.Record `json:"records"`
}

func parseSourceConfig(cfgJSON string) (etl.SourceConfig, error) {
	var cfg etl.SourceConfig
	if cfgJSON == "" {
		return etl.SourceConfig{}, nil
	}
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, fmt.Errorf("parse source config: %w", err)
	}
	return cfg, nil
}

// PreviewSource reads the first records of a source without writing them.
func (s *ETLService) PreviewSource(ctx context.Context, sourceType, cfgJSON string) (*PreviewResult, error) {
	cfg, err := parseSourceConfig(cfgJSON)
	if err != nil {
		return nil, err
	}

	engine := &etl.Engine{Dest: &etl.DatasetWriter{Store: s.datasets}}

	previewCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	records, schema, err := engine.Preview(previewCtx, sourceType, cfg, s.opts.PreviewLimit)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Schema: schema, Records: records}, nil
}

func (s *ETLService) DiscoverSchema(ctx context.Context, sourceType, cfgJSON string) (*etl.Schema, error) {
	cfg, err := parseSourceConfig(cfgJSON)
	if err != nil {
		return nil, err
	}

	source, cfg, err := etl.OpenSource(sourceType, cfg)
	if err != nil {
		return nil, err
	}

	discCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	return source.Discover(discCtx, cfg)
}

// ── Watchers (cron + file_watch) ──────────────────────────

// RestartWatchers tears down the current watcher/cron and rebuilds them from scratch.
func (s *ETLService) RestartWatchers(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()

	jobs, err := s.store.ListEnabledScheduledJobs()
	if err != nil {
		s.logger.Error("list scheduled jobs", zap.Error(err))
		return
	}

	// Scheduled runs outlive the request that configured them.
	runCtx := context.WithoutCancel(ctx)

	// ── Cron jobs ──
	var scheduled int
	c := cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(s.logger))))
	for _, j := range jobs {
		if j.TriggerType != "schedule" || j.TriggerConfig == "" {
			continue
		}
		jid := j.ID
		_, err := c.AddFunc(j.TriggerConfig, func() {
			s.logger.Info("scheduled run", zap.String("jobId", jid))
			if _, err := s.RunJob(runCtx, jid); err != nil {
				s.logger.Warn("scheduled run failed", zap.String("jobId", jid), zap.Error(err))
			}
			s.emitter.Emit(runCtx, EventETLJobCompleted, jid)
		})
		if err != nil {
			s.logger.Warn("invalid schedule", zap.String("jobId", jid), zap.String("expr", j.TriggerConfig), zap.Error(err))
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		c.Start()
		s.cronSched = c
		s.logger.Info("cron started", zap.Int("jobs", scheduled))
	}

	// ── File watchers ──
	pathToJob := make(map[string]string)
	for _, j := range jobs {
		if j.TriggerType != "file_watch" || j.TriggerConfig == "" {
			continue
		}
		absPath, err := filepath.Abs(j.TriggerConfig)
		if err != nil {
			s.logger.Warn("bad watch path", zap.String("path", j.TriggerConfig), zap.Error(err))
			continue
		}
		pathToJob[absPath] = j.ID
	}
	if len(pathToJob) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Error("create watcher", zap.Error(err))
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
			s.logger.Warn("watch dir", zap.String("dir", dir), zap.Error(err))
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel

	go s.watchLoop(watchCtx, runCtx, watcher, pathToJob)

	s.logger.Info("watching files", zap.Int("files", len(pathToJob)))
}

func (s *ETLService) watchLoop(watchCtx, runCtx context.Context, watcher *fsnotify.Watcher, pathToJob map[string]string) {
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
			timers[jobID] = time.AfterFunc(s.opts.WatchDebounce, func() {
				if watchCtx.Err() != nil {
					return
				}
				s.logger.Info("file changed", zap.String("path", absPath), zap.String("jobId", jid))
				if _, err := s.RunJob(runCtx, jid); err != nil {
					s.logger.Warn("watched run failed", zap.String("jobId", jid), zap.Error(err))
				}
				s.emitter.Emit(runCtx, EventETLJobCompleted, jid)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// WaitRunning blocks until all running jobs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *ETLService) WaitRunning(ctx context.Context) {
	if !s.runningJobs.Wait(ctx) {
		s.logger.Warn("shutdown before running jobs finished")
	}
}

// IsRunning reports whether job id is being run right now.
func (s *ETLService) IsRunning(id string) bool {
	_, ok := s.runningJobs.Held(id)
	return ok
}

// Stop tears down all watchers and schedulers.
func (s *ETLService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()
}

func (s *ETLService) stopWatchersLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
