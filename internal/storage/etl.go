package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"backoffice/internal/etl"
)

// ETLStore implements persistence for import jobs and their run logs.
type ETLStore struct {
	db *DB
}

// NewETLStore creates a new ETLStore.
func NewETLStore(db *DB) *ETLStore {
	return &ETLStore{db: db}
}

const jobColumns = `id, name, source_type, source_config, transforms, target_dataset_id,
	 sync_mode, dedupe_key, trigger_type, trigger_config, enabled,
	 last_run_at, last_status, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*etl.SyncJob, error) {
	job := &etl.SyncJob{}
	var srcCfg, transforms string
	if err := sc.Scan(
		&job.ID, &job.Name, &job.SourceType, &srcCfg, &transforms,
		&job.TargetDatasetID, &job.SyncMode, &job.DedupeKey,
		&job.TriggerType, &job.TriggerConfig, &job.Enabled,
		&job.LastRunAt, &job.LastStatus, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(srcCfg), &job.SourceCfg); err != nil {
		return nil, fmt.Errorf("decode source config of job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(transforms), &job.Transforms); err != nil {
		return nil, fmt.Errorf("decode transforms of job %s: %w", job.ID, err)
	}
	return job, nil
}

func encodeJob(job *etl.SyncJob) (srcCfg, transforms string, err error) {
	a, err := json.Marshal(job.SourceCfg)
	if err != nil {
		return "", "", fmt.Errorf("encode source config: %w", err)
	}
	if job.Transforms == nil {
		return string(a), "[]", nil
	}
	b, err := json.Marshal(job.Transforms)
	if err != nil {
		return "", "", fmt.Errorf("encode transforms: %w", err)
	}
	return string(a), string(b), nil
}

// ── SyncJob CRUD ───────────────────────────────────────────

func (s *ETLStore) CreateJob(job *etl.SyncJob) error {
	now := time.Now()
	job.ID = uuid.New().String()
	job.CreatedAt = now
	job.UpdatedAt = now

	srcCfg, transforms, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO etl_jobs (id, name, source_type, source_config, transforms, target_dataset_id,
		 sync_mode, dedupe_key, trigger_type, trigger_config, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.SourceType, srcCfg, transforms,
		job.TargetDatasetID, job.SyncMode, job.DedupeKey,
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *ETLStore) GetJob(id string) (*etl.SyncJob, error) {
	job, err := scanJob(s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM etl_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("etl job", id)
	}
	return job, err
}

func (s *ETLStore) UpdateJob(job *etl.SyncJob) error {
	job.UpdatedAt = time.Now()
	srcCfg, transforms, err := encodeJob(job)
	if err != nil {
		return err
	}
	res, err := s.db.conn.Exec(
		`UPDATE etl_jobs SET name=?, source_type=?, source_config=?, transforms=?,
		 target_dataset_id=?, sync_mode=?, dedupe_key=?, trigger_type=?, trigger_config=?,
		 enabled=?, updated_at=? WHERE id=?`,
		job.Name, job.SourceType, srcCfg, transforms,
		job.TargetDatasetID, job.SyncMode, job.DedupeKey,
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.UpdatedAt, job.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "etl job", job.ID)
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
	if _, err := s.db.conn.Exec(`DELETE FROM etl_run_logs WHERE job_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.conn.Exec(`DELETE FROM etl_jobs WHERE id = ?`, id)
	return err
}

func (s *ETLStore) ListJobs() ([]etl.SyncJob, error) {
	return s.listJobs(`SELECT ` + jobColumns + ` FROM etl_jobs ORDER BY created_at ASC`)
}

// ListEnabledScheduledJobs returns enabled jobs with a schedule or file_watch trigger.
func (s *ETLStore) ListEnabledScheduledJobs() ([]etl.SyncJob, error) {
	return s.listJobs(`SELECT ` + jobColumns + ` FROM etl_jobs
		 WHERE enabled = 1 AND trigger_type IN ('schedule', 'file_watch')
		 ORDER BY created_at ASC`)
}

func (s *ETLStore) listJobs(query string) ([]etl.SyncJob, error) {
	rows, err := s.db.conn.Query(query)
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

// ── Run Logs ───────────────────────────────────────────────

func (s *ETLStore) CreateRunLog(log *etl.SyncRunLog) error {
	log.ID = uuid.New().String()
	_, err := s.db.conn.Exec(
		`INSERT INTO etl_run_logs (id, job_id, started_at, finished_at, status, rows_read, rows_written, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.JobID, log.StartedAt, log.FinishedAt, log.Status, log.RowsRead, log.RowsWritten, log.Error,
	)
	return err
}

func (s *ETLStore) ListRunLogs(jobID string, limit int) ([]etl.SyncRunLog, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, job_id, started_at, finished_at, status, rows_read, rows_written, error
		 FROM etl_run_logs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []etl.SyncRunLog
	for rows.Next() {
		var l etl.SyncRunLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.StartedAt, &l.FinishedAt, &l.Status, &l.RowsRead, &l.RowsWritten, &l.Error); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
