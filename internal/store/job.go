package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// JobType enumerates the pipeline stage a Job drives, or "pipeline" for the
// full download→transcribe→mine→evaluate→store chain.
type JobType string

const (
	JobDownload   JobType = "download"
	JobTranscribe JobType = "transcribe"
	JobMine       JobType = "mine"
	JobEvaluate   JobType = "evaluate"
	JobUpload     JobType = "upload"
	JobPipeline   JobType = "pipeline"
)

// RunStatus enumerates the states of one Job-Run (spec §3).
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Job is a unit of requested work, independent of how many times it runs.
type Job struct {
	JobID       string
	Type        JobType
	InputID     string
	Config      map[string]any
	AutoProcess bool
	CreatedAt   time.Time
}

// JobRun is one execution attempt of a Job, carrying checkpoint state so a
// failed run can resume rather than restart (spec §4.11).
type JobRun struct {
	RunID        string
	JobID        string
	Status       RunStatus
	StartedAt    *time.Time
	EndedAt      *time.Time
	Checkpoint   map[string]any
	ErrorCode    string
	ErrorMessage string
}

// CreateJob persists a new Job in isolation from any run.
func (s *Store) CreateJob(ctx context.Context, job Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	configJSON, _ := json.Marshal(job.Config)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, job_type, input_id, config, auto_process, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Type, job.InputID, string(configJSON), job.AutoProcess, nowRFC3339(job.CreatedAt))
	if err != nil {
		return NewStorageError("sqlite", "create_job", err)
	}
	return nil
}

// ListJobs returns the most recently created jobs, newest first, bounded by
// limit (spec §4.11 list_jobs(limit)).
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, job_type, input_id, config, auto_process, created_at
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, NewStorageError("sqlite", "list_jobs", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var configJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&j.JobID, &j.Type, &j.InputID, &configJSON, &j.AutoProcess, &createdAt); err != nil {
			return nil, NewStorageError("sqlite", "list_jobs", err)
		}
		if configJSON.Valid && configJSON.String != "" {
			json.Unmarshal([]byte(configJSON.String), &j.Config)
		}
		j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, j)
	}
	return out, rows.Err()
}

// CreateJobRun inserts a new run for an existing job in the queued state.
func (s *Store) CreateJobRun(ctx context.Context, run JobRun) error {
	checkpointJSON, _ := json.Marshal(run.Checkpoint)
	if run.Status == "" {
		run.Status = RunQueued
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (run_id, job_id, status, started_at, ended_at, checkpoint, error_code, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.JobID, run.Status, nullableTime(run.StartedAt), nullableTime(run.EndedAt),
		string(checkpointJSON), run.ErrorCode, run.ErrorMessage)
	if err != nil {
		return NewStorageError("sqlite", "create_job_run", err)
	}
	return nil
}

// UpdateJobRun transitions a run's status and persists its checkpoint, so a
// crash mid-run can resume from the last recorded checkpoint rather than
// restarting the whole chain (spec §4.11).
func (s *Store) UpdateJobRun(ctx context.Context, run JobRun) error {
	checkpointJSON, _ := json.Marshal(run.Checkpoint)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET status=?, started_at=?, ended_at=?, checkpoint=?, error_code=?, error_message=?
		WHERE run_id=?`,
		run.Status, nullableTime(run.StartedAt), nullableTime(run.EndedAt),
		string(checkpointJSON), run.ErrorCode, run.ErrorMessage, run.RunID)
	if err != nil {
		return NewStorageError("sqlite", "update_job_run", err)
	}
	return nil
}

// GetJobRun fetches one run by ID.
func (s *Store) GetJobRun(ctx context.Context, runID string) (*JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run JobRun
	var startedAt, endedAt, checkpointJSON sql.NullString
	run.RunID = runID
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, status, started_at, ended_at, checkpoint, error_code, error_message
		FROM job_runs WHERE run_id = ?`, runID).Scan(
		&run.JobID, &run.Status, &startedAt, &endedAt, &checkpointJSON, &run.ErrorCode, &run.ErrorMessage)
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseNullableTime(startedAt)
	run.EndedAt = parseNullableTime(endedAt)
	if checkpointJSON.Valid && checkpointJSON.String != "" {
		json.Unmarshal([]byte(checkpointJSON.String), &run.Checkpoint)
	}
	return &run, nil
}

// ResumeFailedJobs returns every failed run whose job matches jobType (or
// every failed run if jobType is empty), newest-job-first, so the
// orchestrator's periodic sweep can requeue them from their checkpoint
// (spec §4.11 resume_failed_jobs(job_type?)).
func (s *Store) ResumeFailedJobs(ctx context.Context, jobType JobType) ([]JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT r.run_id, r.job_id, r.status, r.started_at, r.ended_at, r.checkpoint, r.error_code, r.error_message
		FROM job_runs r JOIN jobs j ON j.job_id = r.job_id
		WHERE r.status = ?`
	args := []any{RunFailed}
	if jobType != "" {
		query += ` AND j.job_type = ?`
		args = append(args, jobType)
	}
	query += ` ORDER BY j.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "resume_failed_jobs", err)
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var run JobRun
		var startedAt, endedAt, checkpointJSON sql.NullString
		if err := rows.Scan(&run.RunID, &run.JobID, &run.Status, &startedAt, &endedAt, &checkpointJSON, &run.ErrorCode, &run.ErrorMessage); err != nil {
			return nil, NewStorageError("sqlite", "resume_failed_jobs", err)
		}
		run.StartedAt = parseNullableTime(startedAt)
		run.EndedAt = parseNullableTime(endedAt)
		if checkpointJSON.Valid && checkpointJSON.String != "" {
			json.Unmarshal([]byte(checkpointJSON.String), &run.Checkpoint)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return nowRFC3339(*t)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
