// Package orchestrator implements the C11 Job Orchestrator: the state
// machine that drives a Job through its Job-Runs, persists checkpoints,
// chains auto_process pipelines, and periodically resumes failed runs
// (spec §4.11).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/knowledgeminer/knowledgeminer/internal/llmadapter"
	"github.com/knowledgeminer/knowledgeminer/internal/orchestrator/events"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

// chain is the fixed auto_process sequence of spec §4.11: "auto_process=true
// chains download -> transcribe -> mine -> evaluate -> store". Storage
// happens inside the mine/evaluate stage funcs themselves (via
// store.SaveMinedResult), so the job-level chain only needs these four
// entries.
var chain = []store.JobType{store.JobDownload, store.JobTranscribe, store.JobMine, store.JobEvaluate}

// stageForJobType maps a job type to the Source-Stage-Status row it drives,
// for status/event bookkeeping. JobUpload has no dedicated pipeline stage
// in spec §3's five-stage list; it is folded into StageStorage since
// export is the final disposition of a source's data, same as storage.
var stageForJobType = map[store.JobType]store.Stage{
	store.JobDownload:   store.StageDownload,
	store.JobTranscribe: store.StageTranscription,
	store.JobMine:       store.StageMining,
	store.JobEvaluate:   store.StageEvaluation,
	store.JobUpload:     store.StageStorage,
}

// StageFunc executes one job type's work for a single source, returning an
// updated checkpoint to persist. Implementations live in the acquisition,
// transcribe, mining, and evaluate packages; this package only sequences
// and persists their results.
type StageFunc func(ctx context.Context, sourceID string, checkpoint map[string]any) (nextCheckpoint map[string]any, err error)

type runIDKey struct{}

// RunIDFromContext returns the Job-Run ID the current StageFunc is
// executing under, for stamping LLM audit logs (spec §4.10's job_run_id).
// Absent outside a StageFunc call.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// MemoryReader overrides system-memory sampling for the pre-admission
// check (spec §5: "memory budget ~65% of free memory reserved for active
// sources"). Swappable in tests.
type MemoryReader func() (usedPercent float64, err error)

func systemMemoryReader() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// admissionThreshold is the used-memory percentage above which the
// Orchestrator refuses to start a new run rather than risk starving
// already-active sources (spec §5's ~65%-reserved budget, expressed as a
// refusal threshold on the remaining headroom).
const admissionThreshold = 90.0

// ErrMemoryPressure is returned by ProcessJob when the pre-admission check
// fails.
var ErrMemoryPressure = errors.New("orchestrator: refusing new run under memory pressure")

// maxAutoRetries bounds how many times the periodic sweep will resume the
// same failed run before leaving it failed for good (spec §4.11: "transient
// -> auto-reschedule up to a cap").
const maxAutoRetries = 3

// listAllJobsLimit is used where a job must be looked up by ID: ListJobs
// has no unlimited sentinel (0 means zero rows, not "all"), so callers
// that need the full set pass this instead.
const listAllJobsLimit = 1_000_000

// Config configures an [Orchestrator].
type Config struct {
	Store *store.Store
	Bus   *events.Bus

	// Stages supplies the executable logic for each job type. A job type
	// with no entry fails immediately when processed.
	Stages map[store.JobType]StageFunc

	MemoryReader MemoryReader

	// SweepInterval is the standard-cron expression the periodic
	// resume_failed_jobs sweep runs on. Empty disables the sweep.
	SweepInterval string

	// SnapshotTTL bounds how long get_stage_snapshot serves a cached
	// result before re-querying the store (spec §6.3: "2s cache").
	SnapshotTTL time.Duration
}

// Orchestrator drives Job-Runs through their state machine.
type Orchestrator struct {
	store  *store.Store
	bus    *events.Bus
	stages map[store.JobType]StageFunc
	memRead MemoryReader

	sweepExpr string
	cron      *cron.Cron
	cronMu    sync.Mutex

	snapshotTTL time.Duration
	snapMu      sync.Mutex
	snapshots   map[string]snapshotEntry

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	logger *slog.Logger
}

type snapshotEntry struct {
	at   time.Time
	rows []store.StageStatus
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	memRead := cfg.MemoryReader
	if memRead == nil {
		memRead = systemMemoryReader
	}
	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Orchestrator{
		store:       cfg.Store,
		bus:         cfg.Bus,
		stages:      cfg.Stages,
		memRead:     memRead,
		sweepExpr:   cfg.SweepInterval,
		snapshotTTL: ttl,
		snapshots:   make(map[string]snapshotEntry),
		cancels:     make(map[string]context.CancelFunc),
		logger:      slog.Default().With("component", "orchestrator"),
	}
}

// CreateJob persists a new Job and returns its ID (spec §6.3 create_job).
func (o *Orchestrator) CreateJob(ctx context.Context, jobType store.JobType, inputID string, config map[string]any, autoProcess bool) (string, error) {
	jobID := uuid.NewString()
	job := store.Job{
		JobID:       jobID,
		Type:        jobType,
		InputID:     inputID,
		Config:      config,
		AutoProcess: autoProcess,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("orchestrator: create job: %w", err)
	}
	return jobID, nil
}

// ListJobs implements spec §6.3 list_jobs(limit).
func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]store.Job, error) {
	return o.store.ListJobs(ctx, limit)
}

// ResumeFailedJobs implements spec §6.3 resume_failed_jobs(job_type?): it
// requeues every failed run not yet resumed and under its auto-retry cap as a fresh Job-Run
// from its last checkpoint, and processes each synchronously.
func (o *Orchestrator) ResumeFailedJobs(ctx context.Context, jobType store.JobType) (int, error) {
	runs, err := o.store.ResumeFailedJobs(ctx, jobType)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: resume failed jobs: %w", err)
	}

	resumed := 0
	for _, run := range runs {
		retries, _ := run.Checkpoint["auto_retries"].(float64)
		if int(retries) >= maxAutoRetries {
			continue
		}
		if run.Checkpoint["resumed"] == true {
			continue
		}

		jobs, err := o.store.ListJobs(ctx, listAllJobsLimit)
		if err != nil {
			o.logger.Warn("resume sweep: list jobs failed", "err", err)
			continue
		}
		var job *store.Job
		for i := range jobs {
			if jobs[i].JobID == run.JobID {
				job = &jobs[i]
				break
			}
		}
		if job == nil {
			continue
		}

		checkpoint := map[string]any{}
		marked := map[string]any{"resumed": true}
		for k, v := range run.Checkpoint {
			checkpoint[k] = v
			marked[k] = v
		}
		checkpoint["auto_retries"] = retries + 1

		// Mark the failed run so later sweeps resume only its successor.
		run.Checkpoint = marked
		if err := o.store.UpdateJobRun(ctx, run); err != nil {
			o.logger.Warn("resume sweep: mark run resumed failed", "run_id", run.RunID, "err", err)
			continue
		}

		if _, err := o.startRun(ctx, *job, checkpoint); err != nil {
			o.logger.Warn("resume sweep: run failed again", "job_id", job.JobID, "err", err)
		}
		resumed++
	}
	return resumed, nil
}

// StartSweep starts the periodic resume_failed_jobs sweep on the
// configured cron schedule (grounded on the robfig/cron/v3 periodic-sweep
// pattern). A no-op if SweepInterval was left empty.
func (o *Orchestrator) StartSweep(ctx context.Context) error {
	if o.sweepExpr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(o.sweepExpr); err != nil {
		return fmt.Errorf("orchestrator: invalid sweep schedule %q: %w", o.sweepExpr, err)
	}

	o.cronMu.Lock()
	defer o.cronMu.Unlock()
	if o.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(o.sweepExpr, func() {
		if _, err := o.ResumeFailedJobs(ctx, ""); err != nil {
			o.logger.Warn("sweep: resume_failed_jobs failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("orchestrator: schedule sweep: %w", err)
	}
	c.Start()
	o.cron = c

	go func() {
		<-ctx.Done()
		o.StopSweep()
	}()
	return nil
}

// StopSweep stops the periodic sweep, if running.
func (o *Orchestrator) StopSweep() {
	o.cronMu.Lock()
	defer o.cronMu.Unlock()
	if o.cron != nil {
		o.cron.Stop()
		o.cron = nil
	}
}

// ProcessJob runs jobID's next Job-Run to completion, chaining into the
// next pipeline stage when the job's auto_process flag is set (spec §6.3
// process_job, §4.11 chaining). Returns the run ID of the run it started.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string) (string, error) {
	if err := o.checkMemoryAdmission(ctx); err != nil {
		return "", err
	}

	jobs, err := o.store.ListJobs(ctx, listAllJobsLimit)
	if err != nil {
		return "", fmt.Errorf("orchestrator: list jobs: %w", err)
	}
	var job *store.Job
	for i := range jobs {
		if jobs[i].JobID == jobID {
			job = &jobs[i]
			break
		}
	}
	if job == nil {
		return "", fmt.Errorf("orchestrator: unknown job %q", jobID)
	}

	// The first run of a job seeds its checkpoint from the job's own
	// config (e.g. a download job's source URL); a resumed run instead
	// carries forward its last JobRun.Checkpoint via ResumeFailedJobs.
	checkpoint := job.Config
	if checkpoint == nil {
		checkpoint = map[string]any{}
	}
	return o.startRun(ctx, *job, checkpoint)
}

// Cancel requests cooperative cancellation of runID (spec §4.11:
// "cancellation is cooperative via token polled at suspension points").
// It is a no-op if the run is not currently executing in this process.
func (o *Orchestrator) Cancel(runID string) {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	if cancel, ok := o.cancels[runID]; ok {
		cancel()
	}
}

// GetStageSnapshot returns the current stage-status rows for sourceID,
// served from a short-lived cache (spec §6.3 get_stage_snapshot: "2s
// cache").
func (o *Orchestrator) GetStageSnapshot(ctx context.Context, sourceID string) ([]store.StageStatus, error) {
	o.snapMu.Lock()
	if entry, ok := o.snapshots[sourceID]; ok && time.Since(entry.at) < o.snapshotTTL {
		o.snapMu.Unlock()
		return entry.rows, nil
	}
	o.snapMu.Unlock()

	rows, err := o.store.ListStageStatuses(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	o.snapMu.Lock()
	o.snapshots[sourceID] = snapshotEntry{at: time.Now(), rows: rows}
	o.snapMu.Unlock()

	return rows, nil
}

// SubscribeStageEvents implements spec §6.3 subscribe_stage_events.
func (o *Orchestrator) SubscribeStageEvents() (<-chan events.Event, func()) {
	return o.bus.Subscribe()
}

func (o *Orchestrator) checkMemoryAdmission(ctx context.Context) error {
	used, err := o.memRead()
	if err != nil {
		return nil // fail open; observability failure shouldn't stall the pipeline
	}
	if used >= admissionThreshold {
		return fmt.Errorf("%w: %.1f%% used", ErrMemoryPressure, used)
	}
	return nil
}

func (o *Orchestrator) startRun(ctx context.Context, job store.Job, checkpoint map[string]any) (string, error) {
	runID := uuid.NewString()
	now := time.Now()
	if err := o.store.CreateJobRun(ctx, store.JobRun{
		RunID:      runID,
		JobID:      job.JobID,
		Status:     store.RunRunning,
		StartedAt:  &now,
		Checkpoint: checkpoint,
	}); err != nil {
		return "", fmt.Errorf("orchestrator: create job run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancelMu.Lock()
	o.cancels[runID] = cancel
	o.cancelMu.Unlock()
	defer func() {
		o.cancelMu.Lock()
		delete(o.cancels, runID)
		o.cancelMu.Unlock()
		cancel()
	}()

	o.runChain(runCtx, job, runID, checkpoint)
	return runID, nil
}

// runChain executes job.Type's stage, and — if job.AutoProcess is set and
// it succeeds — walks the rest of chain for the same source, creating and
// running a fresh Job/JobRun for each subsequent stage.
func (o *Orchestrator) runChain(ctx context.Context, job store.Job, runID string, checkpoint map[string]any) {
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	fn, ok := o.stages[job.Type]
	if !ok {
		o.finishRun(ctx, runID, job.InputID, job.Type, fmt.Errorf("orchestrator: no stage registered for job type %q", job.Type), checkpoint)
		return
	}

	next, err := fn(ctx, job.InputID, checkpoint)
	o.finishRun(ctx, runID, job.InputID, job.Type, err, next)
	if err != nil {
		return
	}

	if !job.AutoProcess {
		return
	}

	idx := chainIndex(job.Type)
	if idx < 0 || idx+1 >= len(chain) {
		return
	}
	nextType := chain[idx+1]

	nextJobID, cerr := o.CreateJob(ctx, nextType, job.InputID, job.Config, true)
	if cerr != nil {
		o.logger.Warn("chaining: create next job failed", "source_id", job.InputID, "next_type", nextType, "err", cerr)
		return
	}
	if _, perr := o.ProcessJob(ctx, nextJobID); perr != nil {
		o.logger.Warn("chaining: process next job failed", "source_id", job.InputID, "next_type", nextType, "err", perr)
	}
}

func chainIndex(t store.JobType) int {
	for i, c := range chain {
		if c == t {
			return i
		}
	}
	return -1
}

// finishRun persists the run's terminal state, the corresponding
// stage-status row, and publishes a bus event — all three in the order
// spec §4.11 implies: store is authoritative, the bus is informational.
func (o *Orchestrator) finishRun(ctx context.Context, runID, sourceID string, jobType store.JobType, err error, checkpoint map[string]any) {
	now := time.Now()
	run := store.JobRun{RunID: runID, EndedAt: &now, Checkpoint: checkpoint}

	stage := stageForJobType[jobType]
	status := store.StatusCompleted
	progress := 100.0

	switch {
	case err == nil:
		run.Status = store.RunSucceeded
	case errors.Is(err, context.Canceled):
		run.Status = store.RunCancelled
		status = store.StatusFailed
		progress = 0
		run.ErrorMessage = err.Error()
	default:
		run.Status = store.RunFailed
		status = store.StatusFailed
		progress = 0
		run.ErrorCode, run.ErrorMessage = classify(err)
	}

	if uerr := o.store.UpdateJobRun(ctx, run); uerr != nil {
		o.logger.Warn("finish run: update job run failed", "run_id", runID, "err", uerr)
	}

	if sourceID != "" {
		meta := map[string]any{}
		if err != nil {
			meta["error"] = err.Error()
		}
		if uerr := o.store.UpsertStageStatus(ctx, store.StageStatus{
			SourceID:        sourceID,
			Stage:           stage,
			Status:          status,
			ProgressPercent: progress,
			Metadata:        meta,
			LastUpdated:     now,
		}); uerr != nil {
			o.logger.Warn("finish run: stage status update failed", "run_id", runID, "err", uerr)
		}

		o.snapMu.Lock()
		delete(o.snapshots, sourceID)
		o.snapMu.Unlock()

		if o.bus != nil {
			o.bus.Publish(events.Event{
				SourceID:  sourceID,
				Stage:     stage,
				Status:    status,
				Progress:  progress,
				Metadata:  meta,
				Timestamp: now,
			})
		}
	}
}

// classify derives a stable error code/message pair for job_runs, per spec
// §7's structured error envelope. Typed adapter errors carry their own
// code; everything else gets a generic pipeline code.
func classify(err error) (code, message string) {
	var adapterErr *llmadapter.Error
	if errors.As(err, &adapterErr) {
		return adapterErr.Code, adapterErr.Error()
	}
	return "pipeline_error", err.Error()
}
