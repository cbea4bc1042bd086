package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Stage is one step of the per-source pipeline, per spec §3/§9 glossary.
type Stage string

const (
	StageDownload     Stage = "download"
	StageTranscription Stage = "transcription"
	StageMining       Stage = "mining"
	StageEvaluation   Stage = "evaluation"
	StageStorage      Stage = "storage"
)

// StageStatusValue enumerates the states a (source, stage) pair can be in.
type StageStatusValue string

const (
	StatusPending     StageStatusValue = "pending"
	StatusQueued      StageStatusValue = "queued"
	StatusScheduled   StageStatusValue = "scheduled"
	StatusInProgress  StageStatusValue = "in_progress"
	StatusBlocked     StageStatusValue = "blocked"
	StatusCompleted   StageStatusValue = "completed"
	StatusFailed      StageStatusValue = "failed"
	StatusSkipped     StageStatusValue = "skipped"
	StatusNotApplicable StageStatusValue = "not_applicable"
)

// StageStatus is one row of Source-Stage-Status (spec §3).
type StageStatus struct {
	SourceID        string
	Stage           Stage
	Status          StageStatusValue
	ProgressPercent float64
	WorkerID        string
	Metadata        map[string]any
	LastUpdated     time.Time
}

// UpsertStageStatus implements the C1 operation of the same name: it is
// atomic and only overwrites the row if the new LastUpdated is not earlier
// than what is already stored, preserving the monotonicity invariant (§3
// invariant 3, testable property "Stage-status monotonicity").
func (s *Store) UpsertStageStatus(ctx context.Context, st StageStatus) error {
	if st.LastUpdated.IsZero() {
		st.LastUpdated = time.Now()
	}
	metaJSON, _ := json.Marshal(st.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "upsert_stage_status", err)
	}
	defer tx.Rollback()

	var existingUpdated string
	err = tx.QueryRowContext(ctx,
		`SELECT last_updated FROM source_stage_status WHERE source_id = ? AND stage = ?`,
		st.SourceID, st.Stage).Scan(&existingUpdated)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_stage_status (source_id, stage, status, progress_percent, worker_id, metadata, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.SourceID, st.Stage, st.Status, st.ProgressPercent, st.WorkerID, string(metaJSON), nowRFC3339(st.LastUpdated))
		if err != nil {
			return NewStorageError("sqlite", "upsert_stage_status", err)
		}
	case err != nil:
		return NewStorageError("sqlite", "upsert_stage_status", err)
	default:
		prev, perr := time.Parse(time.RFC3339Nano, existingUpdated)
		if perr == nil && st.LastUpdated.Before(prev) {
			// Stale write; silently ignore per the "overwrite only if later" contract.
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE source_stage_status SET status=?, progress_percent=?, worker_id=?, metadata=?, last_updated=?
			WHERE source_id=? AND stage=?`,
			st.Status, st.ProgressPercent, st.WorkerID, string(metaJSON), nowRFC3339(st.LastUpdated),
			st.SourceID, st.Stage)
		if err != nil {
			return NewStorageError("sqlite", "upsert_stage_status", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "upsert_stage_status", err)
	}
	return nil
}

// GetStageStatus reads the current status of one (source, stage) pair.
func (s *Store) GetStageStatus(ctx context.Context, sourceID string, stage Stage) (*StageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st StageStatus
	var metaJSON sql.NullString
	var workerID sql.NullString
	var lastUpdated string
	st.SourceID = sourceID
	st.Stage = stage

	err := s.db.QueryRowContext(ctx, `
		SELECT status, progress_percent, worker_id, metadata, last_updated
		FROM source_stage_status WHERE source_id = ? AND stage = ?`,
		sourceID, stage).Scan(&st.Status, &st.ProgressPercent, &workerID, &metaJSON, &lastUpdated)
	if err != nil {
		return nil, err
	}
	st.WorkerID = workerID.String
	if metaJSON.Valid && metaJSON.String != "" {
		json.Unmarshal([]byte(metaJSON.String), &st.Metadata)
	}
	st.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
	return &st, nil
}

// ListStageStatuses returns every stage row for a source, used by the
// orchestrator's GetStageSnapshot.
func (s *Store) ListStageStatuses(ctx context.Context, sourceID string) ([]StageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, status, progress_percent, worker_id, metadata, last_updated
		FROM source_stage_status WHERE source_id = ? ORDER BY stage`, sourceID)
	if err != nil {
		return nil, NewStorageError("sqlite", "list_stage_statuses", err)
	}
	defer rows.Close()

	var out []StageStatus
	for rows.Next() {
		var st StageStatus
		var metaJSON, workerID sql.NullString
		var lastUpdated string
		st.SourceID = sourceID
		if err := rows.Scan(&st.Stage, &st.Status, &st.ProgressPercent, &workerID, &metaJSON, &lastUpdated); err != nil {
			return nil, NewStorageError("sqlite", "list_stage_statuses", err)
		}
		st.WorkerID = workerID.String
		if metaJSON.Valid && metaJSON.String != "" {
			json.Unmarshal([]byte(metaJSON.String), &st.Metadata)
		}
		st.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
		out = append(out, st)
	}
	return out, rows.Err()
}
