package store

import "context"

// Segment is one timestamped transcript fragment (spec §3). It carries no
// speaker field — speaker attribution happens per-claim during mining.
type Segment struct {
	SourceID  string
	SegmentID int
	T0        float64
	T1        float64
	Text      string
}

// WriteSegments inserts segments for a source if they are not already
// present, preserving transcript order in SegmentID (spec §5 ordering
// guarantee: "the Claim Store must preserve per-source insertion order
// when assigning segment_id").
func (s *Store) WriteSegments(ctx context.Context, sourceID string, segments []Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments WHERE source_id = ?`, sourceID).Scan(&count); err != nil {
		return NewStorageError("sqlite", "write_segments", err)
	}
	if count > 0 {
		// Already transcribed for this source; re-transcription overwrites
		// claims but reuses segments (spec §8 scenario 3).
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "write_segments", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (source_id, segment_id, t0, t1, text) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("sqlite", "write_segments", err)
	}
	defer stmt.Close()

	for i, seg := range segments {
		if _, err := stmt.ExecContext(ctx, sourceID, i, seg.T0, seg.T1, seg.Text); err != nil {
			return NewStorageError("sqlite", "write_segments", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "write_segments", err)
	}
	return nil
}

// GetSegments returns every segment for a source in transcript order.
func (s *Store) GetSegments(ctx context.Context, sourceID string) ([]Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, segment_id, t0, t1, text FROM segments WHERE source_id = ? ORDER BY segment_id`, sourceID)
	if err != nil {
		return nil, NewStorageError("sqlite", "get_segments", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.SourceID, &seg.SegmentID, &seg.T0, &seg.T1, &seg.Text); err != nil {
			return nil, NewStorageError("sqlite", "get_segments", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
