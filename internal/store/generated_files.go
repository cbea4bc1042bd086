package store

import (
	"context"
	"time"
)

// GeneratedFileType enumerates the Markdown artifacts produced per source
// (spec §6.1/§6.2).
type GeneratedFileType string

const (
	FileTranscriptMarkdown GeneratedFileType = "transcript_md"
	FileSummaryMarkdown    GeneratedFileType = "summary_md"
)

// GeneratedFile tracks where a derived output file was written, so a rerun
// can detect and overwrite rather than duplicate it.
type GeneratedFile struct {
	SourceID  string
	FileType  GeneratedFileType
	Path      string
	CreatedAt time.Time
}

// RecordGeneratedFile upserts the path for one (source, file_type) pair.
func (s *Store) RecordGeneratedFile(ctx context.Context, f GeneratedFile) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generated_files (source_id, file_type, path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_id, file_type) DO UPDATE SET path = excluded.path, created_at = excluded.created_at`,
		f.SourceID, f.FileType, f.Path, nowRFC3339(f.CreatedAt))
	if err != nil {
		return NewStorageError("sqlite", "record_generated_file", err)
	}
	return nil
}

// GetGeneratedFile returns the recorded path for one (source, file_type)
// pair, or (nil, sql.ErrNoRows) if it has never been written.
func (s *Store) GetGeneratedFile(ctx context.Context, sourceID string, fileType GeneratedFileType) (*GeneratedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f GeneratedFile
	var createdAt string
	f.SourceID = sourceID
	f.FileType = fileType
	err := s.db.QueryRowContext(ctx, `
		SELECT path, created_at FROM generated_files WHERE source_id = ? AND file_type = ?`,
		sourceID, fileType).Scan(&f.Path, &createdAt)
	if err != nil {
		return nil, err
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &f, nil
}
