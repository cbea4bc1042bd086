package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SourceType enumerates the kinds of media a Source can represent.
type SourceType string

const (
	SourceURL         SourceType = "url"
	SourceLocalAudio  SourceType = "local_audio"
	SourceLocalVideo  SourceType = "local_video"
	SourceDocument    SourceType = "document"
)

// Source is one acquired media item, per spec §3.
type Source struct {
	SourceID           string
	Type               SourceType
	URL                string
	FilePath           string
	Title              string
	DurationSeconds    float64
	Uploader           string
	UploadDate         string
	Description        string
	Tags               []string
	Chapters           []Chapter
	ThumbnailLocalPath string
	Checksum           string
	AudioFilePath      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Chapter is one named timestamp range within a Source, taken from platform metadata.
type Chapter struct {
	Title string  `json:"title"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// GetOrCreateSource implements the C1 operation of the same name: an
// idempotent upsert keyed by the caller-supplied deterministic SourceID.
// On conflict, non-zero fields of attrs are merged into the existing row;
// SourceID is never overwritten, and AudioFilePath is only overwritten if
// attrs.AudioFilePath is explicitly non-empty (invariant 4).
func (s *Store) GetOrCreateSource(ctx context.Context, attrs Source) (*Source, error) {
	if attrs.SourceID == "" {
		return nil, NewStorageError("sqlite", "get_or_create_source", errors.New("source_id is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewStorageError("sqlite", "get_or_create_source", err)
	}
	defer tx.Rollback()

	existing, err := getSourceTx(ctx, tx, attrs.SourceID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, NewStorageError("sqlite", "get_or_create_source", err)
	}

	now := time.Now()
	var merged Source
	if existing == nil {
		merged = attrs
		merged.CreatedAt = now
		merged.UpdatedAt = now
		if err := insertSourceTx(ctx, tx, merged); err != nil {
			return nil, NewStorageError("sqlite", "get_or_create_source", err)
		}
	} else {
		merged = mergeSource(*existing, attrs)
		merged.UpdatedAt = now
		if err := updateSourceTx(ctx, tx, merged); err != nil {
			return nil, NewStorageError("sqlite", "get_or_create_source", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, NewStorageError("sqlite", "get_or_create_source", err)
	}
	return &merged, nil
}

// mergeSource overlays non-zero fields of patch onto base, preserving
// base.SourceID and base.AudioFilePath unless patch explicitly sets one.
func mergeSource(base, patch Source) Source {
	merged := base
	if patch.Type != "" {
		merged.Type = patch.Type
	}
	if patch.URL != "" {
		merged.URL = patch.URL
	}
	if patch.FilePath != "" {
		merged.FilePath = patch.FilePath
	}
	if patch.Title != "" {
		merged.Title = patch.Title
	}
	if patch.DurationSeconds != 0 {
		merged.DurationSeconds = patch.DurationSeconds
	}
	if patch.Uploader != "" {
		merged.Uploader = patch.Uploader
	}
	if patch.UploadDate != "" {
		merged.UploadDate = patch.UploadDate
	}
	if patch.Description != "" {
		merged.Description = patch.Description
	}
	if len(patch.Tags) > 0 {
		merged.Tags = patch.Tags
	}
	if len(patch.Chapters) > 0 {
		merged.Chapters = patch.Chapters
	}
	if patch.ThumbnailLocalPath != "" {
		merged.ThumbnailLocalPath = patch.ThumbnailLocalPath
	}
	if patch.Checksum != "" {
		merged.Checksum = patch.Checksum
	}
	if patch.AudioFilePath != "" {
		merged.AudioFilePath = patch.AudioFilePath
	}
	return merged
}

// UpdateSource applies a partial update to an existing Source.
func (s *Store) UpdateSource(ctx context.Context, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "update_source", err)
	}
	defer tx.Rollback()

	existing, err := getSourceTx(ctx, tx, src.SourceID)
	if err != nil {
		return NewStorageError("sqlite", "update_source", err)
	}
	merged := mergeSource(*existing, src)
	merged.UpdatedAt = time.Now()
	if err := updateSourceTx(ctx, tx, merged); err != nil {
		return NewStorageError("sqlite", "update_source", err)
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "update_source", err)
	}
	return nil
}

// GetSourcesBatch fetches many sources in a single query, eliminating N+1
// lookups in callers that iterate over a result set of source IDs.
func (s *Store) GetSourcesBatch(ctx context.Context, sourceIDs []string) (map[string]*Source, error) {
	out := make(map[string]*Source, len(sourceIDs))
	if len(sourceIDs) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(sourceIDs))
	args := make([]any, len(sourceIDs))
	for i, id := range sourceIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM sources WHERE source_id IN (%s)`,
		sourceColumns, joinPlaceholders(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "get_sources_batch", err)
	}
	defer rows.Close()

	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "get_sources_batch", err)
		}
		out[src.SourceID] = src
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "get_sources_batch", err)
	}
	return out, nil
}

// GetSource fetches a single Source, or (nil, sql.ErrNoRows) if absent.
func (s *Store) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE source_id = ?`, sourceID)
	return scanSource(row)
}

const sourceColumns = `source_id, type, url, file_path, title, duration_seconds, uploader, upload_date,
	description, tags, chapters, thumbnail_local_path, checksum, audio_file_path, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var tagsJSON, chaptersJSON sql.NullString
	var createdAt, updatedAt string
	var url, filePath, title, uploader, uploadDate, description, thumb, checksum, audioPath sql.NullString

	err := row.Scan(
		&src.SourceID, &src.Type, &url, &filePath, &title, &src.DurationSeconds, &uploader, &uploadDate,
		&description, &tagsJSON, &chaptersJSON, &thumb, &checksum, &audioPath, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	src.URL = url.String
	src.FilePath = filePath.String
	src.Title = title.String
	src.Uploader = uploader.String
	src.UploadDate = uploadDate.String
	src.Description = description.String
	src.ThumbnailLocalPath = thumb.String
	src.Checksum = checksum.String
	src.AudioFilePath = audioPath.String

	if tagsJSON.Valid && tagsJSON.String != "" {
		json.Unmarshal([]byte(tagsJSON.String), &src.Tags)
	}
	if chaptersJSON.Valid && chaptersJSON.String != "" {
		json.Unmarshal([]byte(chaptersJSON.String), &src.Chapters)
	}
	src.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	src.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &src, nil
}

func getSourceTx(ctx context.Context, tx *sql.Tx, sourceID string) (*Source, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE source_id = ?`, sourceID)
	return scanSource(row)
}

func insertSourceTx(ctx context.Context, tx *sql.Tx, src Source) error {
	tags, _ := json.Marshal(src.Tags)
	chapters, _ := json.Marshal(src.Chapters)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sources (source_id, type, url, file_path, title, duration_seconds, uploader, upload_date,
			description, tags, chapters, thumbnail_local_path, checksum, audio_file_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.SourceID, src.Type, src.URL, src.FilePath, src.Title, src.DurationSeconds, src.Uploader, src.UploadDate,
		src.Description, string(tags), string(chapters), src.ThumbnailLocalPath, src.Checksum, src.AudioFilePath,
		nowRFC3339(src.CreatedAt), nowRFC3339(src.UpdatedAt))
	return err
}

func updateSourceTx(ctx context.Context, tx *sql.Tx, src Source) error {
	tags, _ := json.Marshal(src.Tags)
	chapters, _ := json.Marshal(src.Chapters)
	_, err := tx.ExecContext(ctx, `
		UPDATE sources SET type=?, url=?, file_path=?, title=?, duration_seconds=?, uploader=?, upload_date=?,
			description=?, tags=?, chapters=?, thumbnail_local_path=?, checksum=?, audio_file_path=?, updated_at=?
		WHERE source_id=?`,
		src.Type, src.URL, src.FilePath, src.Title, src.DurationSeconds, src.Uploader, src.UploadDate,
		src.Description, string(tags), string(chapters), src.ThumbnailLocalPath, src.Checksum, src.AudioFilePath,
		nowRFC3339(src.UpdatedAt), src.SourceID)
	return err
}

func joinPlaceholders(ph []string) string {
	out := ""
	for i, p := range ph {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
