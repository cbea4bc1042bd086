// Package acquisition implements the C2 Acquisition Scheduler: resilient,
// identity-rotated media download from rate-limited platforms (primarily
// YouTube), with archive-backed deduplication and bounded retry (spec
// §4.2).
//
// Downloads are performed by shelling out to yt-dlp (spec §5's explicit
// "subprocess invocation" blocking-I/O category — no Go-native YouTube
// downloader exists anywhere in the example pack).
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

// formatSelector and formatSort implement spec §4.2's deterministic
// smallest-bitrate selection: "worstaudio[vcodec=none]/worstaudio" sorted
// by (ascending-abr, ascending-asr), with no codec preference.
const (
	formatSelector = "worstaudio[vcodec=none]/worstaudio"
	formatSort     = "+abr,+asr"
)

// genericRetryBackoff is the spec's exact fixed retry sequence for generic
// (non-auth) failures: "[3s, 8s, 15s, 34s] (total ~= 60s)".
var genericRetryBackoff = []time.Duration{3 * time.Second, 8 * time.Second, 15 * time.Second, 34 * time.Second}

// Outcome classifies one URL's final result within a batch.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// URLResult is the per-URL outcome returned by DownloadBatch (spec §4.2:
// "returns a result object enumerating per-URL outcome").
type URLResult struct {
	URL      string
	SourceID string
	Outcome  Outcome
	Reason   string
	Identity int
}

// BatchResult is the outcome of one DownloadBatch call.
type BatchResult struct {
	Results        []URLResult
	FailedURLsPath string
}

// SleepWindow configures a quiet-hours park (spec §4.2).
type SleepWindow struct {
	Enabled   bool
	StartHour int
	EndHour   int
	Location  *time.Location
}

// in reports whether t falls within the configured sleep window, handling
// a window that wraps past midnight.
func (w SleepWindow) in(t time.Time) bool {
	if !w.Enabled {
		return false
	}
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	h := t.In(loc).Hour()
	if w.StartHour == w.EndHour {
		return false
	}
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// Config configures a [Scheduler].
type Config struct {
	YtDlpPath     string
	OutputDir     string
	ArchivePath   string
	FailedURLsDir string

	DelayMin, DelayMax time.Duration
	JitterPercent      int
	AttemptTimeout     time.Duration // default 60s, per spec §4.2

	Sleep SleepWindow

	// RequireIdentities mirrors spec §4.2: a multi-URL batch with zero
	// authenticated identities refuses to start.
	RequireIdentities bool
}

// Scheduler implements the C2 download algorithm against an [IdentityPool]
// and a [store.Store].
type Scheduler struct {
	cfg     Config
	pool    *IdentityPool
	archive *Archive
	store   *store.Store
	logger  *slog.Logger

	sleepPoll time.Duration // overridable by tests
}

// New builds a Scheduler. pool may hold zero identities for anonymous
// (cookie-less) downloads when cfg.RequireIdentities is false.
func New(cfg Config, pool *IdentityPool, archive *Archive, st *store.Store) *Scheduler {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	if cfg.YtDlpPath == "" {
		cfg.YtDlpPath = "yt-dlp"
	}
	return &Scheduler{
		cfg:       cfg,
		pool:      pool,
		archive:   archive,
		store:     st,
		logger:    slog.Default().With("component", "acquisition"),
		sleepPoll: time.Minute,
	}
}

// DownloadBatch runs the full per-URL algorithm of spec §4.2 over urls,
// followed by one retry-queue drain pass, and writes a timestamped
// failed_urls file for anything still failing.
func (s *Scheduler) DownloadBatch(ctx context.Context, urls []string) (*BatchResult, error) {
	if s.cfg.RequireIdentities && len(s.pool.Available()) == 0 {
		return nil, ErrNoIdentities{}
	}

	if _, err := s.archive.Reconcile(s.pathForArchiveEntry); err != nil {
		s.logger.Warn("archive reconciliation failed", "err", err)
	}

	results := make([]URLResult, 0, len(urls))
	var retryQueue []string

	for _, u := range urls {
		r := s.processURL(ctx, u, true)
		results = append(results, r)
		if r.Outcome == OutcomeFailed {
			retryQueue = append(retryQueue, u)
		}
	}

	for _, u := range retryQueue {
		r := s.drainOne(ctx, u)
		// Replace the earlier failed result for this URL with the drain outcome.
		for i := range results {
			if results[i].URL == u {
				results[i] = r
				break
			}
		}
	}

	path, err := writeFailedURLs(s.cfg.FailedURLsDir, results, time.Now())
	if err != nil {
		s.logger.Warn("failed to write failed_urls file", "err", err)
	}

	return &BatchResult{Results: results, FailedURLsPath: path}, nil
}

// processURL runs steps 1-4 of spec §4.2's per-URL algorithm once.
func (s *Scheduler) processURL(ctx context.Context, rawURL string, allowBackoffRetries bool) URLResult {
	sourceID := SourceID(rawURL)
	videoID := VideoID(rawURL)
	platform := "generic"
	if strings.Contains(rawURL, "youtube.com") || strings.Contains(rawURL, "youtu.be") {
		platform = "youtube"
	}

	if existing, err := s.store.GetSource(ctx, sourceID); err == nil && s.archive.Has(platform, videoID) && ValidateFilePath(existing.AudioFilePath) {
		s.setStage(ctx, sourceID, store.StatusSkipped, 0, "", map[string]any{"reason": "already_downloaded"})
		return URLResult{URL: rawURL, SourceID: sourceID, Outcome: OutcomeSkipped, Reason: "already_downloaded"}
	}

	s.waitForSleepWindow(ctx)

	id, err := s.pool.Acquire(ctx, s.cfg.DelayMin, s.cfg.DelayMax, s.cfg.JitterPercent)
	if err != nil {
		return URLResult{URL: rawURL, SourceID: sourceID, Outcome: OutcomeFailed, Reason: err.Error()}
	}

	s.setStage(ctx, sourceID, store.StatusInProgress, 0, fmt.Sprintf("identity-%d", id.Index), nil)

	var lastErr error
	attempts := 1
	if allowBackoffRetries {
		attempts = 1 + len(genericRetryBackoff)
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return URLResult{URL: rawURL, SourceID: sourceID, Outcome: OutcomeFailed, Reason: ctx.Err().Error(), Identity: id.Index}
			case <-time.After(genericRetryBackoff[attempt-1]):
			}
		}

		outcome, isAuth, err := s.attemptDownload(ctx, id, rawURL, sourceID, platform, videoID)
		if err == nil {
			id.recordSuccess()
			_ = s.archive.Add(platform, videoID)
			s.setStage(ctx, sourceID, store.StatusCompleted, 100, fmt.Sprintf("identity-%d", id.Index), nil)
			return outcome
		}

		lastErr = err
		if isAuth {
			disabled := id.recordAuthFailure()
			s.logger.Warn("acquisition auth failure", "identity", id.Index, "disabled", disabled, "url", rawURL)
			break // auth failures are not retried with backoff; go straight to retry queue
		}
		s.logger.Warn("acquisition attempt failed, retrying", "attempt", attempt+1, "url", rawURL, "err", err)
	}

	s.setStage(ctx, sourceID, store.StatusFailed, 0, fmt.Sprintf("identity-%d", id.Index), map[string]any{"error": lastErr.Error()})
	return URLResult{URL: rawURL, SourceID: sourceID, Outcome: OutcomeFailed, Reason: lastErr.Error(), Identity: id.Index}
}

// drainOne tries one retry-queue URL against every still-enabled identity
// once, per spec §4.2 step 5.
func (s *Scheduler) drainOne(ctx context.Context, rawURL string) URLResult {
	sourceID := SourceID(rawURL)
	videoID := VideoID(rawURL)
	platform := "generic"
	if strings.Contains(rawURL, "youtube.com") || strings.Contains(rawURL, "youtu.be") {
		platform = "youtube"
	}

	var lastErr error = errors.New("no identities available to drain")
	for _, id := range s.pool.Available() {
		outcome, _, err := s.attemptDownload(ctx, id, rawURL, sourceID, platform, videoID)
		if err == nil {
			id.recordSuccess()
			_ = s.archive.Add(platform, videoID)
			s.setStage(ctx, sourceID, store.StatusCompleted, 100, fmt.Sprintf("identity-%d", id.Index), nil)
			return outcome
		}
		lastErr = err
	}

	s.setStage(ctx, sourceID, store.StatusFailed, 0, "", map[string]any{"error": lastErr.Error()})
	return URLResult{URL: rawURL, SourceID: sourceID, Outcome: OutcomeFailed, Reason: lastErr.Error()}
}

// attemptDownload runs one yt-dlp invocation with a 60s-default timeout.
func (s *Scheduler) attemptDownload(ctx context.Context, id *Identity, rawURL, sourceID, platform, videoID string) (URLResult, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	outputTemplate := filepath.Join(s.cfg.OutputDir, videoID+".audio")
	args := []string{
		"--no-warnings",
		"-f", formatSelector,
		"-S", formatSort,
		"--download-archive", s.cfg.ArchivePath,
		"-o", outputTemplate,
	}
	if id.CookiesPath != "" {
		args = append(args, "--cookies", id.CookiesPath)
	}
	args = append(args, rawURL)

	cmd := exec.CommandContext(attemptCtx, s.cfg.YtDlpPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		isAuth := isAuthFailure(string(output))
		return URLResult{}, isAuth, fmt.Errorf("yt-dlp: %w: %s", err, truncateOutput(output))
	}

	audioPath := filepath.Join(s.cfg.OutputDir, videoID+".audio")
	_, storeErr := s.store.GetOrCreateSource(ctx, store.Source{
		SourceID:      sourceID,
		Type:          store.SourceURL,
		URL:           rawURL,
		AudioFilePath: audioPath,
	})
	if storeErr != nil {
		return URLResult{}, false, fmt.Errorf("record source: %w", storeErr)
	}

	return URLResult{URL: rawURL, SourceID: sourceID, Outcome: OutcomeCompleted, Identity: id.Index}, false, nil
}

func isAuthFailure(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "sign in to confirm") || strings.Contains(lower, "authentication")
}

func truncateOutput(b []byte) string {
	const max = 2000
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "...(truncated)"
}

func (s *Scheduler) waitForSleepWindow(ctx context.Context) {
	for s.cfg.Sleep.in(time.Now()) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.sleepPoll):
		}
	}
}

// pathForArchiveEntry resolves an archive row to the audio file it names,
// per spec §8's "scan OutputDir for a file whose name contains the video
// id": attemptDownload always writes the downloaded audio to
// OutputDir/videoID+".audio" regardless of platform, so that deterministic
// path is checked directly rather than re-deriving the Media Store's
// SourceID (which is namespaced by URL host, e.g. "youtube.com", not by
// the short "youtube"/"generic" platform label archive entries carry).
func (s *Scheduler) pathForArchiveEntry(_, videoID string) string {
	return filepath.Join(s.cfg.OutputDir, videoID+".audio")
}

func (s *Scheduler) setStage(ctx context.Context, sourceID string, status store.StageStatusValue, progress float64, worker string, meta map[string]any) {
	if err := s.store.UpsertStageStatus(ctx, store.StageStatus{
		SourceID:        sourceID,
		Stage:           store.StageDownload,
		Status:          status,
		ProgressPercent: progress,
		WorkerID:        worker,
		Metadata:        meta,
		LastUpdated:     time.Now(),
	}); err != nil {
		s.logger.Warn("stage status write failed", "source_id", sourceID, "err", err)
	}
}
