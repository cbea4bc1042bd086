package acquisition_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knowledgeminer/knowledgeminer/internal/acquisition"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(&store.Config{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// writeFakeYtDlp writes a shell script standing in for yt-dlp: it parses
// the -o output template and the trailing URL, writes a dummy audio file
// large enough to pass archive validation, then exits with body's status.
func writeFakeYtDlp(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-yt-dlp.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake yt-dlp: %v", err)
	}
	return path
}

// successBody stands in for yt-dlp: it reads the -o output template's
// directory and the trailing URL, derives a video ID from the URL the same
// way acquisition.VideoID does for a standard youtube.com "v=" link, and
// writes a dummy 16KiB audio file there so ValidateFilePath passes.
const successBody = `
out=""
url=""
while [ "$#" -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    --cookies) shift 2 ;;
    -f) shift 2 ;;
    -S) shift 2 ;;
    --download-archive) shift 2 ;;
    --no-warnings) shift ;;
    *) url="$1"; shift ;;
  esac
done
dir=$(dirname "$out")
id=$(echo "$url" | sed -n 's/.*v=\([A-Za-z0-9_-]\{11\}\).*/\1/p')
if [ -z "$id" ]; then
  id="unknown"
fi
dd if=/dev/zero of="$dir/$id.audio" bs=1024 count=16 >/dev/null 2>&1
exit 0
`

const authFailureBody = `
echo "ERROR: Sign in to confirm your age" >&2
exit 1
`

const genericFailureBody = `
echo "ERROR: network unreachable" >&2
exit 1
`

func newScheduler(t *testing.T, ytDlpPath string, requireIdentities bool) (*acquisition.Scheduler, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s := newTestStore(t)
	pool := acquisition.NewIdentityPool([]string{""})
	archive, err := acquisition.LoadArchive(filepath.Join(dir, "archive.txt"))
	if err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}

	sched := acquisition.New(acquisition.Config{
		YtDlpPath:         ytDlpPath,
		OutputDir:         dir,
		ArchivePath:       filepath.Join(dir, "archive.txt"),
		FailedURLsDir:     dir,
		AttemptTimeout:    5 * time.Second,
		RequireIdentities: requireIdentities,
	}, pool, archive, s)

	return sched, s, dir
}

func TestDownloadBatch_SuccessRecordsSourceAndStage(t *testing.T) {
	dir := t.TempDir()
	ytDlp := writeFakeYtDlp(t, dir, successBody)
	sched, s, _ := newScheduler(t, ytDlp, false)

	res, err := sched.DownloadBatch(context.Background(), []string{"https://youtube.com/watch?v=AAAAAAAAAAA"})
	if err != nil {
		t.Fatalf("DownloadBatch: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Outcome != acquisition.OutcomeCompleted {
		t.Fatalf("Results = %+v, want one completed outcome", res.Results)
	}

	sourceID := res.Results[0].SourceID
	src, err := s.GetSource(context.Background(), sourceID)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if src.URL == "" {
		t.Error("expected recorded source to carry the original URL")
	}

	status, err := s.GetStageStatus(context.Background(), sourceID, store.StageDownload)
	if err != nil {
		t.Fatalf("GetStageStatus: %v", err)
	}
	if status.Status != store.StatusCompleted {
		t.Errorf("stage status = %q, want completed", status.Status)
	}
}

func TestDownloadBatch_GenericFailureEndsInFailedURLsFile(t *testing.T) {
	dir := t.TempDir()
	ytDlp := writeFakeYtDlp(t, dir, genericFailureBody)
	sched, _, _ := newScheduler(t, ytDlp, false)

	// A short deadline cuts the retry loop off after its first fixed-backoff
	// sleep begins, instead of waiting out the full ~60s sequence.
	ctx, cancel := context.WithTimeout(context.Background(), 900*time.Millisecond)
	defer cancel()

	res, err := sched.DownloadBatch(ctx, []string{"https://example.com/v/1"})
	if err != nil {
		t.Fatalf("DownloadBatch: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Outcome != acquisition.OutcomeFailed {
		t.Fatalf("Results = %+v, want one failed outcome", res.Results)
	}
	if res.FailedURLsPath == "" {
		t.Fatal("expected a failed_urls file path")
	}
	data, err := os.ReadFile(res.FailedURLsPath)
	if err != nil {
		t.Fatalf("read failed_urls file: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected failed_urls file to be non-empty")
	}
}

func TestDownloadBatch_AuthFailureDisablesIdentityAfterThreshold(t *testing.T) {
	dir := t.TempDir()
	ytDlp := writeFakeYtDlp(t, dir, authFailureBody)

	s := newTestStore(t)
	pool := acquisition.NewIdentityPool([]string{"cookie-a"})
	archive, err := acquisition.LoadArchive(filepath.Join(dir, "archive.txt"))
	if err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	sched := acquisition.New(acquisition.Config{
		YtDlpPath:         ytDlp,
		OutputDir:         dir,
		ArchivePath:       filepath.Join(dir, "archive.txt"),
		FailedURLsDir:     dir,
		AttemptTimeout:    5 * time.Second,
		RequireIdentities: true,
	}, pool, archive, s)

	// Three separate URLs, each hitting the single identity once: auth
	// failures are not retried with backoff within processURL (they break
	// straight to the retry queue), so three distinct calls are needed to
	// reach maxConsecutiveFailures.
	for i := 0; i < 3; i++ {
		url := fmt.Sprintf("https://example.com/v/%d", i)
		if _, err := sched.DownloadBatch(context.Background(), []string{url}); err != nil {
			t.Fatalf("DownloadBatch[%d]: %v", i, err)
		}
	}

	if len(pool.Available()) != 0 {
		t.Errorf("Available() = %d, want 0 after %d consecutive auth failures", len(pool.Available()), 3)
	}
}

func TestDownloadBatch_SkipsAlreadyDownloaded(t *testing.T) {
	dir := t.TempDir()
	ytDlp := writeFakeYtDlp(t, dir, successBody)
	sched, _, _ := newScheduler(t, ytDlp, false)

	url := "https://youtube.com/watch?v=BBBBBBBBBBB"
	first, err := sched.DownloadBatch(context.Background(), []string{url})
	if err != nil {
		t.Fatalf("first DownloadBatch: %v", err)
	}
	if first.Results[0].Outcome != acquisition.OutcomeCompleted {
		t.Fatalf("first outcome = %q, want completed", first.Results[0].Outcome)
	}

	second, err := sched.DownloadBatch(context.Background(), []string{url})
	if err != nil {
		t.Fatalf("second DownloadBatch: %v", err)
	}
	if second.Results[0].Outcome != acquisition.OutcomeSkipped {
		t.Fatalf("second outcome = %q, want skipped", second.Results[0].Outcome)
	}
}

func TestDownloadBatch_RequireIdentitiesRefusesWithNone(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t)
	pool := acquisition.NewIdentityPool(nil)
	archive, err := acquisition.LoadArchive(filepath.Join(dir, "archive.txt"))
	if err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	sched := acquisition.New(acquisition.Config{
		OutputDir:         dir,
		ArchivePath:       filepath.Join(dir, "archive.txt"),
		FailedURLsDir:     dir,
		RequireIdentities: true,
	}, pool, archive, s)

	_, err = sched.DownloadBatch(context.Background(), []string{"https://example.com/v/1"})
	if _, ok := err.(acquisition.ErrNoIdentities); !ok {
		t.Fatalf("err = %v, want ErrNoIdentities", err)
	}
}
