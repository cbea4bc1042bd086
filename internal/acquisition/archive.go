package acquisition

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
)

// minAudioFileBytes is the smallest size a downloaded audio file may be and
// still be considered valid (spec §4.2: "exists AND size >= 10 KiB").
const minAudioFileBytes = 10 * 1024

var youtubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|youtu\.be/|/embed/|/shorts/)([A-Za-z0-9_-]{11})`),
}

// VideoID extracts a deterministic video identifier from a URL: the
// platform's own ID when recognized, else a content hash of the URL so the
// function never fails (spec §3: "deterministic video-id").
func VideoID(rawURL string) string {
	for _, re := range youtubeIDPatterns {
		if m := re.FindStringSubmatch(rawURL); len(m) == 2 {
			return m[1]
		}
	}
	h := sha256.Sum256([]byte(rawURL))
	return "url-" + hex.EncodeToString(h[:])[:16]
}

// SourceID builds the deterministic Media Store key for a URL, namespaced
// by host so two platforms can never collide on the same raw ID.
func SourceID(rawURL string) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = strings.TrimPrefix(u.Host, "www.")
	}
	return host + ":" + VideoID(rawURL)
}

// entry is one line of download_archive.txt: "<platform> <video_id>".
type entry struct {
	platform string
	videoID  string
}

// Archive is the download_archive.txt reconciler described in spec §4.2 and
// §6.1: a newline-delimited "<platform> <video_id>" file that is the
// authoritative record of "already acquired", always cross-checked against
// the filesystem before being trusted.
type Archive struct {
	path string

	mu      sync.Mutex
	entries map[string]bool // "platform video_id" -> present
}

// LoadArchive reads path (which need not exist yet) into memory.
func LoadArchive(path string) (*Archive, error) {
	a := &Archive{path: path, entries: make(map[string]bool)}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquisition: open archive %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		a.entries[fields[0]+" "+fields[1]] = true
	}
	return a, scanner.Err()
}

// Has reports whether platform/videoID is recorded in the archive.
func (a *Archive) Has(platform, videoID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[platform+" "+videoID]
}

// Add records a new archive entry and appends it to disk.
func (a *Archive) Add(platform, videoID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := platform + " " + videoID
	if a.entries[key] {
		return nil
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("acquisition: append archive %q: %w", a.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s %s\n", platform, videoID); err != nil {
		return err
	}
	a.entries[key] = true
	return nil
}

// Remove deletes an entry both in memory and by rewriting the file, used
// when Reconcile finds a stale archive row.
func (a *Archive) Remove(platform, videoID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := platform + " " + videoID
	if !a.entries[key] {
		return nil
	}
	delete(a.entries, key)
	return a.rewriteLocked()
}

func (a *Archive) rewriteLocked() error {
	f, err := os.Create(a.path)
	if err != nil {
		return fmt.Errorf("acquisition: rewrite archive %q: %w", a.path, err)
	}
	defer f.Close()

	for key := range a.entries {
		parts := strings.SplitN(key, " ", 2)
		if len(parts) != 2 {
			continue
		}
		if _, err := fmt.Fprintf(f, "%s %s\n", parts[0], parts[1]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFilePath reports whether the audio file backing an archive entry
// still exists on disk and is at least minAudioFileBytes (spec §4.2
// "Archive validation").
func ValidateFilePath(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Size() >= minAudioFileBytes
}

// Reconcile removes any archive entry whose backing audio file no longer
// validates, given a lookup from (platform, videoID) to the audio file path
// that backs it. Returns the number of entries removed.
func (a *Archive) Reconcile(pathFor func(platform, videoID string) string) (int, error) {
	a.mu.Lock()
	keys := make([]string, 0, len(a.entries))
	for k := range a.entries {
		keys = append(keys, k)
	}
	a.mu.Unlock()

	removed := 0
	for _, key := range keys {
		parts := strings.SplitN(key, " ", 2)
		if len(parts) != 2 {
			continue
		}
		path := pathFor(parts[0], parts[1])
		if !ValidateFilePath(path) {
			if err := a.Remove(parts[0], parts[1]); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
