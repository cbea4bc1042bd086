package acquisition

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// writeFailedURLs persists every persistently-failed URL to a timestamped
// file under dir, per spec §4.2/§7 ("Persistently-failing URLs are written
// to a timestamped failed_urls file"). Returns the empty string if there
// was nothing to write.
func writeFailedURLs(dir string, results []URLResult, now time.Time) (string, error) {
	var failed []URLResult
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("acquisition: create failed-urls dir: %w", err)
	}

	name := fmt.Sprintf("failed_urls_%s.txt", now.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("acquisition: write failed-urls file: %w", err)
	}
	defer f.Close()

	for _, r := range failed {
		if _, err := fmt.Fprintf(f, "%s\t%s\n", r.URL, r.Reason); err != nil {
			return "", err
		}
	}
	return path, nil
}
