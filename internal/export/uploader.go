package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrRateLimited is returned by Upload when the remote registry's per-device
// hourly cap (spec §6.4) rejects a request even after the retry budget is
// exhausted.
var ErrRateLimited = errors.New("export: device rate limit exceeded")

// Config configures an [Uploader].
type Config struct {
	Endpoint    string
	DeviceToken string
	HTTPClient  *http.Client

	// MaxElapsedTime bounds the total retry budget for one Upload call.
	// Zero defaults to 5 minutes, generous enough to ride out an hourly
	// rate-limit window's tail without the caller needing its own loop.
	MaxElapsedTime time.Duration
}

// Uploader POSTs export envelopes to an external HTTPS knowledge registry,
// authenticated by a per-device token, honoring the remote's rate-limit
// contract with backoff (spec §6.4). The registry itself is out of scope;
// this is the client-side half of the contract.
type Uploader struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewUploader builds an Uploader. cfg.Endpoint and cfg.DeviceToken are
// required; NewUploader does not validate them eagerly since a given
// device may go through its whole pipeline run without ever exporting.
func NewUploader(cfg Config) *Uploader {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = 5 * time.Minute
	}
	cfg.MaxElapsedTime = maxElapsed
	return &Uploader{
		cfg:    cfg,
		client: client,
		logger: slog.Default().With("component", "export.uploader"),
	}
}

// Upload sends one export envelope for sourceID. A 429, a 5xx or a network
// error is retried with exponential backoff and jitter until
// cfg.MaxElapsedTime is exhausted; a 429 or 503 carrying a Retry-After
// header first waits that long, then the exponential interval follows.
// Non-retryable HTTP status codes (4xx other than 429) fail immediately.
func (u *Uploader) Upload(ctx context.Context, sourceID string, envelope []byte) error {
	if u.cfg.Endpoint == "" {
		return errors.New("export: no endpoint configured")
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = u.cfg.MaxElapsedTime
	bctx := backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		attempt++
		result := u.attempt(ctx, envelope)
		if result.err == nil {
			return nil
		}
		if result.permanent {
			return backoff.Permanent(result.err)
		}
		if result.retryAfter > 0 {
			// The server named its own cooldown (a 429/503's Retry-After
			// header); wait it out here. backoff.Retry still adds its own
			// exponential interval before the next op() invocation.
			select {
			case <-time.After(result.retryAfter):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		u.logger.Warn("export upload attempt failed, retrying", "source_id", sourceID, "attempt", attempt, "error", result.err)
		return result.err
	}

	if err := backoff.Retry(op, bctx); err != nil {
		return fmt.Errorf("export: upload %s: %w", sourceID, err)
	}
	return nil
}

type attemptResult struct {
	err        error
	permanent  bool
	retryAfter time.Duration
}

// attempt performs one HTTP POST.
func (u *Uploader) attempt(ctx context.Context, envelope []byte) attemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, bytes.NewReader(envelope))
	if err != nil {
		return attemptResult{err: err, permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.cfg.DeviceToken)

	resp, err := u.client.Do(req)
	if err != nil {
		return attemptResult{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return attemptResult{}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusErr := fmt.Errorf("export: remote returned status %d: %s", resp.StatusCode, string(body))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return attemptResult{
			err:        fmt.Errorf("%w: %s", ErrRateLimited, statusErr),
			retryAfter: retryAfterDuration(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode >= 500 {
		return attemptResult{err: statusErr}
	}
	return attemptResult{err: statusErr, permanent: true}
}

func retryAfterDuration(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
