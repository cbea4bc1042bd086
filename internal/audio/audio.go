// Package audio implements the C3 Audio Normalizer: conversion of an
// acquired media file to the canonical 16 kHz mono PCM WAV shape the
// Transcriber expects, with long-silence removal applied unconditionally
// (spec §4.3 — "long silence is a primary trigger of hallucinated
// repetition").
//
// Normalization shells out to ffmpeg, matching the subprocess-invocation
// pattern spec §5 calls for: no Go-native audio-filter library exists
// anywhere in the example pack for this.
package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrCode classifies a normalization failure (spec §7 owns no dedicated
// audio error kind, so these stay internal to the package and the caller
// folds them into its own stage-status metadata).
type ErrCode string

const (
	ErrCodeFFmpegMissing ErrCode = "audio_ffmpeg_missing"
	ErrCodeConvertFailed ErrCode = "audio_convert_failed"
	ErrCodeInputMissing  ErrCode = "audio_input_missing"
)

// Error wraps a normalization failure with its classification.
type Error struct {
	Code ErrCode
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("audio: %s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

const (
	// SampleRate is the canonical output sample rate whisper-family
	// transcribers expect.
	SampleRate = 16000

	// Channels is the canonical output channel count (mono).
	Channels = 1

	// SilenceThresholdDB and MinSilenceDuration bound the streaming silence
	// filter applied to every input (spec §4.3: "remove silences longer
	// than 2.0s at -50 dB").
	SilenceThresholdDB  = -50.0
	MinSilenceDuration  = 2 * time.Second
)

// Config configures a [Normalizer].
type Config struct {
	// FFmpegPath is the ffmpeg binary to invoke. Defaults to "ffmpeg" on PATH.
	FFmpegPath string

	// OutputDir is where normalized files are written. Defaults to
	// os.TempDir(). The Normalizer never writes into the input's directory.
	OutputDir string

	// Timeout bounds a single ffmpeg invocation. Zero means no extra
	// timeout beyond the caller's context.
	Timeout time.Duration
}

// Result is the output of one normalization call.
type Result struct {
	// Path is the normalized WAV file's location, under Config.OutputDir.
	Path string

	// Checksum is the SHA-256 hex digest of the normalized file's bytes.
	// The transcribe stage in internal/app does not copy it into
	// store.Source.Checksum.
	Checksum string
}

// Normalizer converts media files to the canonical transcription input
// shape via ffmpeg subprocess invocation.
type Normalizer struct {
	ffmpegPath string
	outputDir  string
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a [Normalizer] from cfg, filling in defaults.
func New(cfg Config) *Normalizer {
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	dir := cfg.OutputDir
	if dir == "" {
		dir = os.TempDir()
	}
	return &Normalizer{
		ffmpegPath: path,
		outputDir:  dir,
		timeout:    cfg.Timeout,
		logger:     slog.Default().With("component", "audio"),
	}
}

// Normalize converts inputPath to canonical 16 kHz mono PCM WAV with long
// silences stripped, writing the result to a new file under Config.OutputDir
// and never touching inputPath itself (spec §4.3 invariant: "never mutate
// the input file").
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (*Result, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return nil, &Error{Code: ErrCodeInputMissing, Err: err}
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(n.outputDir, 0o755); err != nil {
		return nil, &Error{Code: ErrCodeConvertFailed, Err: err}
	}

	out, err := os.CreateTemp(n.outputDir, "normalized-*.wav")
	if err != nil {
		return nil, &Error{Code: ErrCodeConvertFailed, Err: err}
	}
	outPath := out.Name()
	out.Close()

	silenceFilter := fmt.Sprintf(
		"silenceremove=stop_periods=-1:stop_duration=%0.1f:stop_threshold=%0.1fdB",
		MinSilenceDuration.Seconds(), SilenceThresholdDB,
	)

	args := []string{
		"-y",
		"-i", inputPath,
		"-af", silenceFilter,
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"-c:a", "pcm_s16le",
		outPath,
	}

	cmd := exec.CommandContext(ctx, n.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outPath)
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, &Error{Code: ErrCodeFFmpegMissing, Err: err}
		}
		return nil, &Error{Code: ErrCodeConvertFailed, Err: fmt.Errorf("%w: %s", err, truncate(output, 2000))}
	}

	checksum, err := checksumFile(outPath)
	if err != nil {
		return nil, &Error{Code: ErrCodeConvertFailed, Err: err}
	}

	n.logger.Info("normalized audio", "input", filepath.Base(inputPath), "output", outPath)
	return &Result{Path: outPath, Checksum: checksum}, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
