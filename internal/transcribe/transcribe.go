// Package transcribe implements the C4 Transcriber: it drives a batch
// [stt.Provider] over one source's normalized audio, validates the result,
// cleans up repetition artifacts, and returns the ordered segment sequence
// the Claim Store persists (spec §4.4).
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/knowledgeminer/knowledgeminer/pkg/provider/stt"
)

// Error codes returned by Transcribe via [*Error]. The orchestrator
// branches on these strings, never on wrapped Go error identity, since they
// also get persisted to job_runs.error_code.
const (
	ErrCodeQuality  = "transcription_quality_error"
	ErrCodeProvider = "transcription_provider_error"
	ErrCodeEmpty    = "transcription_empty_error"
)

// englishWordRatioThreshold is the minimum fraction of recognized English
// words a transcript must contain when the detected/requested language is
// English, per spec §4.4.
const englishWordRatioThreshold = 0.10

// minRepeatRun is the minimum number of identical consecutive segments that
// counts as a repetition run worth collapsing.
const minRepeatRun = 3

// Error reports a transcription failure with a stable machine-readable
// code, so callers never have to raise into the orchestrator without one
// (spec §4.4 "never raise ... without a code").
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Request describes one transcription job.
type Request struct {
	AudioPath string
	Language  string // explicit code; empty + AutoDetect opts into detection.
	AutoDetect bool
	ModelSize string

	// InitialPrompt seeds the decoder with topical context — e.g. the
	// source's first ~10 tags joined, or a document title — to reduce
	// domain-term drift (spec §4.4).
	InitialPrompt string
}

// RepetitionSeverity categorizes how much of a transcript was collapsed
// repetition, per spec §4.4.
type RepetitionSeverity string

const (
	SeverityNone     RepetitionSeverity = "none"
	SeverityLight    RepetitionSeverity = "light"
	SeverityModerate RepetitionSeverity = "moderate"
	SeverityHeavy    RepetitionSeverity = "heavy"
)

// RepetitionReport summarizes the repetition cleanup pass.
type RepetitionReport struct {
	Severity      RepetitionSeverity
	RunsCollapsed int
	SegmentsDropped int
}

// Result is the C4 output: the cleaned segment sequence plus diagnostics.
type Result struct {
	Segments   []stt.Segment
	Language   string
	Repetition RepetitionReport
}

// Transcriber runs batch transcription through an [stt.Provider] and
// applies the spec's quality gate and repetition cleanup.
type Transcriber struct {
	provider stt.Provider
}

// New builds a Transcriber backed by provider (typically an
// [resilience.STTFallback] for multi-backend failover).
func New(provider stt.Provider) *Transcriber {
	return &Transcriber{provider: provider}
}

// Transcribe runs the full C4 pipeline: provider call, quality validation,
// then repetition cleanup. Every failure mode is returned as an *Error with
// a stable code; Transcribe never returns a bare, uncoded error except for
// ctx cancellation, which the orchestrator treats specially.
func (t *Transcriber) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := t.provider.Transcribe(ctx, stt.TranscribeRequest{
		AudioPath:     req.AudioPath,
		Language:      req.Language,
		AutoDetect:    req.AutoDetect,
		ModelSize:     req.ModelSize,
		InitialPrompt: req.InitialPrompt,
	})
	if err != nil {
		return nil, &Error{Code: ErrCodeProvider, Err: err}
	}
	if len(raw.Segments) == 0 {
		return nil, &Error{Code: ErrCodeEmpty, Err: errors.New("provider returned no segments")}
	}

	if isEnglish(raw.Language) {
		if ratio := englishWordRatio(raw.Segments); ratio < englishWordRatioThreshold {
			return nil, &Error{
				Code: ErrCodeQuality,
				Err:  fmt.Errorf("recognized-English-word ratio %.2f below threshold %.2f", ratio, englishWordRatioThreshold),
			}
		}
	}

	cleaned, report := collapseRepetition(raw.Segments)

	return &Result{
		Segments:   cleaned,
		Language:   raw.Language,
		Repetition: report,
	}, nil
}

func isEnglish(lang string) bool {
	l := strings.ToLower(strings.TrimSpace(lang))
	return l == "en" || l == "english"
}

// englishWordRatio estimates the fraction of words across all segments that
// look like recognized English words: alphabetic tokens found in the
// built-in common-word set, per spec §4.4's "≥10% recognized English
// words" heuristic.
func englishWordRatio(segments []stt.Segment) float64 {
	var total, recognized int
	for _, seg := range segments {
		for _, word := range strings.Fields(seg.Text) {
			w := normalizeWord(word)
			if w == "" {
				continue
			}
			total++
			if commonEnglishWords[w] {
				recognized++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(recognized) / float64(total)
}

func normalizeWord(w string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(w) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// collapseRepetition detects runs of ≥minRepeatRun identical consecutive
// segments (by trimmed, case-folded text) and collapses each run to its
// first occurrence, per spec §4.4.
func collapseRepetition(segments []stt.Segment) ([]stt.Segment, RepetitionReport) {
	if len(segments) == 0 {
		return segments, RepetitionReport{Severity: SeverityNone}
	}

	var (
		out     []stt.Segment
		runsHit int
		dropped int
	)

	i := 0
	for i < len(segments) {
		j := i + 1
		key := normalizeForCompare(segments[i].Text)
		for j < len(segments) && normalizeForCompare(segments[j].Text) == key {
			j++
		}
		runLen := j - i
		if runLen >= minRepeatRun {
			runsHit++
			dropped += runLen - 1
			// Keep the first occurrence's text but extend its end time to
			// the end of the collapsed run, preserving timeline coverage.
			collapsed := segments[i]
			collapsed.T1 = segments[j-1].T1
			out = append(out, collapsed)
		} else {
			out = append(out, segments[i:j]...)
		}
		i = j
	}

	ratio := float64(dropped) / float64(len(segments))
	severity := SeverityNone
	switch {
	case ratio == 0:
		severity = SeverityNone
	case ratio < 0.05:
		severity = SeverityLight
	case ratio < 0.20:
		severity = SeverityModerate
	default:
		severity = SeverityHeavy
	}

	return out, RepetitionReport{
		Severity:        severity,
		RunsCollapsed:   runsHit,
		SegmentsDropped: dropped,
	}
}

func normalizeForCompare(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
