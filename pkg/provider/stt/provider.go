// Package stt defines the Provider interface for batch Speech-to-Text
// backends.
//
// Unlike a live captioning service, the pipeline's transcription stage
// operates on a single already-normalized audio file (see internal/audio)
// and returns the complete ordered sequence of timestamped segments in one
// call. There is no partial/final streaming distinction, and segments carry
// no speaker field: speaker attribution is a per-claim LLM inference made
// later during mining, not an acoustic property of the transcript (spec
// §4.4, §9).
//
// Implementations must be safe for concurrent use: sources are transcribed
// by multiple orchestrator worker goroutines in parallel.
package stt

import "context"

// TranscribeRequest carries everything a batch transcription call needs.
type TranscribeRequest struct {
	// AudioPath is the path to a normalized audio file, canonically 16 kHz
	// mono PCM WAV, produced by internal/audio.
	AudioPath string

	// Language is an explicit language code (e.g. "en"). Leave empty and
	// set AutoDetect to let the provider detect it; an empty Language with
	// AutoDetect false means "use the provider's configured default".
	Language string

	// AutoDetect opts into language auto-detection. Auto-detection is a
	// known source of wrong-language transcriptions (spec §4.4), so callers
	// should prefer an explicit Language whenever the source's language is
	// already known from platform metadata.
	AutoDetect bool

	// ModelSize selects the model variant (e.g. "base", "small", "medium"),
	// provider-specific; empty uses the provider's configured default.
	ModelSize string

	// InitialPrompt seeds the decoder with topical context — e.g. a video's
	// title and tags — to reduce domain-term drift (spec §4.4).
	InitialPrompt string
}

// Segment is one ordered, timestamped transcript fragment. It carries no
// speaker field by design (spec §9).
type Segment struct {
	T0   float64
	T1   float64
	Text string
}

// Result is the complete output of one batch transcription call.
type Result struct {
	// Segments is the ordered sequence of timestamped fragments.
	Segments []Segment

	// Language is the language the provider used or detected.
	Language string
}

// Provider is the abstraction over any batch STT backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must respect ctx cancellation promptly — transcription of a long
// source can take minutes, and the orchestrator must be able to cancel it
// cooperatively (spec §4.10).
type Provider interface {
	// Transcribe runs a full-file transcription of req.AudioPath and
	// returns the ordered segment sequence plus the language used.
	Transcribe(ctx context.Context, req TranscribeRequest) (*Result, error)
}
