// Package whisper provides a local whisper.cpp-backed STT provider.
//
// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// Transcription is batch, not streaming: the pipeline already has a
// complete, normalized audio file on disk (see internal/audio) by the time
// this provider runs, so there is no silence-triggered buffering or
// partial/final distinction to simulate — one Transcribe call decodes the
// whole file and returns every segment whisper.cpp produced.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/knowledgeminer/knowledgeminer/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const defaultLanguage = "en"

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating subprocess/HTTP overhead entirely. The model is loaded
// once at startup and shared across all concurrent Transcribe calls — each
// call creates its own whisper.cpp context, since a context is not
// thread-safe but the underlying model is.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default BCP-47 language code used when a
// TranscribeRequest does not specify one. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent Transcribe calls. The caller must call Close when the provider
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes req.AudioPath (a 16 kHz mono PCM WAV file) and runs a
// single whisper.cpp inference pass over it, returning the ordered segment
// sequence with timestamps.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.TranscribeRequest) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if req.AudioPath == "" {
		return nil, errors.New("whisper: AudioPath must not be empty")
	}

	samples, sampleRate, err := readWAVMono(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: read audio: %w", err)
	}
	if sampleRate != whisperSampleRate {
		return nil, fmt.Errorf("whisper: unsupported sample rate %d (expected %d); normalize audio first", sampleRate, whisperSampleRate)
	}

	lang := req.Language
	if lang == "" && !req.AutoDetect {
		lang = p.language
	}

	// Each call gets its own context: a whisper.cpp context is not
	// thread-safe, but the underlying model can be shared across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return nil, fmt.Errorf("whisper: set language %q: %w", lang, err)
		}
	}
	if req.InitialPrompt != "" {
		wctx.SetInitialPrompt(req.InitialPrompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []stt.Segment
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("whisper: cancelled mid-inference: %w", err)
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, stt.Segment{
			T0:   seg.Start.Seconds(),
			T1:   seg.End.Seconds(),
			Text: text,
		})
	}

	resultLang := lang
	if resultLang == "" {
		resultLang = wctx.Language()
	}

	return &stt.Result{Segments: segments, Language: resultLang}, nil
}
