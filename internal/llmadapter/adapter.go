// Package llmadapter implements the C10 LLM Adapter: the single entry
// point every mining and evaluation call goes through (spec §4.10). It
// owns hardware-tier-sized concurrency semaphores split by provider family
// (local vs hosted), memory-pressure admission control, retry with
// exponential backoff, and request/response audit logging to the Claim
// Store.
package llmadapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/knowledgeminer/knowledgeminer/internal/store"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm"
	"github.com/knowledgeminer/knowledgeminer/pkg/types"
)

// Target names a provider family. The Adapter holds one semaphore per
// target, sized independently (spec §4.10).
type Target string

const (
	TargetLocal  Target = "local"
	TargetHosted Target = "hosted"
)

// Backend pairs a named provider with the model it serves, for audit
// logging (the [llm.Provider] interface itself carries no name/model).
type Backend struct {
	Provider llm.Provider
	Name     string
	Model    string
}

// Config configures a new [Adapter].
type Config struct {
	Store *store.Store

	// Local and Hosted are the provider backends for each target. Either
	// may be left zero-valued if that family is unused; Complete returns
	// an error if asked for a target with no configured backend.
	Local  Backend
	Hosted Backend

	// Tier overrides hardware-tier detection (for deterministic tests);
	// zero value triggers [DetectTier].
	Tier Tier

	// MemoryReader overrides system-memory sampling (for tests exercising
	// the throttle bands without real memory pressure).
	MemoryReader MemoryReader

	// MaxElapsedTime bounds the total retry budget per call. Zero uses a
	// 2-minute default per spec §5's "LLM call timeout: 2 minutes default".
	MaxElapsedTime time.Duration
}

// Adapter centralizes LLM request submission per spec §4.10.
type Adapter struct {
	store *store.Store

	tier       Tier
	localSem   chan struct{}
	hostedSem  chan struct{}
	backends   map[Target]Backend
	memGate    *memoryGate
	maxElapsed time.Duration
}

// New builds an [Adapter], sizing its semaphores from cfg.Tier (or detected
// hardware if unset).
func New(cfg Config) (*Adapter, error) {
	tier := cfg.Tier
	if tier == "" {
		detected, _, err := DetectTier()
		if err != nil {
			return nil, err
		}
		tier = detected
	}
	limits := tierSemaphores[tier]
	if limits == (semaphoreLimits{}) {
		limits = tierSemaphores[TierConsumer]
	}

	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}

	return &Adapter{
		store:      cfg.Store,
		tier:       tier,
		localSem:   make(chan struct{}, limits.Local),
		hostedSem:  make(chan struct{}, limits.Hosted),
		backends:   map[Target]Backend{TargetLocal: cfg.Local, TargetHosted: cfg.Hosted},
		memGate:    newMemoryGate(cfg.MemoryReader),
		maxElapsed: maxElapsed,
	}, nil
}

// Tier returns the hardware tier this adapter was sized for.
func (a *Adapter) Tier() Tier { return a.tier }

// Complete runs one completion request against the backend registered for
// target, under full admission control: the no-block guard, memory-pressure
// gating, the target's concurrency semaphore, and retry with backoff.
// Every attempt is logged to the Claim Store, win or lose (spec §4.10).
func (a *Adapter) Complete(ctx context.Context, target Target, runID string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if hasNoBlockGuard(ctx) {
		return nil, ErrBlockingCallFromNonBlockingContext
	}

	backend := a.backends[target]
	if backend.Provider == nil {
		return nil, &Error{Code: ErrCodeAuthFailed, Err: errors.New("llmadapter: no backend configured for target " + string(target))}
	}

	release, err := a.memGate.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	sem := a.semFor(target)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &Error{Code: ErrCodeCancelled, Err: ctx.Err()}
	}
	defer func() { <-sem }()

	requestID := uuid.NewString()
	promptHash := hashMessages(req.Messages, req.SystemPrompt)

	if a.store != nil {
		_ = a.store.LogLLMRequest(ctx, store.LLMRequest{
			RequestID:  requestID,
			RunID:      runID,
			Provider:   backend.Name,
			Model:      backend.Model,
			PromptHash: promptHash,
		})
	}

	start := time.Now()
	resp, callErr := a.retryComplete(ctx, backend.Provider, req)
	duration := time.Since(start)

	logResp := store.LLMResponse{
		RequestID:  requestID,
		DurationMs: duration.Milliseconds(),
	}
	if callErr != nil {
		var adapterErr *Error
		if errors.As(callErr, &adapterErr) {
			logResp.ErrorCode = adapterErr.Code
		}
	} else if resp != nil {
		logResp.ResponseText = resp.Content
		logResp.TokensIn = resp.Usage.PromptTokens
		logResp.TokensOut = resp.Usage.CompletionTokens
	}
	if a.store != nil {
		_ = a.store.LogLLMResponse(ctx, logResp)
	}

	return resp, callErr
}

func (a *Adapter) semFor(target Target) chan struct{} {
	if target == TargetHosted {
		return a.hostedSem
	}
	return a.localSem
}

// retryComplete wraps provider.Complete in exponential backoff with jitter,
// per spec §4.10: retry transient failures (rate-limit, 5xx, network);
// never retry schema-incompatible, context-length-exceeded, or
// authentication failures.
func (a *Adapter) retryComplete(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = a.maxElapsed
	bctx := backoff.WithContext(b, ctx)

	var resp *llm.CompletionResponse
	op := func() error {
		r, err := provider.Complete(ctx, req)
		if err == nil {
			resp = r
			return nil
		}

		classified := classifyError(ctx, err)
		if !isRetryable(classified) {
			return backoff.Permanent(classified)
		}
		return classified
	}

	if err := backoff.Retry(op, bctx); err != nil {
		var adapterErr *Error
		if errors.As(err, &adapterErr) {
			return nil, adapterErr
		}
		return nil, classifyError(ctx, err)
	}
	return resp, nil
}

// classifyError maps a raw provider error into the spec's §7 error
// taxonomy. Providers do not return typed errors across the any-llm-go
// boundary, so classification is heuristic over the error text — mirrored
// on the transcription stage's own code-tagging approach
// (internal/transcribe).
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &Error{Code: ErrCodeCancelled, Err: ctx.Err()}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return &Error{Code: ErrCodeRateLimit, Err: err}
	case strings.Contains(msg, "context length") || strings.Contains(msg, "context_length") || strings.Contains(msg, "maximum context") || strings.Contains(msg, "too many tokens"):
		return &Error{Code: ErrCodeContextLength, Err: err}
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return &Error{Code: ErrCodeAuthFailed, Err: err}
	case strings.Contains(msg, "schema") || strings.Contains(msg, "invalid json") || strings.Contains(msg, "invalid request"):
		return &Error{Code: ErrCodeSchemaInvalid, Err: err}
	default:
		return &Error{Code: "", Err: err}
	}
}

func hashMessages(messages []types.Message, systemPrompt string) string {
	h := sha256.New()
	h.Write([]byte(systemPrompt))
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}
