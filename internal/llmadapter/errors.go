package llmadapter

import (
	"errors"
	"fmt"
)

// Error codes returned by [Adapter.Complete] via [*Error] (spec §7, C10).
// These strings are also the values persisted to job_runs.error_code, so
// callers must branch on Code, never on wrapped error identity.
const (
	ErrCodeRateLimit     = "llm_rate_limit_medium"
	ErrCodeContextLength = "llm_context_length_high"
	ErrCodeSchemaInvalid = "llm_schema_invalid_medium"
	ErrCodeCancelled     = "llm_cancelled_low"
	ErrCodeAuthFailed    = "llm_auth_failed_high"
)

// Error reports an LLM Adapter failure with a stable machine-readable code.
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

// ErrBlockingCallFromNonBlockingContext is returned by [Adapter.Complete]
// when the caller has marked its context with [WithNoBlockGuard] — this
// mirrors the original system's event-loop-safety guard against issuing a
// blocking call from inside a non-blocking scheduling context (spec §4.10,
// see DESIGN.md's Open Question decision).
var ErrBlockingCallFromNonBlockingContext = errors.New("llmadapter: blocking LLM call attempted from a no-block context")

// nonRetryableCodes are the error codes the spec marks non-retryable:
// "schema-incompatible request, context-length exceeded, authentication
// failure" (spec §4.10), plus cancellation, which is never retried.
var nonRetryableCodes = map[string]bool{
	ErrCodeSchemaInvalid: true,
	ErrCodeContextLength: true,
	ErrCodeAuthFailed:    true,
	ErrCodeCancelled:     true,
}

// isRetryable reports whether err should be retried with backoff.
func isRetryable(err error) bool {
	var adapterErr *Error
	if errors.As(err, &adapterErr) {
		return !nonRetryableCodes[adapterErr.Code]
	}
	return true
}
