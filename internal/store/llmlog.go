package store

import (
	"context"
	"time"
)

// LLMRequest is one prompt sent to a provider, correlated to the Job-Run
// that issued it, logged by internal/llmadapter for replay and cost audit.
type LLMRequest struct {
	RequestID string
	RunID     string
	Provider  string
	Model     string
	PromptHash string
	CreatedAt time.Time
}

// LLMResponse is the outcome of one LLMRequest, including failures (spec
// §4.10: every call is logged whether it succeeds or exhausts retries).
type LLMResponse struct {
	RequestID    string
	ResponseText string
	TokensIn     int
	TokensOut    int
	DurationMs   int64
	ErrorCode    string
	CreatedAt    time.Time
}

// LogLLMRequest records an outbound LLM call before it is issued.
func (s *Store) LogLLMRequest(ctx context.Context, req LLMRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_requests (request_id, run_id, provider, model, prompt_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		req.RequestID, req.RunID, req.Provider, req.Model, req.PromptHash, nowRFC3339(req.CreatedAt))
	if err != nil {
		return NewStorageError("sqlite", "log_llm_request", err)
	}
	return nil
}

// LogLLMResponse records the outcome of a previously logged LLMRequest.
func (s *Store) LogLLMResponse(ctx context.Context, resp LLMResponse) error {
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_responses (request_id, response_text, tokens_in, tokens_out, duration_ms, error_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resp.RequestID, resp.ResponseText, resp.TokensIn, resp.TokensOut, resp.DurationMs, resp.ErrorCode, nowRFC3339(resp.CreatedAt))
	if err != nil {
		return NewStorageError("sqlite", "log_llm_response", err)
	}
	return nil
}
