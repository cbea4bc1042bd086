package llmadapter_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/knowledgeminer/knowledgeminer/internal/llmadapter"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm"
	"github.com/knowledgeminer/knowledgeminer/pkg/provider/llm/mock"
	"github.com/knowledgeminer/knowledgeminer/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(&store.Config{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// flakyProvider fails N times then succeeds, to exercise retry.
type flakyProvider struct {
	mu         sync.Mutex
	failTimes  int
	calls      int
	failErr    error
	response   *llm.CompletionResponse
}

func (p *flakyProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failTimes {
		return nil, p.failErr
	}
	return p.response, nil
}
func (p *flakyProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, errors.New("not implemented")
}
func (p *flakyProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }
func (p *flakyProvider) Capabilities() types.ModelCapabilities             { return types.ModelCapabilities{} }

func TestAdapter_CompleteSuccess(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	m := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}

	a, err := llmadapter.New(llmadapter.Config{
		Store: s,
		Tier:  llmadapter.TierConsumer,
		Local: llmadapter.Backend{Provider: m, Name: "ollama", Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Complete(context.Background(), llmadapter.TargetLocal, "run-1", llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q, want %q", resp.Content, "hi")
	}
	if len(m.CompleteCalls) != 1 {
		t.Errorf("provider called %d times, want 1", len(m.CompleteCalls))
	}
}

func TestAdapter_NoBackendConfigured(t *testing.T) {
	t.Parallel()
	a, err := llmadapter.New(llmadapter.Config{Tier: llmadapter.TierConsumer})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.Complete(context.Background(), llmadapter.TargetHosted, "run-1", llm.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error for unconfigured target")
	}
}

func TestAdapter_NoBlockGuardRejects(t *testing.T) {
	t.Parallel()
	m := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	a, err := llmadapter.New(llmadapter.Config{
		Tier:  llmadapter.TierConsumer,
		Local: llmadapter.Backend{Provider: m, Name: "ollama", Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := llmadapter.WithNoBlockGuard(context.Background())
	_, err = a.Complete(ctx, llmadapter.TargetLocal, "run-1", llm.CompletionRequest{})
	if !errors.Is(err, llmadapter.ErrBlockingCallFromNonBlockingContext) {
		t.Errorf("err = %v, want ErrBlockingCallFromNonBlockingContext", err)
	}
	if len(m.CompleteCalls) != 0 {
		t.Error("provider should not have been called")
	}
}

func TestAdapter_RetriesTransientFailure(t *testing.T) {
	t.Parallel()
	p := &flakyProvider{
		failTimes: 2,
		failErr:   errors.New("503 service unavailable"),
		response:  &llm.CompletionResponse{Content: "recovered"},
	}
	a, err := llmadapter.New(llmadapter.Config{
		Tier:  llmadapter.TierConsumer,
		Local: llmadapter.Backend{Provider: p, Name: "ollama", Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Complete(context.Background(), llmadapter.TargetLocal, "run-1", llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q, want %q", resp.Content, "recovered")
	}
	if p.calls != 3 {
		t.Errorf("provider called %d times, want 3", p.calls)
	}
}

func TestAdapter_NonRetryableFailsFast(t *testing.T) {
	t.Parallel()
	p := &flakyProvider{
		failTimes: 100,
		failErr:   errors.New("invalid api key: authentication failed"),
	}
	a, err := llmadapter.New(llmadapter.Config{
		Tier:  llmadapter.TierConsumer,
		Local: llmadapter.Backend{Provider: p, Name: "ollama", Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = a.Complete(context.Background(), llmadapter.TargetLocal, "run-1", llm.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	var adapterErr *llmadapter.Error
	if !errors.As(err, &adapterErr) {
		t.Fatalf("err = %v, want *llmadapter.Error", err)
	}
	if adapterErr.Code != llmadapter.ErrCodeAuthFailed {
		t.Errorf("Code = %q, want %q", adapterErr.Code, llmadapter.ErrCodeAuthFailed)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1 (non-retryable must fail fast)", p.calls)
	}
}

func TestAdapter_LogsRequestAndResponse(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.CreateJob(context.Background(), store.Job{JobID: "job-1", Type: store.JobMine, InputID: "src-1"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	run := store.JobRun{RunID: "run-1", JobID: "job-1"}
	if err := s.CreateJobRun(context.Background(), run); err != nil {
		t.Fatalf("CreateJobRun: %v", err)
	}

	m := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "result",
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	a, err := llmadapter.New(llmadapter.Config{
		Store: s,
		Tier:  llmadapter.TierConsumer,
		Local: llmadapter.Backend{Provider: m, Name: "ollama", Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = a.Complete(context.Background(), llmadapter.TargetLocal, run.RunID, llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestAdapter_ConcurrencyBoundedBySemaphore(t *testing.T) {
	t.Parallel()
	var inFlight, maxInFlight int32
	var mu sync.Mutex

	block := &blockingProvider{
		onEnter: func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
		},
		onExit: func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		},
		delay: 30 * time.Millisecond,
	}

	a, err := llmadapter.New(llmadapter.Config{
		Tier:  llmadapter.TierConsumer, // local limit = 3
		Local: llmadapter.Backend{Provider: block, Name: "ollama", Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Complete(context.Background(), llmadapter.TargetLocal, "run-1", llm.CompletionRequest{})
		}()
	}
	wg.Wait()

	if maxInFlight > 3 {
		t.Errorf("max concurrent in-flight = %d, want <= 3 (consumer tier local limit)", maxInFlight)
	}
}

type blockingProvider struct {
	onEnter, onExit func()
	delay           time.Duration
}

func (p *blockingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.onEnter()
	defer p.onExit()
	time.Sleep(p.delay)
	return &llm.CompletionResponse{Content: "ok"}, nil
}
func (p *blockingProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, errors.New("not implemented")
}
func (p *blockingProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }
func (p *blockingProvider) Capabilities() types.ModelCapabilities             { return types.ModelCapabilities{} }
