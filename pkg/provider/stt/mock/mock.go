// Package mock provides a configurable in-memory implementation of
// [stt.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/knowledgeminer/knowledgeminer/pkg/provider/stt"
)

// Provider is a test double for stt.Provider. Set Result/Err to control
// what Transcribe returns; TranscribeCalls records every request received.
type Provider struct {
	mu sync.Mutex

	Result *stt.Result
	Err    error

	TranscribeCalls []stt.TranscribeRequest
}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records req and returns the configured Result/Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.TranscribeRequest) (*stt.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, req)
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &stt.Result{}, nil
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}
