// Package backend defines the narrow contract the core uses to reach the
// external text-generation service, plus a deterministic mock
// implementation for tests and offline development.
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hal9ai/cortex/pkg/cerrors"
)

// Request is one completion request sent to a backend.
type Request struct {
	Layer        string
	SystemPrompt string
	Content      string
	Temperature  float64
	MaxTokens    int
}

// Usage reports the token accounting for a completed request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Reply is the raw text a backend returned, plus its token usage.
type Reply struct {
	Text  string
	Usage Usage
}

// Backend is the contract every managed neuron calls through.
type Backend interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// estimateTokens is a crude, deterministic whitespace-based estimator used
// by the mock backend and as a fallback when a remote backend's usage
// envelope is missing. It has no bearing on billing accuracy outside tests.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s)) + len(s)/4
}

// MockBackend returns deterministic, substring-triggered canned replies, the
// way the original system's test harness mocked its completion backend:
// responses are registered per-layer, matched by substring against the
// request content, with a fallback echo response and an optional artificial
// delay to exercise timeout handling.
type MockBackend struct {
	mu        sync.RWMutex
	responses map[string]map[string]string // layer -> contains(substr) -> reply
	delay     time.Duration
}

// NewMockBackend creates an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{responses: make(map[string]map[string]string)}
}

// AddResponse registers a canned reply: when a Request for layer contains
// substr, reply is returned verbatim.
func (m *MockBackend) AddResponse(layer, substr, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses[layer] == nil {
		m.responses[layer] = make(map[string]string)
	}
	m.responses[layer][substr] = reply
}

// SetDelay configures an artificial per-call delay, useful for exercising
// T_dispatch timeouts deterministically in tests.
func (m *MockBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Send implements Backend.
func (m *MockBackend) Send(ctx context.Context, req Request) (Reply, error) {
	m.mu.RLock()
	delay := m.delay
	byLayer := m.responses[req.Layer]
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Reply{}, cerrors.Wrap(cerrors.KindTimeout, "mock backend call timed out", ctx.Err())
		}
	}

	text := fmt.Sprintf("Mock %s response to: %s", req.Layer, req.Content)
	for substr, reply := range byLayer {
		if strings.Contains(req.Content, substr) {
			text = reply
			break
		}
	}

	return Reply{
		Text: text,
		Usage: Usage{
			PromptTokens:     estimateTokens(req.SystemPrompt + req.Content),
			CompletionTokens: estimateTokens(text),
			TotalTokens:      estimateTokens(req.SystemPrompt+req.Content) + estimateTokens(text),
		},
	}, nil
}
