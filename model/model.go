// Package model abstracts the chat-completion collaborator driving the
// reasoning loop. Providers adapt vendor SDKs into the shared streaming
// Request/Response shapes; the loop consumes them without per-vendor
// branching.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomlab/loom/core"
)

// Request captures the normalized model input produced by a run iteration.
type Request struct {
	// Messages is the working context in conversation order.
	Messages []core.Message `json:"messages"`
	// Temperature controls sampling randomness.
	Temperature float64 `json:"temperature,omitempty"`
	// Stop lists sequences at which generation must halt. The loop uses the
	// observation marker here so the model cannot hallucinate tool results.
	Stop []string `json:"stop,omitempty"`
	// Stream requests incremental delivery when the provider supports it.
	Stream bool `json:"stream,omitempty"`
}

// TokenUsage captures token statistics for a completed response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a partial or final chunk emitted by a model. The final chunk
// of a generation has Partial=false and carries the full accumulated text.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Content      string      `json:"content"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model is the minimal interface required to drive generation. Generate
// returns a response channel and an error channel; both are closed when the
// generation settles. The same abstraction supports collect-then-return and
// forward-each-event consumption styles.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// Collect drains a generation into its final text, honoring cancellation.
// It returns the content of the final (non-partial) response, falling back
// to concatenated partials when a provider never emits a final chunk.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error) (string, error) {
	var partials string
	var final *Response

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				partials += resp.Content
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}

	if final != nil {
		return final.Content, nil
	}
	return partials, nil
}

// MockModel is a scripted in-memory Model for tests and examples. Responses
// are consumed in FIFO order; when the script is exhausted the fallback is
// returned (empty by default).
type MockModel struct {
	mu       sync.Mutex
	info     Info
	script   []string
	fallback string
	err      error
	calls    []Request
}

// NewMockModel constructs a MockModel identified by name.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock"}}
}

// Enqueue appends scripted completions returned on successive calls.
func (m *MockModel) Enqueue(responses ...string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// SetFallback sets the completion returned once the script is exhausted.
func (m *MockModel) SetFallback(response string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
	return m
}

// Fail makes every subsequent call settle with err.
func (m *MockModel) Fail(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls returns the requests observed so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Generate was invoked.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Generate implements Model, emitting the next scripted completion.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls = append(m.calls, req)
	next := m.fallback
	if len(m.script) > 0 {
		next = m.script[0]
		m.script = m.script[1:]
	}
	err := m.err
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if err != nil {
			errCh <- err
			return
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{ID: core.NewID(), Content: next, FinishReason: "stop"}:
		}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// ErrNoContent signals an empty completion where content was required.
var ErrNoContent = fmt.Errorf("model returned no content")
