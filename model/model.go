package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ErrEmptyResponse is returned by adapters when the provider answered without
// any text content.
var ErrEmptyResponse = errors.New("the AI model did not provide a valid response")

// StatusError carries the HTTP status a provider answered with. Adapters wrap
// vendor API errors in it so callers never inspect vendor error types.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string { return e.Err.Error() }

func (e *StatusError) Unwrap() error { return e.Err }

// Permanent reports client errors that a retry cannot fix (authentication,
// permissions, unknown model, malformed request). Timeouts, conflicts and
// rate limits stay retryable.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Request captures the normalized model input.
type Request struct {
	Model        string `json:"model,omitempty"` // Overrides the adapter's default model id
	Instructions string `json:"instructions,omitempty"`
	Prompt       string `json:"prompt"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", ...
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "deepseek", "anthropic", "google", ...
}

// Model is the minimal interface required by the gateway to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate call and returns the final response. An empty
// final text is reported as ErrEmptyResponse.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final   Response
		partial strings.Builder
		got     bool
	)
	for r := range respCh {
		if r.Partial {
			partial.WriteString(r.Text)
			continue
		}
		final = r
		got = true
	}
	if err := <-errCh; err != nil {
		return Response{}, err
	}
	if !got {
		final.Text = partial.String()
	}
	if strings.TrimSpace(final.Text) == "" {
		return Response{}, ErrEmptyResponse
	}
	return final, nil
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	calls     []Request
	onGen     func(ctx context.Context, req Request) (string, error)
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// OnGenerate installs a function computing the completion (or error) for
// prompts without a canned response.
func (m *MockModel) OnGenerate(fn func(ctx context.Context, req Request) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGen = fn
}

// Calls returns a snapshot of the requests received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// Generate implements Model; emits a single final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls = append(m.calls, req)
	full, ok := m.responses[req.Prompt]
	fn := m.onGen
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if !ok {
			if fn == nil {
				full = fmt.Sprintf("Mock response to: %s", req.Prompt)
			} else {
				var err error
				if full, err = fn(ctx, req); err != nil {
					errCh <- err
					return
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Text: full, FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
