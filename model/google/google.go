// Package google provides a model wrapper for the Gemini API using the
// google.golang.org/genai client library.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/simflow/model"
	"google.golang.org/genai"
)

// Options configures the Gemini model adapter.
type Options struct {
	Model          string
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
}

// Model wraps the Gemini generateContent API behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a Gemini client. Unlike the HTTP based adapters the
// vendor client validates its configuration eagerly, so construction may fail.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{Model: "gemini-2.0-flash"}
	for _, fn := range optFns {
		fn(&opts)
	}

	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions.BaseURL = opts.BaseURL
	}
	if opts.RequestTimeout > 0 {
		timeout := opts.RequestTimeout
		cc.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("google genai client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// Generate implements model.Model. Responses without parts are reported as
// model.ErrEmptyResponse instead of an empty string.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		name := m.opts.Model
		if req.Model != "" {
			name = req.Model
		}

		var cfg *genai.GenerateContentConfig
		if req.Instructions != "" {
			cfg = &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
			}
		}

		resp, err := m.client.Models.GenerateContent(ctx, name, genai.Text(req.Prompt), cfg)
		if err != nil {
			errCh <- fmt.Errorf("google genai error: %w", statusError(err))
			return
		}

		var (
			text   strings.Builder
			finish string
		)
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part != nil && !part.Thought {
					text.WriteString(part.Text)
				}
			}
			finish = string(cand.FinishReason)
			break
		}
		if text.Len() == 0 {
			errCh <- fmt.Errorf("google: response has no parts: %w", model.ErrEmptyResponse)
			return
		}

		r := model.Response{ID: resp.ResponseID, Text: text.String(), FinishReason: finish}
		if u := resp.UsageMetadata; u != nil {
			r.Usage = &model.TokenUsage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
			}
		}
		out <- r
	}()

	return out, errCh
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "google"}
}

func statusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &model.StatusError{StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &model.StatusError{StatusCode: apiErrPtr.Code, Err: err}
	}
	return err
}
