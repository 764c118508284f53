// Package gateway is the single call surface over the supported AI
// providers. It bounds every call, normalizes vendor failures into the
// core error taxonomy and never retries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/logging"
	"github.com/hupe1980/simflow/model"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 120 * time.Second

// Provider names one of the supported AI backends.
type Provider string

const (
	OpenAI    Provider = "openai"
	DeepSeek  Provider = "deepseek"
	Google    Provider = "google"
	Anthropic Provider = "anthropic"
)

// Providers returns the closed provider set.
func Providers() []Provider {
	return []Provider{OpenAI, DeepSeek, Google, Anthropic}
}

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers() {
		if p == known {
			return p, nil
		}
	}
	return "", core.Errorf(core.KindInvalidProvider, "invalid AI provider %q", s).
		WithHint("use one of openai, deepseek, google or anthropic")
}

func (p Provider) errorPrefix() string {
	switch p {
	case OpenAI:
		return "OpenAI API Error"
	case DeepSeek:
		return "DeepSeek API Error"
	case Google:
		return "Google GenAI Error"
	case Anthropic:
		return "Anthropic API Error"
	}
	return string(p) + " error"
}

// Caller is the narrow surface the workflow and the optimization loop use.
type Caller interface {
	Call(ctx context.Context, provider, model, prompt string) (string, error)
}

// Options configure a Gateway.
type Options struct {
	Timeout time.Duration
	Logger  logging.Logger
	// RequestsPerMinute enables client-side rate limiting per provider.
	RequestsPerMinute map[Provider]float64
	// PingURLs overrides the endpoints checked by Ping.
	PingURLs   map[Provider]string
	HTTPClient *http.Client
}

// Gateway dispatches prompts to provider models. It is safe for concurrent use.
type Gateway struct {
	models   map[Provider]model.Model
	limiters map[Provider]*rate.Limiter
	opts     Options
}

var _ Caller = (*Gateway)(nil)

// New creates a Gateway over the given provider models. Providers without a
// model are recognized but fail as not configured.
func New(models map[Provider]model.Model, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Timeout:    DefaultTimeout,
		HTTPClient: http.DefaultClient,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	g := &Gateway{
		models:   make(map[Provider]model.Model, len(models)),
		limiters: make(map[Provider]*rate.Limiter),
		opts:     opts,
	}
	for p, m := range models {
		g.models[p] = m
	}
	for p, rpm := range opts.RequestsPerMinute {
		if rpm > 0 {
			g.limiters[p] = rate.NewLimiter(rate.Limit(rpm/60), 1)
		}
	}
	return g
}

// Configured reports whether a model is registered for the provider.
func (g *Gateway) Configured(p Provider) bool {
	_, ok := g.models[p]
	return ok
}

// Call sends prompt to the provider and returns the generated text. An empty
// modelID selects the adapter's default model.
func (g *Gateway) Call(ctx context.Context, provider, modelID, prompt string) (string, error) {
	p, err := ParseProvider(provider)
	if err != nil {
		return "", err
	}

	m, ok := g.models[p]
	if !ok {
		return "", core.Errorf(core.KindProviderError, "%s: provider %s is not configured", p.errorPrefix(), p).
			WithHint(fmt.Sprintf("configure an API key for %s", p)).
			AsPermanent()
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	text, err := g.call(callCtx, p, m, modelID, prompt)
	logging.LogProviderCall(g.opts.Logger, string(p), modelID, time.Since(start), err)
	return text, err
}

func (g *Gateway) call(ctx context.Context, p Provider, m model.Model, modelID, prompt string) (string, error) {
	if lim, ok := g.limiters[p]; ok {
		if err := lim.Wait(ctx); err != nil {
			return "", g.normalize(ctx, p, err)
		}
	}

	resp, err := model.Collect(ctx, m, model.Request{Model: modelID, Prompt: prompt})
	if err != nil {
		return "", g.normalize(ctx, p, err)
	}
	return resp.Text, nil
}

// normalize maps vendor and transport failures onto the error taxonomy.
func (g *Gateway) normalize(ctx context.Context, p Provider, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.Errorf(core.KindProviderTimeout, "%s: no response within %s", p.errorPrefix(), g.opts.Timeout).
			WithHint("retry later or raise provider_timeout")
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s call canceled: %w", p, err)
	}
	// rate.Limiter reports a wait that cannot finish before the deadline
	// without returning DeadlineExceeded.
	if _, hasDeadline := ctx.Deadline(); hasDeadline && strings.Contains(err.Error(), "would exceed context deadline") {
		return core.Errorf(core.KindProviderTimeout, "%s: rate limit wait exceeds %s", p.errorPrefix(), g.opts.Timeout)
	}
	perr := core.Errorf(core.KindProviderError, "%s: %w", p.errorPrefix(), err)
	var se *model.StatusError
	if errors.As(err, &se) && se.Permanent() {
		return perr.WithHint("check the API key, model name and account permissions").AsPermanent()
	}
	return perr
}
