package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/simflow/core"
)

// PingTimeout bounds a connectivity check.
const PingTimeout = 10 * time.Second

var defaultPingURLs = map[Provider]string{
	OpenAI:    "https://api.openai.com",
	DeepSeek:  "https://api.deepseek.com",
	Google:    "https://generativelanguage.googleapis.com",
	Anthropic: "https://api.anthropic.com",
}

// Ping checks that the provider's endpoint is reachable. Any HTTP response
// counts as reachable; credentials are not verified.
func (g *Gateway) Ping(ctx context.Context, provider string) error {
	p, err := ParseProvider(provider)
	if err != nil {
		return err
	}

	url := defaultPingURLs[p]
	if u, ok := g.opts.PingURLs[p]; ok && u != "" {
		url = u
	}

	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.Errorf(core.KindProviderError, "Connection to %s failed: %w", p, err)
	}
	resp, err := g.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return core.Errorf(core.KindProviderTimeout, "Connection to %s timed out after %s", p, PingTimeout)
		}
		return core.Errorf(core.KindProviderError, "Connection to %s failed: %w", p, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	g.opts.Logger.Info("Provider reachable", "provider", string(p), "status", resp.StatusCode)
	return nil
}
