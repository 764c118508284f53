package gateway

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/simflow/config"
	"github.com/hupe1980/simflow/logging"
	"github.com/hupe1980/simflow/model"
	"github.com/hupe1980/simflow/model/anthropic"
	"github.com/hupe1980/simflow/model/google"
	"github.com/hupe1980/simflow/model/openai"
)

// NewFromConfig builds a Gateway with one adapter per provider that has
// credentials in cfg.
func NewFromConfig(ctx context.Context, cfg config.Config, logger logging.Logger) (*Gateway, error) {
	models := make(map[Provider]model.Model)
	rpm := make(map[Provider]float64)
	ping := make(map[Provider]string)

	for _, p := range Providers() {
		pc, _ := cfg.Providers.ByName(string(p))
		if !pc.Configured() {
			continue
		}
		m, err := newModel(ctx, p, *pc, cfg)
		if err != nil {
			return nil, err
		}
		models[p] = m
		rpm[p] = pc.RequestsPerMinute
		if pc.BaseURL != "" {
			ping[p] = pc.BaseURL
		}
	}

	return New(models, func(o *Options) {
		o.Timeout = cfg.ProviderTimeout
		o.Logger = logger
		o.RequestsPerMinute = rpm
		o.PingURLs = ping
	}), nil
}

func newModel(ctx context.Context, p Provider, pc config.ProviderConfig, cfg config.Config) (model.Model, error) {
	switch p {
	case OpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = pc.APIKey
			o.BaseURL = pc.BaseURL
			o.Model = pc.DefaultModel
			o.RequestTimeout = cfg.ProviderTimeout
		}), nil
	case DeepSeek:
		return openai.NewDeepSeekModel(func(o *openai.Options) {
			o.APIKey = pc.APIKey
			if pc.BaseURL != "" {
				o.BaseURL = pc.BaseURL
			}
			o.Model = pc.DefaultModel
			o.RequestTimeout = cfg.ProviderTimeout
		}), nil
	case Google:
		m, err := google.NewModel(ctx, func(o *google.Options) {
			o.APIKey = pc.APIKey
			o.BaseURL = pc.BaseURL
			o.Model = pc.DefaultModel
			o.RequestTimeout = cfg.ProviderTimeout
		})
		if err != nil {
			return nil, fmt.Errorf("configure %s: %w", p, err)
		}
		return m, nil
	case Anthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = pc.APIKey
			o.BaseURL = pc.BaseURL
			o.Model = anthropicsdk.Model(pc.DefaultModel)
			o.RequestTimeout = cfg.ProviderTimeout
		}), nil
	}
	return nil, fmt.Errorf("unsupported provider %s", p)
}
