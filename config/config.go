// Package config holds the process-wide, read-only configuration of simflow:
// provider credentials, solver executable paths and license servers. A Config
// value is built once at process start and passed explicitly into every
// component constructor.
package config

import (
	"os"
	"time"

	"github.com/hupe1980/simflow/core"
)

// Provider names as used in configuration files.
const (
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
)

// ProviderConfig holds the credentials and limits of one AI provider.
type ProviderConfig struct {
	APIKey            string
	BaseURL           string
	DefaultModel      string
	RequestsPerMinute float64 // 0 disables client-side rate limiting
}

// Configured reports whether the provider has credentials.
func (p ProviderConfig) Configured() bool { return p.APIKey != "" }

// ProvidersConfig groups the closed set of supported providers.
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	DeepSeek  ProviderConfig
	Google    ProviderConfig
	Anthropic ProviderConfig
}

// ByName returns the configuration of a provider and whether the name is known.
func (p *ProvidersConfig) ByName(name string) (*ProviderConfig, bool) {
	switch name {
	case ProviderOpenAI:
		return &p.OpenAI, true
	case ProviderDeepSeek:
		return &p.DeepSeek, true
	case ProviderGoogle:
		return &p.Google, true
	case ProviderAnthropic:
		return &p.Anthropic, true
	}
	return nil, false
}

// SandboxConfig configures the container runtime of the python solver.
type SandboxConfig struct {
	Runtime      string // container CLI, e.g. docker or podman
	Image        string
	Memory       string // passed to --memory when set
	CPUs         string // passed to --cpus when set
	CheckTimeout time.Duration
}

// EngineConfig configures the MATLAB engine session solver.
type EngineConfig struct {
	ExecutablePath string
	LicenseServer  string
	StartTimeout   time.Duration
}

// ExecutableConfig configures the Abaqus executable solver.
type ExecutableConfig struct {
	ExecutablePath string
	LicenseServer  string
	VersionTimeout time.Duration
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string // json, text or pretty
}

// Config is the complete process configuration.
type Config struct {
	Providers       ProvidersConfig
	ProviderTimeout time.Duration
	Sandbox         SandboxConfig
	MATLAB          EngineConfig
	Abaqus          ExecutableConfig
	PromptDir       string // optional directory of *.tmpl overrides
	Log             LogConfig
}

// Default returns a configuration with the documented defaults and no
// credentials.
func Default() Config {
	return Config{
		ProviderTimeout: 120 * time.Second,
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{DefaultModel: "gpt-4o-mini"},
			DeepSeek:  ProviderConfig{DefaultModel: "deepseek-chat"},
			Google:    ProviderConfig{DefaultModel: "gemini-2.0-flash"},
			Anthropic: ProviderConfig{DefaultModel: "claude-3-5-sonnet-20241022"},
		},
		Sandbox: SandboxConfig{
			Runtime:      "docker",
			Image:        "python:3.9-slim",
			CheckTimeout: 15 * time.Second,
		},
		MATLAB: EngineConfig{
			ExecutablePath: "matlab",
			StartTimeout:   60 * time.Second,
		},
		Abaqus: ExecutableConfig{
			VersionTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// envKeys maps providers to the environment variables holding their keys.
var envKeys = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderDeepSeek:  "DEEPSEEK_API_KEY",
	ProviderGoogle:    "GEMINI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// FromEnv fills provider keys that are still empty from the environment.
func FromEnv(c Config) Config {
	return fromLookup(c, os.LookupEnv)
}

func fromLookup(c Config, lookup func(string) (string, bool)) Config {
	for name, env := range envKeys {
		p, _ := c.Providers.ByName(name)
		if p.APIKey != "" {
			continue
		}
		if v, ok := lookup(env); ok {
			p.APIKey = v
		}
	}
	return c
}

// Validate checks invariants that would otherwise fail late at call time.
func (c Config) Validate() error {
	if c.ProviderTimeout <= 0 {
		return core.NewError(core.KindInvalidConfig, "provider timeout must be positive")
	}
	if c.Sandbox.Runtime == "" {
		return core.NewError(core.KindInvalidConfig, "sandbox runtime must not be empty").
			WithHint("set sandbox.runtime to docker or podman")
	}
	if c.Sandbox.Image == "" {
		return core.NewError(core.KindInvalidConfig, "sandbox image must not be empty")
	}
	for _, name := range []string{ProviderOpenAI, ProviderDeepSeek, ProviderGoogle, ProviderAnthropic} {
		p, _ := c.Providers.ByName(name)
		if p.RequestsPerMinute < 0 {
			return core.Errorf(core.KindInvalidConfig, "provider %s: requests_per_minute must not be negative", name)
		}
	}
	return nil
}

// Load builds a Config from the defaults, an optional HCL file and the
// environment, in that order of precedence (environment fills only gaps).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg = FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
