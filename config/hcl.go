package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/hupe1980/simflow/core"
)

type fileConfig struct {
	ProviderTimeout string          `hcl:"provider_timeout,optional"`
	Providers       []providerBlock `hcl:"provider,block"`
	Sandbox         *sandboxBlock   `hcl:"sandbox,block"`
	MATLAB          *solverBlock    `hcl:"matlab,block"`
	Abaqus          *solverBlock    `hcl:"abaqus,block"`
	Prompts         *promptsBlock   `hcl:"prompts,block"`
	Log             *logBlock       `hcl:"log,block"`
}

type providerBlock struct {
	Name              string  `hcl:"name,label"`
	APIKey            string  `hcl:"api_key,optional"`
	BaseURL           string  `hcl:"base_url,optional"`
	Model             string  `hcl:"model,optional"`
	RequestsPerMinute float64 `hcl:"requests_per_minute,optional"`
}

type sandboxBlock struct {
	Runtime      string `hcl:"runtime,optional"`
	Image        string `hcl:"image,optional"`
	Memory       string `hcl:"memory,optional"`
	CPUs         string `hcl:"cpus,optional"`
	CheckTimeout string `hcl:"check_timeout,optional"`
}

type solverBlock struct {
	ExecutablePath string `hcl:"executable_path,optional"`
	LicenseServer  string `hcl:"license_server,optional"`
	Timeout        string `hcl:"timeout,optional"`
}

type promptsBlock struct {
	Dir string `hcl:"dir"`
}

type logBlock struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
}

// envFunc exposes env("NAME") to configuration files so secrets stay out of them.
var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{"env": envFunc},
	}
}

// LoadFile parses an HCL configuration file on top of Default().
func LoadFile(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, core.Errorf(core.KindInvalidConfig, "read config %s: %w", path, err)
	}
	cfg, err := Parse(src, path)
	if err != nil {
		return Config{}, err
	}
	// prompt dirs are relative to the file declaring them
	if cfg.PromptDir != "" && !filepath.IsAbs(cfg.PromptDir) {
		cfg.PromptDir = filepath.Join(filepath.Dir(path), cfg.PromptDir)
	}
	return cfg, nil
}

// Parse decodes HCL configuration source on top of Default(). filename is
// only used in diagnostics.
func Parse(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, core.Errorf(core.KindInvalidConfig, "failed to parse HCL file %s: %s", filename, diags.Error())
	}

	var fc fileConfig
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &fc); diags.HasErrors() {
		return Config{}, core.Errorf(core.KindInvalidConfig, "failed to decode HCL file %s: %s", filename, diags.Error())
	}

	cfg := Default()
	if err := fc.apply(&cfg); err != nil {
		return Config{}, core.Errorf(core.KindInvalidConfig, "%s: %w", filename, err)
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if err := setDuration(&cfg.ProviderTimeout, fc.ProviderTimeout, "provider_timeout"); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, b := range fc.Providers {
		p, ok := cfg.Providers.ByName(b.Name)
		if !ok {
			return fmt.Errorf("unknown provider %q", b.Name)
		}
		if seen[b.Name] {
			return fmt.Errorf("provider %q declared twice", b.Name)
		}
		seen[b.Name] = true
		setString(&p.APIKey, b.APIKey)
		setString(&p.BaseURL, b.BaseURL)
		setString(&p.DefaultModel, b.Model)
		p.RequestsPerMinute = b.RequestsPerMinute
	}

	if s := fc.Sandbox; s != nil {
		setString(&cfg.Sandbox.Runtime, s.Runtime)
		setString(&cfg.Sandbox.Image, s.Image)
		setString(&cfg.Sandbox.Memory, s.Memory)
		setString(&cfg.Sandbox.CPUs, s.CPUs)
		if err := setDuration(&cfg.Sandbox.CheckTimeout, s.CheckTimeout, "sandbox.check_timeout"); err != nil {
			return err
		}
	}

	if m := fc.MATLAB; m != nil {
		setString(&cfg.MATLAB.ExecutablePath, m.ExecutablePath)
		setString(&cfg.MATLAB.LicenseServer, m.LicenseServer)
		if err := setDuration(&cfg.MATLAB.StartTimeout, m.Timeout, "matlab.timeout"); err != nil {
			return err
		}
	}

	if a := fc.Abaqus; a != nil {
		setString(&cfg.Abaqus.ExecutablePath, a.ExecutablePath)
		setString(&cfg.Abaqus.LicenseServer, a.LicenseServer)
		if err := setDuration(&cfg.Abaqus.VersionTimeout, a.Timeout, "abaqus.timeout"); err != nil {
			return err
		}
	}

	if fc.Prompts != nil {
		cfg.PromptDir = fc.Prompts.Dir
	}

	if l := fc.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setString(&cfg.Log.Format, l.Format)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
