package solver

import (
	"github.com/hupe1980/simflow/config"
	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/logging"
)

// Factory builds a fresh agent for one run.
type Factory func(pref core.SolverPreference) (Agent, error)

// NewFactory returns a Factory bound to cfg.
func NewFactory(cfg config.Config, logger logging.Logger) Factory {
	return func(pref core.SolverPreference) (Agent, error) {
		return New(pref, cfg, logger)
	}
}

// New builds the agent variant selected by pref.
func New(pref core.SolverPreference, cfg config.Config, logger logging.Logger) (Agent, error) {
	if err := pref.Validate(); err != nil {
		return nil, err
	}

	switch pref {
	case core.SolverMATLAB:
		return NewEngineAgent(func(o *EngineOptions) {
			o.ExecutablePath = cfg.MATLAB.ExecutablePath
			o.LicenseServer = cfg.MATLAB.LicenseServer
			o.StartTimeout = cfg.MATLAB.StartTimeout
			o.Logger = logger
		}), nil
	case core.SolverAbaqus:
		return NewExecutableAgent(func(o *ExecutableOptions) {
			o.ExecutablePath = cfg.Abaqus.ExecutablePath
			o.LicenseServer = cfg.Abaqus.LicenseServer
			o.VersionTimeout = cfg.Abaqus.VersionTimeout
			o.Logger = logger
		}), nil
	default:
		return NewSandboxAgent(func(o *SandboxOptions) {
			o.Runtime = cfg.Sandbox.Runtime
			o.Image = cfg.Sandbox.Image
			o.Memory = cfg.Sandbox.Memory
			o.CPUs = cfg.Sandbox.CPUs
			o.CheckTimeout = cfg.Sandbox.CheckTimeout
			o.Logger = logger
		}), nil
	}
}
