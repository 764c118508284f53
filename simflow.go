// Package simflow provides a high-level façade over the engineering
// simulation pipeline. Most applications interact with this package by:
//  1. Loading a config.Config (config.Load) once at process start
//  2. Creating a SimFlow via New
//  3. Calling RunWorkflow or RunOptimization per request
//
// The façade wires the provider gateway, prompt renderer, solver factory,
// workflow orchestrator, optimization loop and report generator from one
// explicit configuration value. Independent requests may run concurrently; the
// number of simultaneous runs is bounded by Options.MaxConcurrentRuns.
package simflow

import (
	"context"
	"fmt"

	"github.com/hupe1980/simflow/config"
	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/gateway"
	"github.com/hupe1980/simflow/logging"
	"github.com/hupe1980/simflow/optimize"
	"github.com/hupe1980/simflow/prompt"
	"github.com/hupe1980/simflow/report"
	"github.com/hupe1980/simflow/solver"
	"github.com/hupe1980/simflow/workflow"
)

// DefaultMaxConcurrentRuns bounds simultaneous workflow and optimization runs.
const DefaultMaxConcurrentRuns = 10

// Options configures the SimFlow instance.
type Options struct {
	// MaxConcurrentRuns limits how many workflow or optimization runs may
	// execute at once. Callers beyond the limit wait. Set to 0 for unlimited.
	MaxConcurrentRuns int

	// Caller replaces the provider gateway built from the configuration.
	// Useful for tests and for routing calls through a proxy.
	Caller gateway.Caller

	// Renderer replaces the built-in prompt templates. When nil and the
	// configuration names a prompt directory, its *.tmpl files override
	// the built-ins.
	Renderer prompt.Renderer

	// Solvers replaces the configuration based solver factory.
	Solvers solver.Factory

	// Observer receives pipeline step events.
	Observer core.Observer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// SimFlow aggregates the pipeline components built from one configuration.
type SimFlow struct {
	cfg     config.Config
	opts    Options
	gateway *gateway.Gateway
	orch    *workflow.Orchestrator
	loop    *optimize.Loop
	reports *report.Generator
	slots   chan struct{}
}

// New validates cfg and wires all components.
func New(ctx context.Context, cfg config.Config, optFns ...func(o *Options)) (*SimFlow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := Options{MaxConcurrentRuns: DefaultMaxConcurrentRuns}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	s := &SimFlow{cfg: cfg, opts: opts}

	if opts.Caller == nil {
		gw, err := gateway.NewFromConfig(ctx, cfg, opts.Logger)
		if err != nil {
			return nil, err
		}
		s.gateway = gw
		opts.Caller = gw
	}

	if opts.Renderer == nil {
		r := prompt.NewTemplateRenderer()
		if cfg.PromptDir != "" {
			if err := r.LoadDir(cfg.PromptDir); err != nil {
				return nil, core.Errorf(core.KindInvalidConfig, "load prompts: %w", err)
			}
		}
		opts.Renderer = r
	}

	if opts.Solvers == nil {
		opts.Solvers = solver.NewFactory(cfg, opts.Logger)
	}

	s.orch = workflow.New(opts.Caller, func(o *workflow.Options) {
		o.Renderer = opts.Renderer
		o.Solvers = opts.Solvers
		o.Logger = opts.Logger
		o.Observer = opts.Observer
	})
	s.loop = optimize.New(s.orch, opts.Caller, func(o *optimize.Options) {
		o.Renderer = opts.Renderer
		o.Logger = opts.Logger
		o.Observer = opts.Observer
	})

	s.reports = report.New(opts.Caller, func(o *report.Options) {
		o.Renderer = opts.Renderer
		o.Logger = opts.Logger
	})

	if opts.MaxConcurrentRuns > 0 {
		s.slots = make(chan struct{}, opts.MaxConcurrentRuns)
	}
	s.opts = opts
	return s, nil
}

// acquire blocks until a run slot is free or ctx ends.
func (s *SimFlow) acquire(ctx context.Context) (func(), error) {
	if s.slots == nil {
		return func() {}, nil
	}
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for a run slot: %w", ctx.Err())
	}
}

// RunWorkflow runs the five step pipeline once.
func (s *SimFlow) RunWorkflow(ctx context.Context, req workflow.Request) (*core.WorkflowResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.orch.Run(ctx, req)
}

// RunOptimization runs the optimization loop. On abort the partial result is
// returned together with the error.
func (s *SimFlow) RunOptimization(ctx context.Context, req optimize.Request) (*core.OptimizationResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.loop.Run(ctx, req)
}

// GenerateReport writes a LaTeX report of a finished run.
func (s *SimFlow) GenerateReport(ctx context.Context, req report.Request) (string, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return s.reports.Generate(ctx, req)
}

// Execute runs code on a fresh solver agent outside the pipeline. The
// error reports invalid preferences only; solver failures are carried in the
// result's Outcome.
func (s *SimFlow) Execute(ctx context.Context, pref core.SolverPreference, req solver.Request) (core.ExecutionResult, error) {
	agent, err := s.Solver(pref)
	if err != nil {
		return core.ExecutionResult{}, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return core.ExecutionResult{}, err
	}
	defer release()
	return agent.Run(ctx, req), nil
}

// Solver builds a fresh solver agent for direct use.
func (s *SimFlow) Solver(pref core.SolverPreference) (solver.Agent, error) {
	return s.opts.Solvers(pref)
}

// SelfCheck verifies the environment of one solver backend.
func (s *SimFlow) SelfCheck(ctx context.Context, pref core.SolverPreference) (bool, string, error) {
	agent, err := s.Solver(pref)
	if err != nil {
		return false, "", err
	}
	ok, msg := agent.SelfCheck(ctx)
	return ok, msg, nil
}

// Ping checks that a provider endpoint is reachable.
func (s *SimFlow) Ping(ctx context.Context, provider string) error {
	if s.gateway == nil {
		return fmt.Errorf("ping %s: no provider gateway configured", provider)
	}
	return s.gateway.Ping(ctx, provider)
}

// Config returns the configuration the instance was built from.
func (s *SimFlow) Config() config.Config { return s.cfg }
