package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/logging"
)

// Session is a live engine workspace. It is owned by exactly one Run.
type Session interface {
	SetVariable(ctx context.Context, name string, value any) error
	Eval(ctx context.Context, code string) (string, error)
	Close() error
}

// SessionStarter creates engine sessions.
type SessionStarter interface {
	Start(ctx context.Context) (Session, error)
}

// SessionStarterFunc adapts a function to SessionStarter.
type SessionStarterFunc func(ctx context.Context) (Session, error)

// Start implements SessionStarter.
func (f SessionStarterFunc) Start(ctx context.Context) (Session, error) { return f(ctx) }

// EngineOptions configure the MATLAB solver.
type EngineOptions struct {
	ExecutablePath string
	LicenseServer  string
	StartTimeout   time.Duration
	// Starter overrides the process backed default.
	Starter SessionStarter
	Logger  logging.Logger
}

// EngineAgent evaluates code in a MATLAB session that lives for a single run.
type EngineAgent struct {
	opts EngineOptions
}

var _ Agent = (*EngineAgent)(nil)

// NewEngineAgent creates a MATLAB agent.
func NewEngineAgent(optFns ...func(o *EngineOptions)) *EngineAgent {
	opts := EngineOptions{
		ExecutablePath: "matlab",
		StartTimeout:   60 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 60 * time.Second
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Starter == nil {
		opts.Starter = &ProcessStarter{
			ExecutablePath: opts.ExecutablePath,
			LicenseServer:  opts.LicenseServer,
		}
	}
	return &EngineAgent{opts: opts}
}

// Kind implements Agent.
func (a *EngineAgent) Kind() core.SolverPreference { return core.SolverMATLAB }

// SelfCheck starts and stops a session to validate executable and license.
func (a *EngineAgent) SelfCheck(ctx context.Context) (bool, string) {
	s, msg := a.start(ctx)
	if s == nil {
		return false, msg
	}
	if err := s.Close(); err != nil {
		a.opts.Logger.Warn("MATLAB session close failed", "error", err.Error())
	}
	return true, "MATLAB connection successful"
}

func (a *EngineAgent) start(ctx context.Context) (Session, string) {
	if a.opts.ExecutablePath == "" {
		return nil, "MATLAB executable path not configured"
	}

	startCtx, cancel := context.WithTimeout(ctx, a.opts.StartTimeout)
	defer cancel()

	s, err := a.opts.Starter.Start(startCtx)
	if err != nil {
		return nil, fmt.Sprintf("MATLAB license check failed: %v", err)
	}
	return s, ""
}

// Run starts a session, injects the parameters, evaluates the code and tears
// the session down on every path. The session start doubles as the
// environment check.
func (a *EngineAgent) Run(ctx context.Context, req Request) core.ExecutionResult {
	start := time.Now()

	s, msg := a.start(ctx)
	if s == nil {
		return report(a.opts.Logger, a.Kind(), start, core.Unavailable("Failed to start MATLAB engine: "+msg))
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.opts.Logger.Warn("MATLAB session close failed", "error", err.Error())
		}
	}()

	return report(a.opts.Logger, a.Kind(), start, a.eval(ctx, s, req))
}

func (a *EngineAgent) eval(ctx context.Context, s Session, req Request) core.ExecutionResult {
	code, err := req.source()
	if err != nil {
		return core.ExecutionFailed("", err.Error())
	}

	for _, k := range sortedKeys(req.Parameters) {
		if err := s.SetVariable(ctx, k, req.Parameters[k]); err != nil {
			return core.ExecutionFailed("", fmt.Sprintf("set variable %s: %v", k, err))
		}
	}

	out, err := s.Eval(ctx, code)
	if err != nil {
		return core.ExecutionFailed(out, err.Error())
	}
	return core.Completed(out)
}
