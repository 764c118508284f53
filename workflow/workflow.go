// Package workflow runs the five step engineering pipeline:
//
//	Modeling → ModelReview → ScriptGeneration → Execution → Analysis → Done
//
// Steps one to three and five are single gateway calls whose prompts are
// built from the previous step's output and the serialized parameter set.
// Step four hands the generated script to the solver selected by the
// request's SolverPreference. Any failure aborts the run: no step is
// retried, nothing is substituted, and Analysis never runs after a failed
// execution.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/simflow/config"
	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/gateway"
	"github.com/hupe1980/simflow/logging"
	"github.com/hupe1980/simflow/prompt"
	"github.com/hupe1980/simflow/solver"
)

// Request describes one pipeline run.
type Request struct {
	Provider         string
	Model            string
	Problem          string
	Parameters       core.ParameterSet
	SolverPreference core.SolverPreference
	DataFile         string

	// Iteration tags emitted events when the run is driven by the
	// optimization loop. Zero for standalone runs.
	Iteration int
}

// Runner is implemented by Orchestrator and consumed by the optimization loop.
type Runner interface {
	Run(ctx context.Context, req Request) (*core.WorkflowResult, error)
}

// Options configure an Orchestrator.
type Options struct {
	// Renderer builds step prompts. Defaults to the built-in templates.
	Renderer prompt.Renderer
	// Solvers builds a fresh solver agent per run. Defaults to agents
	// configured from config.Default().
	Solvers  solver.Factory
	Logger   logging.Logger
	Observer core.Observer
}

// Orchestrator runs the pipeline. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	caller gateway.Caller
	opts   Options
}

var _ Runner = (*Orchestrator)(nil)

// New creates an Orchestrator calling AI providers through caller.
func New(caller gateway.Caller, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Renderer == nil {
		opts.Renderer = prompt.NewTemplateRenderer()
	}
	if opts.Solvers == nil {
		opts.Solvers = solver.NewFactory(config.Default(), opts.Logger)
	}
	return &Orchestrator{caller: caller, opts: opts}
}

// run carries the state of a single pipeline execution.
type run struct {
	id     string
	req    Request
	params string
	steps  int
}

// Run executes the pipeline once. On failure the returned error is a
// *core.Error whose Stage names the failed step, or a wrapped context error
// when ctx ended.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*core.WorkflowResult, error) {
	pref, err := core.ParseSolverPreference(string(req.SolverPreference))
	if err != nil {
		return nil, err
	}
	req.SolverPreference = pref
	if strings.TrimSpace(req.Problem) == "" {
		return nil, core.NewError(core.KindInvalidRequest, "problem must not be empty")
	}

	params, err := req.Parameters.JSON()
	if err != nil {
		return nil, core.Errorf(core.KindInvalidRequest, "parameters: %w", err)
	}

	r := &run{id: core.NewID(), req: req, params: params}
	start := time.Now()

	res, err := o.pipeline(ctx, r)
	logging.LogWorkflow(o.opts.Logger, r.id, r.steps, time.Since(start), err)
	if err != nil {
		o.emit(r, core.StageAborted, core.StepFailed, 0, err.Error())
		return nil, err
	}
	o.emit(r, core.StageDone, core.StepCompleted, time.Since(start), "")
	return res, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, r *run) (*core.WorkflowResult, error) {
	modeling, err := o.step(ctx, r, core.StageModeling, func() (string, error) {
		return o.generate(ctx, r, prompt.Modeling, map[string]string{
			"problem":    r.req.Problem,
			"parameters": r.params,
		})
	})
	if err != nil {
		return nil, err
	}

	review, err := o.step(ctx, r, core.StageModelReview, func() (string, error) {
		return o.generate(ctx, r, prompt.ModelReview, map[string]string{
			"modeling_result": modeling,
		})
	})
	if err != nil {
		return nil, err
	}

	script, err := o.step(ctx, r, core.StageScriptGeneration, func() (string, error) {
		text, err := o.generate(ctx, r, prompt.SimulationScript(r.req.SolverPreference), map[string]string{
			"modeling_result": modeling,
			"parameters":      r.params,
		})
		return prompt.StripCodeFence(text), err
	})
	if err != nil {
		return nil, err
	}

	var exec core.ExecutionResult
	if _, err := o.step(ctx, r, core.StageExecution, func() (string, error) {
		var err error
		exec, err = o.execute(ctx, r, script)
		return exec.Output, err
	}); err != nil {
		return nil, err
	}

	analysis, err := o.step(ctx, r, core.StageAnalysis, func() (string, error) {
		return o.generate(ctx, r, prompt.Analysis, map[string]string{
			"solver": string(r.req.SolverPreference),
			"output": exec.Output,
		})
	})
	if err != nil {
		return nil, err
	}

	return &core.WorkflowResult{
		RunID:             r.id,
		ModelingResult:    modeling,
		ModelReviewResult: review,
		SimulationScript:  script,
		ExecutionResult:   exec,
		AnalysisResult:    analysis,
	}, nil
}

// step wraps fn with events and attributes a failure to stage.
func (o *Orchestrator) step(ctx context.Context, r *run, stage core.Stage, fn func() (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s step not started: %w", stage, err)
	}

	r.steps++
	o.emit(r, stage, core.StepStarted, 0, "")
	start := time.Now()

	out, err := fn()
	if err != nil {
		o.emit(r, stage, core.StepFailed, time.Since(start), err.Error())
		var ce *core.Error
		if errors.As(err, &ce) {
			return "", ce.WithStage(stage)
		}
		return "", fmt.Errorf("%s step failed: %w", stage, err)
	}

	o.emit(r, stage, core.StepCompleted, time.Since(start), "")
	return out, nil
}

func (o *Orchestrator) generate(ctx context.Context, r *run, templateID string, fields map[string]string) (string, error) {
	p, err := o.opts.Renderer.Render(templateID, fields)
	if err != nil {
		return "", err
	}
	return o.caller.Call(ctx, r.req.Provider, r.req.Model, p)
}

// execute runs the script on a fresh solver agent and turns an unsuccessful
// result into the matching error kind.
func (o *Orchestrator) execute(ctx context.Context, r *run, script string) (core.ExecutionResult, error) {
	agent, err := o.opts.Solvers(r.req.SolverPreference)
	if err != nil {
		return core.ExecutionResult{}, err
	}

	res := agent.Run(ctx, solver.Request{
		Code:       script,
		Parameters: r.req.Parameters.Clone(),
		DataFile:   r.req.DataFile,
	})
	if res.Success {
		return res, nil
	}
	return res, executionError(r.req.SolverPreference, res)
}

func executionError(pref core.SolverPreference, res core.ExecutionResult) *core.Error {
	msg := fmt.Sprintf("%s execution failed: %s", pref, res.Error)

	if res.Outcome == core.OutcomeEnvironmentUnavailable {
		if pref == core.SolverPython {
			return core.NewError(core.KindSandboxUnavailable, msg).
				WithHint("ensure Docker is installed and running")
		}
		return core.NewError(core.KindSolverEnvironmentInvalid, msg).
			WithHint(fmt.Sprintf("check the %s executable path and license server", pref))
	}
	return core.NewError(core.KindExecutionFailure, msg).
		WithHint("inspect the generated script and the solver output")
}

func (o *Orchestrator) emit(r *run, stage core.Stage, status core.StepStatus, d time.Duration, msg string) {
	o.opts.Logger.Debug("Workflow step", "run_id", r.id, "stage", string(stage), "status", string(status), "duration", d)
	if o.opts.Observer == nil {
		return
	}
	ev := core.NewStepEvent(r.id, stage, status)
	ev.Iteration = r.req.Iteration
	ev.Duration = d
	ev.Message = msg
	o.opts.Observer(ev)
}
