// Package optimize drives the workflow repeatedly with AI revised
// parameters until the analysis text contains the optimization goal or the
// iteration budget is spent.
//
// Convergence is a plain substring test on the analysis result, not a
// numeric criterion. Iterations are strictly sequential: iteration n+1 is
// planned from the result of iteration n.
package optimize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/gateway"
	"github.com/hupe1980/simflow/logging"
	"github.com/hupe1980/simflow/prompt"
	"github.com/hupe1980/simflow/workflow"
)

// DefaultMaxIterations applies when a request leaves MaxIterations at zero.
const DefaultMaxIterations = 5

// Request describes an optimization run.
type Request struct {
	Provider          string
	Model             string
	Problem           string
	InitialParameters core.ParameterSet
	SolverPreference  core.SolverPreference
	OptimizationGoal  string
	MaxIterations     int
	DataFile          string
}

// Options configure a Loop.
type Options struct {
	Renderer prompt.Renderer
	Logger   logging.Logger
	// Observer receives one event per finished iteration in addition to the
	// step events emitted by the workflow runner.
	Observer core.Observer
}

// Loop is the optimization controller. It keeps no state between runs.
type Loop struct {
	runner workflow.Runner
	caller gateway.Caller
	opts   Options
}

// New creates a Loop running workflows through runner and asking caller for
// parameter proposals.
func New(runner workflow.Runner, caller gateway.Caller, optFns ...func(o *Options)) *Loop {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Renderer == nil {
		opts.Renderer = prompt.NewTemplateRenderer()
	}
	return &Loop{runner: runner, caller: caller, opts: opts}
}

// Run performs at most MaxIterations workflow runs and proposal calls.
//
// Reaching the budget without meeting the goal is not an error: the result
// has StatusFailed and the full history. When a workflow run aborts, a
// proposal call fails or a proposal is not a JSON object, Run stops at once
// and returns the history accumulated so far together with the error.
func (l *Loop) Run(ctx context.Context, req Request) (*core.OptimizationResult, error) {
	budget, err := validate(&req)
	if err != nil {
		return nil, err
	}

	res := &core.OptimizationResult{
		RunID:   core.NewID(),
		Status:  core.StatusFailed,
		History: make([]core.IterationRecord, 0, budget),
	}
	proposals := core.NewCallLimiter("proposal", budget)
	current := req.InitialParameters.Clone()
	start := time.Now()

	for i := 1; i <= budget; i++ {
		if err := ctx.Err(); err != nil {
			return l.abort(res, i, fmt.Errorf("optimization canceled: %w", err))
		}

		l.opts.Logger.Info("Optimization iteration", "run_id", res.RunID, "iteration", i, "max_iterations", budget)

		wr, err := l.runner.Run(ctx, workflow.Request{
			Provider:         req.Provider,
			Model:            req.Model,
			Problem:          req.Problem,
			Parameters:       current.Clone(),
			SolverPreference: req.SolverPreference,
			DataFile:         req.DataFile,
			Iteration:        i,
		})

		rec := core.IterationRecord{Iteration: i, Parameters: current.Clone(), Result: wr}
		if err != nil {
			rec.Error = err.Error()
			rec.Result = nil
		}
		res.History = append(res.History, rec)
		l.emit(res.RunID, i, err)

		if err != nil {
			return l.abort(res, i, err)
		}

		if strings.Contains(wr.AnalysisResult, req.OptimizationGoal) {
			res.Status = core.StatusSuccess
			res.Message = "Optimization goal met."
			l.opts.Logger.Info("Optimization converged", "run_id", res.RunID, "iterations", i, "duration", time.Since(start))
			return res, nil
		}

		if i == budget {
			break
		}

		update, err := l.propose(ctx, req, proposals, wr, current)
		if err != nil {
			return l.abort(res, i, err)
		}
		current = current.Merge(update)
	}

	res.Message = fmt.Sprintf("Optimization goal not met after %d iterations.", budget)
	l.opts.Logger.Info("Optimization budget exhausted", "run_id", res.RunID, "iterations", budget, "duration", time.Since(start))
	return res, nil
}

func validate(req *Request) (int, error) {
	pref, err := core.ParseSolverPreference(string(req.SolverPreference))
	if err != nil {
		return 0, err
	}
	req.SolverPreference = pref

	if req.OptimizationGoal == "" {
		return 0, core.NewError(core.KindInvalidRequest, "optimization goal must not be empty")
	}
	switch {
	case req.MaxIterations < 0:
		return 0, core.Errorf(core.KindInvalidRequest, "max iterations must not be negative, got %d", req.MaxIterations)
	case req.MaxIterations == 0:
		return DefaultMaxIterations, nil
	}
	return req.MaxIterations, nil
}

// propose asks the provider for a parameter revision and parses it.
func (l *Loop) propose(ctx context.Context, req Request, limiter *core.CallLimiter, wr *core.WorkflowResult, current core.ParameterSet) (core.ParameterSet, error) {
	if err := limiter.Increment(); err != nil {
		return nil, err
	}

	results, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("encode simulation results: %w", err)
	}
	params, err := current.JSON()
	if err != nil {
		return nil, err
	}

	p, err := l.opts.Renderer.Render(prompt.OptimizeParameters, map[string]string{
		"optimization_goal":  req.OptimizationGoal,
		"simulation_results": string(results),
		"current_parameters": params,
	})
	if err != nil {
		return nil, err
	}

	text, err := l.caller.Call(ctx, req.Provider, req.Model, p)
	if err != nil {
		return nil, err
	}

	update, err := core.ParseParameterSet(prompt.StripCodeFence(text))
	if err != nil {
		return nil, core.Errorf(core.KindOptimizationParseError, "Failed to decode the new parameters from the AI: %w", err).
			WithHint("the proposal must be a single JSON object of parameter names to values")
	}
	return update, nil
}

func (l *Loop) abort(res *core.OptimizationResult, iteration int, err error) (*core.OptimizationResult, error) {
	res.Status = core.StatusFailed
	res.Message = fmt.Sprintf("Optimization aborted at iteration %d: %v", iteration, err)
	l.opts.Logger.Error("Optimization aborted", "run_id", res.RunID, "iteration", iteration, "error", err.Error())
	return res, err
}

func (l *Loop) emit(runID string, iteration int, err error) {
	if l.opts.Observer == nil {
		return
	}
	status := core.StepCompleted
	msg := ""
	if err != nil {
		status = core.StepFailed
		msg = err.Error()
	}
	ev := core.NewStepEvent(runID, core.StageIteration, status)
	ev.Iteration = iteration
	ev.Message = msg
	l.opts.Observer(ev)
}
