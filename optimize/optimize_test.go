package optimize

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/internal/testutil"
	"github.com/hupe1980/simflow/solver"
	"github.com/hupe1980/simflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proposalPrefix = "Optimization goal:"

// fakeRunner returns scripted analysis results and records requests.
type fakeRunner struct {
	mu       sync.Mutex
	analyses []string
	failAt   int
	failErr  error
	reqs     []workflow.Request
}

func (f *fakeRunner) Run(_ context.Context, req workflow.Request) (*core.WorkflowResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	req.Parameters["mutated_by_runner"] = true

	if n == f.failAt {
		return nil, f.failErr
	}
	i := n - 1
	if i >= len(f.analyses) {
		i = len(f.analyses) - 1
	}
	return &core.WorkflowResult{
		RunID:           core.NewID(),
		ExecutionResult: core.Completed("out"),
		AnalysisResult:  f.analyses[i],
	}, nil
}

func newRequest(iterations int) Request {
	return Request{
		Provider:          "deepseek",
		Model:             "deepseek-chat",
		Problem:           "minimize beam mass",
		InitialParameters: core.ParameterSet{"x": 1, "y": 5},
		SolverPreference:  core.SolverPython,
		OptimizationGoal:  "converged",
		MaxIterations:     iterations,
	}
}

func TestLoop_NeverConverges(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"stress too high"}}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, `{"x": 2}`)

	res, err := New(runner, caller).Run(context.Background(), newRequest(3))
	require.NoError(t, err)

	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, "Optimization goal not met after 3 iterations.", res.Message)
	assert.Len(t, res.History, 3)
	assert.Len(t, runner.reqs, 3)
	assert.LessOrEqual(t, caller.CallsWithPrefix(proposalPrefix), 3)
	for i, rec := range res.History {
		assert.Equal(t, i+1, rec.Iteration)
		assert.NotNil(t, rec.Result)
		assert.Empty(t, rec.Error)
	}
}

func TestLoop_ConvergesAtIterationK(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"stress 10", "stress 7", "stress 5, converged"}}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, `{"x": 2}`, `{"x": 3}`)

	res, err := New(runner, caller).Run(context.Background(), newRequest(5))
	require.NoError(t, err)

	assert.Equal(t, core.StatusSuccess, res.Status)
	assert.Equal(t, "Optimization goal met.", res.Message)
	assert.Len(t, res.History, 3)
	assert.Len(t, runner.reqs, 3)
	assert.Equal(t, 2, caller.CallsWithPrefix(proposalPrefix))
	assert.Equal(t, 3, runner.reqs[2].Iteration)
}

func TestLoop_MergeKeepsKeys(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"no", "no"}}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, `{"x": 2}`)

	res, err := New(runner, caller).Run(context.Background(), newRequest(2))
	require.NoError(t, err)
	require.Len(t, res.History, 2)

	assert.Equal(t, core.ParameterSet{"x": 1, "y": 5}, res.History[0].Parameters)
	assert.Equal(t, core.ParameterSet{"x": float64(2), "y": 5}, res.History[1].Parameters)
}

func TestLoop_HistoryIsSnapshot(t *testing.T) {
	initial := core.ParameterSet{"x": 1}
	runner := &fakeRunner{analyses: []string{"no"}}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, `{"z": 9}`)

	req := newRequest(2)
	req.InitialParameters = initial

	res, err := New(runner, caller).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, core.ParameterSet{"x": 1}, initial, "caller's parameters must not change")
	assert.NotContains(t, res.History[0].Parameters, "mutated_by_runner")
	assert.NotContains(t, res.History[0].Parameters, "z")
	assert.Contains(t, res.History[1].Parameters, "z")
}

func TestLoop_MalformedProposal(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"not yet"}}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, `{"x": 2}`, "increase x a little")

	res, err := New(runner, caller).Run(context.Background(), newRequest(5))

	require.ErrorIs(t, err, core.ErrOptimizationParseError)
	require.NotNil(t, res)
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Len(t, res.History, 2)
	assert.Len(t, runner.reqs, 2)
	assert.False(t, core.KindOf(err).Transient())
}

func TestLoop_ProposalMustBeObject(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"not yet"}}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, `[1, 2]`)

	res, err := New(runner, caller).Run(context.Background(), newRequest(3))

	assert.ErrorIs(t, err, core.ErrOptimizationParseError)
	assert.Len(t, res.History, 1)
}

func TestLoop_FencedProposal(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"no", "converged"}}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, "```json\n{\"x\": 4}\n```")

	res, err := New(runner, caller).Run(context.Background(), newRequest(3))
	require.NoError(t, err)

	assert.Equal(t, core.StatusSuccess, res.Status)
	assert.Equal(t, float64(4), res.History[1].Parameters["x"])
}

func TestLoop_WorkflowAbort(t *testing.T) {
	abort := core.NewError(core.KindSandboxUnavailable, "python execution failed: Docker not found").
		WithStage(core.StageExecution)
	runner := &fakeRunner{analyses: []string{"no"}, failAt: 2, failErr: abort}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, `{"x": 2}`)

	var events []core.StepEvent
	res, err := New(runner, caller, func(o *Options) {
		o.Observer = func(ev core.StepEvent) { events = append(events, ev) }
	}).Run(context.Background(), newRequest(5))

	require.ErrorIs(t, err, core.ErrSandboxUnavailable)
	require.Len(t, res.History, 2)
	assert.NotNil(t, res.History[0].Result)
	assert.Nil(t, res.History[1].Result)
	assert.Contains(t, res.History[1].Error, "Docker not found")
	assert.Contains(t, res.Message, "aborted at iteration 2")
	assert.Equal(t, 1, caller.CallsWithPrefix(proposalPrefix))

	require.Len(t, events, 2)
	assert.Equal(t, core.StepCompleted, events[0].Status)
	assert.Equal(t, core.StepFailed, events[1].Status)
	assert.Equal(t, 2, events[1].Iteration)
}

func TestLoop_ProposalCallError(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"no"}}
	caller := testutil.NewScriptedCaller().
		Fail(proposalPrefix, core.NewError(core.KindProviderTimeout, "no response"))

	res, err := New(runner, caller).Run(context.Background(), newRequest(4))

	assert.ErrorIs(t, err, core.ErrProviderTimeout)
	assert.Len(t, res.History, 1)
}

func TestLoop_Validation(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"converged"}}
	loop := New(runner, testutil.NewScriptedCaller())

	_, err := loop.Run(context.Background(), newRequest(-1))
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	req := newRequest(3)
	req.OptimizationGoal = ""
	_, err = loop.Run(context.Background(), req)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	req = newRequest(3)
	req.SolverPreference = "comsol"
	_, err = loop.Run(context.Background(), req)
	assert.ErrorIs(t, err, core.ErrInvalidSolverPreference)

	assert.Empty(t, runner.reqs)
}

func TestLoop_DefaultBudget(t *testing.T) {
	runner := &fakeRunner{analyses: []string{"no"}}
	caller := testutil.NewScriptedCaller().On(proposalPrefix, `{}`)

	res, err := New(runner, caller).Run(context.Background(), newRequest(0))
	require.NoError(t, err)
	assert.Len(t, res.History, DefaultMaxIterations)
}

func TestLoop_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{analyses: []string{"no"}}
	res, err := New(runner, testutil.NewScriptedCaller()).Run(ctx, newRequest(3))

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, res.History)
	assert.Empty(t, runner.reqs)
}

type staticAgent struct{ out string }

func (a staticAgent) Run(context.Context, solver.Request) core.ExecutionResult {
	return core.Completed(a.out)
}
func (staticAgent) SelfCheck(context.Context) (bool, string) { return true, "ok" }
func (staticAgent) Kind() core.SolverPreference              { return core.SolverPython }

func TestLoop_WithOrchestrator(t *testing.T) {
	caller := testutil.NewScriptedCaller().
		On(proposalPrefix, `{"thickness": 12}`).
		On("Problem:", "plate model").
		On("Solver:", "stress 240 MPa", "stress 180 MPa, converged").
		On("\nParameters:", "```python\nprint('stress')\n```").
		On("Modeling Result:", "review ok")

	orch := workflow.New(caller, func(o *workflow.Options) {
		o.Solvers = func(core.SolverPreference) (solver.Agent, error) {
			return staticAgent{out: "stress"}, nil
		}
	})

	req := newRequest(4)
	req.InitialParameters = core.ParameterSet{"thickness": 10}

	res, err := New(orch, caller).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, core.StatusSuccess, res.Status)
	require.Len(t, res.History, 2)
	assert.Equal(t, "print('stress')", res.History[0].Result.SimulationScript)
	assert.Equal(t, float64(12), res.History[1].Parameters["thickness"])
	assert.Equal(t, "stress 180 MPa, converged", res.History[1].Result.AnalysisResult)

	for _, c := range caller.Calls() {
		assert.Equal(t, "deepseek", c.Provider)
		assert.Equal(t, "deepseek-chat", c.Model)
	}
}
